package model

import "time"

// ContestStatus tracks the engine-relevant lifecycle: open, closed, finalized.
type ContestStatus string

const (
	ContestOpen      ContestStatus = "open"
	ContestClosed    ContestStatus = "closed"
	ContestFinalized ContestStatus = "finalized"
)

// Contest links problems to a domain.
type Contest struct {
	ID          int64         `json:"id"`
	DomainID    int64         `json:"domain_id"`
	Status      ContestStatus `json:"status"`
	FinalizedAt *time.Time    `json:"finalized_at,omitempty"`
}

// Participation is one row per (candidate, contest).
type Participation struct {
	CandidateID int64      `json:"candidate_id"`
	ContestID   int64      `json:"contest_id"`
	Score       int        `json:"score"`
	ContestRank *int       `json:"contest_rank,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Performance is one row per (candidate, domain), written only by finalization.
type Performance struct {
	CandidateID    int64      `json:"candidate_id"`
	DomainID       int64      `json:"domain_id"`
	Rating         int        `json:"rating"`
	BaseRating     int        `json:"base_rating"`
	LastContestID  int64      `json:"last_contest_id"`
	LastActiveAt   time.Time  `json:"last_active_at"`
	CurrentRank    *int       `json:"current_rank,omitempty"`
	TierID         *int64     `json:"tier_id,omitempty"`
	TierAssignedAt *time.Time `json:"tier_assigned_at,omitempty"`
}

// Tier is a domain-scoped bucket; level 1 is the top.
type Tier struct {
	ID       int64  `json:"id"`
	DomainID int64  `json:"domain_id"`
	Level    int    `json:"level"`
	Name     string `json:"name"`
}
