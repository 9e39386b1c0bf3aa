package model

import "time"

// Event types published to the outbound topics.
const (
	EventSubmissionGraded     = "submission.graded"
	EventParticipationUpdated = "participation.updated"
	EventPerformanceUpdated   = "performance.updated"
	EventContestFinalized     = "contest.finalized"
	EventContestClosed        = "contest.closed"
)

// Event is the JSON envelope of every message.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	CreatedAt int64       `json:"created_at"`
}

// FinalizeResult summarizes one finalization run.
type FinalizeResult struct {
	ContestID           int64 `json:"contest_id"`
	DomainID            int64 `json:"domain_id"`
	RatingsUpdated      int   `json:"ratings_updated"`
	RanksUpdated        int   `json:"ranks_updated"`
	ContestRanksUpdated int   `json:"contest_ranks_updated"`
}

// ContestClosedEvent is consumed to trigger finalization.
type ContestClosedEvent struct {
	ContestID int64     `json:"contest_id"`
	ClosedAt  time.Time `json:"closed_at"`
}
