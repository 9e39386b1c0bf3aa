package rating

import (
	"math"
	"sort"
	"strings"

	appErr "assessengine/pkg/errors"
)

// Policy names accepted by NewPolicy.
const (
	PolicyReplace     = "replace"
	PolicyIncremental = "incremental"
)

// DefaultIncrementalWeight is used when the incremental policy is configured without a weight.
const DefaultIncrementalWeight = 0.5

// Prior is a candidate's stored rating before this contest was applied.
type Prior struct {
	Rating        int
	BaseRating    int
	LastContestID int64
}

// Entry is one participant of the contest being rated.
type Entry struct {
	CandidateID int64
	Score       int
	// Prior is nil for a candidate without a rating in the domain.
	Prior *Prior
}

// Update is the rating a policy assigns to a candidate.
type Update struct {
	CandidateID int64
	Rating      int
	// BaseRating is the rating the update was derived from. Replaying the same
	// contest derives from it again instead of from Rating.
	BaseRating int
}

// Policy turns contest scores into ratings.
type Policy interface {
	Name() string
	Apply(contestID int64, scale Scale, entries []Entry) []Update
}

// NewPolicy resolves a policy by name. Weight only applies to the incremental policy.
func NewPolicy(name string, weight float64) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyReplace:
		return ReplacePolicy{}, nil
	case PolicyIncremental:
		if weight == 0 {
			weight = DefaultIncrementalWeight
		}
		if weight <= 0 || weight > 1 {
			return nil, appErr.Newf(appErr.InvalidParams, "incremental weight %v must be in (0, 1]", weight)
		}
		return IncrementalPolicy{Weight: weight}, nil
	default:
		return nil, appErr.Newf(appErr.RatingPolicyNotFound, "rating policy %q not found", name)
	}
}

// ReplacePolicy overwrites the rating with the contest's linear rating.
type ReplacePolicy struct{}

// Name implements Policy.
func (ReplacePolicy) Name() string { return PolicyReplace }

// Apply implements Policy.
func (ReplacePolicy) Apply(_ int64, scale Scale, entries []Entry) []Update {
	linear := Linear(scale, contestScores(entries))
	updates := make([]Update, 0, len(entries))
	for _, e := range entries {
		r := linear[e.CandidateID]
		updates = append(updates, Update{CandidateID: e.CandidateID, Rating: r, BaseRating: r})
	}
	return sortUpdates(updates)
}

// IncrementalPolicy moves the prior rating towards the contest's linear rating by Weight.
type IncrementalPolicy struct {
	Weight float64
}

// Name implements Policy.
func (IncrementalPolicy) Name() string { return PolicyIncremental }

// Apply implements Policy.
func (p IncrementalPolicy) Apply(contestID int64, scale Scale, entries []Entry) []Update {
	linear := Linear(scale, contestScores(entries))
	updates := make([]Update, 0, len(entries))
	for _, e := range entries {
		target := linear[e.CandidateID]
		if e.Prior == nil {
			updates = append(updates, Update{CandidateID: e.CandidateID, Rating: target, BaseRating: target})
			continue
		}
		base := e.Prior.Rating
		if e.Prior.LastContestID == contestID {
			base = e.Prior.BaseRating
		}
		r := base + int(math.Round(p.Weight*float64(target-base)))
		updates = append(updates, Update{CandidateID: e.CandidateID, Rating: clamp(r, scale), BaseRating: base})
	}
	return sortUpdates(updates)
}

func contestScores(entries []Entry) []ContestScore {
	scores := make([]ContestScore, len(entries))
	for i, e := range entries {
		scores[i] = ContestScore{CandidateID: e.CandidateID, Score: e.Score}
	}
	return scores
}

func clamp(v int, scale Scale) int {
	if v < scale.Min {
		return scale.Min
	}
	if v > scale.Max {
		return scale.Max
	}
	return v
}

func sortUpdates(updates []Update) []Update {
	sort.Slice(updates, func(i, j int) bool { return updates[i].CandidateID < updates[j].CandidateID })
	return updates
}
