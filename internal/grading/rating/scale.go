// Package rating maps contest scores onto a bounded rating scale.
package rating

import (
	"math"

	appErr "assessengine/pkg/errors"
)

// Default rating bounds.
const (
	DefaultMin = 1000
	DefaultMax = 2000
)

// Scale bounds every rating produced by a policy.
type Scale struct {
	Min int `yaml:"ratingMin"`
	Max int `yaml:"ratingMax"`
}

// DefaultScale returns the 1000-2000 scale.
func DefaultScale() Scale {
	return Scale{Min: DefaultMin, Max: DefaultMax}
}

// Validate checks Min < Max.
func (s Scale) Validate() error {
	if s.Min >= s.Max {
		return appErr.Newf(appErr.InvalidRatingScale, "rating scale min %d must be below max %d", s.Min, s.Max)
	}
	return nil
}

// ContestScore is one candidate's total in the contest being rated.
type ContestScore struct {
	CandidateID int64
	Score       int
}

// Linear maps contest scores linearly so the lowest score gets Min and the highest Max.
// When every score is equal everyone gets Min.
func Linear(scale Scale, scores []ContestScore) map[int64]int {
	out := make(map[int64]int, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0].Score, scores[0].Score
	for _, s := range scores[1:] {
		if s.Score < lo {
			lo = s.Score
		}
		if s.Score > hi {
			hi = s.Score
		}
	}
	span := float64(scale.Max - scale.Min)
	for _, s := range scores {
		if hi == lo {
			out[s.CandidateID] = scale.Min
			continue
		}
		frac := float64(s.Score-lo) / float64(hi-lo)
		out[s.CandidateID] = scale.Min + int(math.Round(frac*span))
	}
	return out
}
