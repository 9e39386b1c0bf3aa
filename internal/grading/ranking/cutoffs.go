// Package ranking orders candidates densely and buckets the ranks into tiers.
package ranking

import (
	"fmt"

	appErr "assessengine/pkg/errors"
)

// Cutoffs are strictly increasing rank ceilings. Rank r falls in level i+1 for the
// first ceiling i with r <= Cutoffs[i], and in level len(Cutoffs)+1 otherwise.
type Cutoffs []int

// DefaultCutoffs is the three-tier policy: ranks 1-10, 11-20, 21+.
func DefaultCutoffs() Cutoffs {
	return Cutoffs{10, 20}
}

// Validate checks the ceilings are positive and strictly increasing.
func (c Cutoffs) Validate() error {
	prev := 0
	for i, ceiling := range c {
		if ceiling <= prev {
			return appErr.Newf(appErr.InvalidTierCutoffs, "cutoff %d (%d) must be greater than %d", i, ceiling, prev)
		}
		prev = ceiling
	}
	return nil
}

// Levels is the number of tiers the cutoffs define.
func (c Cutoffs) Levels() int {
	return len(c) + 1
}

// Level returns the 1-based tier level for a 1-based rank.
func (c Cutoffs) Level(rank int) int {
	for i, ceiling := range c {
		if rank <= ceiling {
			return i + 1
		}
	}
	return len(c) + 1
}

// TierPolicy resolves the cutoffs for a domain.
type TierPolicy struct {
	Default Cutoffs
	Domains map[int64]Cutoffs
}

// NewTierPolicy validates every cutoff list. An empty default means DefaultCutoffs.
func NewTierPolicy(def Cutoffs, domains map[int64]Cutoffs) (*TierPolicy, error) {
	if len(def) == 0 {
		def = DefaultCutoffs()
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	for domainID, c := range domains {
		if err := c.Validate(); err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidTierCutoffs, "domain %d: %s", domainID, err.Error())
		}
	}
	return &TierPolicy{Default: def, Domains: domains}, nil
}

// For returns the cutoffs configured for domainID.
func (p *TierPolicy) For(domainID int64) Cutoffs {
	if c, ok := p.Domains[domainID]; ok && len(c) > 0 {
		return c
	}
	return p.Default
}

// ResolveTiers maps every level the cutoffs define to a tier id.
// A missing level is reported before anything is written.
func ResolveTiers(cutoffs Cutoffs, levels map[int]int64) (map[int]int64, error) {
	out := make(map[int]int64, cutoffs.Levels())
	for level := 1; level <= cutoffs.Levels(); level++ {
		id, ok := levels[level]
		if !ok {
			return nil, appErr.New(appErr.TierNotConfigured).WithMessage(fmt.Sprintf("tier level %d is not configured", level))
		}
		out[level] = id
	}
	return out, nil
}
