package ranking

import (
	"sort"
	"time"
)

// Entry is one candidate to rank. Higher Value ranks first; among equal
// values the more recent At ranks first.
type Entry struct {
	CandidateID int64
	Value       int
	At          time.Time
}

// Ranked is an entry with its dense rank.
type Ranked struct {
	Entry
	Rank int
}

// Placement is the rank and tier level assigned to a candidate.
type Placement struct {
	CandidateID int64
	Rank        int
	Level       int
}

// DenseRank orders entries and assigns contiguous ranks starting at 1.
// Only entries with identical (Value, At) share a rank. The input is not modified.
func DenseRank(entries []Entry) []Ranked {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		if !a.At.Equal(b.At) {
			return a.At.After(b.At)
		}
		return a.CandidateID < b.CandidateID
	})

	out := make([]Ranked, len(sorted))
	rank := 0
	for i, e := range sorted {
		if i == 0 || e.Value != sorted[i-1].Value || !e.At.Equal(sorted[i-1].At) {
			rank++
		}
		out[i] = Ranked{Entry: e, Rank: rank}
	}
	return out
}

// Assign ranks entries and buckets each rank with cutoffs.
func Assign(entries []Entry, cutoffs Cutoffs) []Placement {
	ranked := DenseRank(entries)
	out := make([]Placement, len(ranked))
	for i, r := range ranked {
		out[i] = Placement{CandidateID: r.CandidateID, Rank: r.Rank, Level: cutoffs.Level(r.Rank)}
	}
	return out
}
