package ranking_test

import (
	"testing"
	"time"

	"assessengine/internal/grading/ranking"
	appErr "assessengine/pkg/errors"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestAssignDefaultTiersForTwentyFive(t *testing.T) {
	entries := make([]ranking.Entry, 25)
	for i := range entries {
		entries[i] = ranking.Entry{CandidateID: int64(i + 1), Value: 1000 + i*10, At: base}
	}
	placements := ranking.Assign(entries, ranking.DefaultCutoffs())

	counts := map[int]int{}
	for i, p := range placements {
		require.Equal(t, i+1, p.Rank)
		counts[p.Level]++
	}
	require.Equal(t, map[int]int{1: 10, 2: 10, 3: 5}, counts)
	require.Equal(t, int64(25), placements[0].CandidateID)
}

func TestDenseRankTies(t *testing.T) {
	later := base.Add(time.Hour)
	ranked := ranking.DenseRank([]ranking.Entry{
		{CandidateID: 4, Value: 1500, At: base},
		{CandidateID: 1, Value: 1800, At: base},
		{CandidateID: 3, Value: 1500, At: later},
		{CandidateID: 2, Value: 1500, At: base},
		{CandidateID: 5, Value: 1200, At: base},
	})

	got := make([][2]int64, len(ranked))
	for i, r := range ranked {
		got[i] = [2]int64{r.CandidateID, int64(r.Rank)}
	}
	require.Equal(t, [][2]int64{{1, 1}, {3, 2}, {2, 3}, {4, 3}, {5, 4}}, got)
}

func TestDenseRankIsContiguous(t *testing.T) {
	entries := []ranking.Entry{
		{CandidateID: 1, Value: 5, At: base},
		{CandidateID: 2, Value: 5, At: base},
		{CandidateID: 3, Value: 5, At: base},
		{CandidateID: 4, Value: 1, At: base},
	}
	ranked := ranking.DenseRank(entries)
	require.Equal(t, 2, ranked[3].Rank)
	require.Equal(t, int64(1), entries[0].CandidateID, "input must not be reordered")
}

func TestCutoffLevels(t *testing.T) {
	c := ranking.DefaultCutoffs()
	for rank, want := range map[int]int{1: 1, 10: 1, 11: 2, 20: 2, 21: 3, 500: 3} {
		require.Equalf(t, want, c.Level(rank), "rank %d", rank)
	}
	require.Equal(t, 1, ranking.Cutoffs(nil).Level(3))
}

func TestCutoffsValidate(t *testing.T) {
	require.NoError(t, ranking.Cutoffs{5, 50, 500}.Validate())
	for _, bad := range []ranking.Cutoffs{{0}, {10, 10}, {20, 10}, {-1, 5}} {
		require.Truef(t, appErr.Is(bad.Validate(), appErr.InvalidTierCutoffs), "%v", bad)
	}
}

func TestTierPolicyPerDomain(t *testing.T) {
	p, err := ranking.NewTierPolicy(nil, map[int64]ranking.Cutoffs{7: {3, 6, 9}})
	require.NoError(t, err)
	require.Equal(t, ranking.DefaultCutoffs(), p.For(1))
	require.Equal(t, ranking.Cutoffs{3, 6, 9}, p.For(7))

	_, err = ranking.NewTierPolicy(nil, map[int64]ranking.Cutoffs{7: {3, 3}})
	require.True(t, appErr.Is(err, appErr.InvalidTierCutoffs))
}

func TestResolveTiers(t *testing.T) {
	ids, err := ranking.ResolveTiers(ranking.DefaultCutoffs(), map[int]int64{1: 11, 2: 12, 3: 13})
	require.NoError(t, err)
	require.Equal(t, map[int]int64{1: 11, 2: 12, 3: 13}, ids)

	_, err = ranking.ResolveTiers(ranking.DefaultCutoffs(), map[int]int64{1: 11, 2: 12})
	require.True(t, appErr.Is(err, appErr.TierNotConfigured))
}
