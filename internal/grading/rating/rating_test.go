package rating_test

import (
	"testing"

	"assessengine/internal/grading/rating"
	appErr "assessengine/pkg/errors"

	"github.com/stretchr/testify/require"
)

func scores(values ...int) []rating.ContestScore {
	out := make([]rating.ContestScore, len(values))
	for i, v := range values {
		out[i] = rating.ContestScore{CandidateID: int64(i + 1), Score: v}
	}
	return out
}

func TestLinearBounds(t *testing.T) {
	got := rating.Linear(rating.DefaultScale(), scores(0, 50, 100, 25))
	require.Equal(t, map[int64]int{1: 1000, 2: 1500, 3: 2000, 4: 1250}, got)
}

func TestLinearAllEqualGetsMin(t *testing.T) {
	got := rating.Linear(rating.DefaultScale(), scores(70, 70, 70))
	for id, r := range got {
		require.Equalf(t, 1000, r, "candidate %d", id)
	}
}

func TestLinearRoundsHalfAwayFromZero(t *testing.T) {
	// 1/8 of the span is exact; half a point rounds up.
	got := rating.Linear(rating.DefaultScale(), scores(0, 1, 8))
	require.Equal(t, 1125, got[2])
	got = rating.Linear(rating.Scale{Min: 0, Max: 1}, scores(0, 1, 2))
	require.Equal(t, 1, got[2])
}

func TestLinearScaleAndShiftInvariant(t *testing.T) {
	base := []int{3, 17, 42, 42, 99, 0, 61}
	want := rating.Linear(rating.DefaultScale(), scores(base...))

	for _, tc := range []struct{ a, b int }{{1, 0}, {2, 0}, {3, 7}, {10, -5}, {1, 1000}} {
		transformed := make([]int, len(base))
		for i, v := range base {
			transformed[i] = tc.a*v + tc.b
		}
		require.Equalf(t, want, rating.Linear(rating.DefaultScale(), scores(transformed...)), "a=%d b=%d", tc.a, tc.b)
	}
}

func TestScaleValidate(t *testing.T) {
	require.NoError(t, rating.DefaultScale().Validate())
	err := rating.Scale{Min: 5, Max: 5}.Validate()
	require.True(t, appErr.Is(err, appErr.InvalidRatingScale))
}

func TestReplacePolicyIgnoresPrior(t *testing.T) {
	p, err := rating.NewPolicy("replace", 0)
	require.NoError(t, err)
	updates := p.Apply(9, rating.DefaultScale(), []rating.Entry{
		{CandidateID: 2, Score: 100, Prior: &rating.Prior{Rating: 1100}},
		{CandidateID: 1, Score: 0},
	})
	require.Equal(t, []rating.Update{
		{CandidateID: 1, Rating: 1000, BaseRating: 1000},
		{CandidateID: 2, Rating: 2000, BaseRating: 2000},
	}, updates)
}

func TestIncrementalPolicyMovesTowardsLinear(t *testing.T) {
	p, err := rating.NewPolicy("incremental", 0.5)
	require.NoError(t, err)
	entries := []rating.Entry{
		{CandidateID: 1, Score: 100, Prior: &rating.Prior{Rating: 1200, LastContestID: 4}},
		{CandidateID: 2, Score: 0, Prior: &rating.Prior{Rating: 1600, LastContestID: 4}},
		{CandidateID: 3, Score: 50},
	}
	updates := p.Apply(9, rating.DefaultScale(), entries)
	require.Equal(t, []rating.Update{
		{CandidateID: 1, Rating: 1600, BaseRating: 1200},
		{CandidateID: 2, Rating: 1300, BaseRating: 1600},
		{CandidateID: 3, Rating: 1500, BaseRating: 1500},
	}, updates)
}

func TestIncrementalPolicyReplayIsStable(t *testing.T) {
	p, err := rating.NewPolicy("incremental", 0.25)
	require.NoError(t, err)
	scale := rating.DefaultScale()
	first := p.Apply(9, scale, []rating.Entry{
		{CandidateID: 1, Score: 100, Prior: &rating.Prior{Rating: 1200, LastContestID: 4}},
		{CandidateID: 2, Score: 10, Prior: &rating.Prior{Rating: 1800, LastContestID: 4}},
	})

	// Stored state after the first run; the same contest is applied again.
	replay := p.Apply(9, scale, []rating.Entry{
		{CandidateID: 1, Score: 100, Prior: &rating.Prior{Rating: first[0].Rating, BaseRating: first[0].BaseRating, LastContestID: 9}},
		{CandidateID: 2, Score: 10, Prior: &rating.Prior{Rating: first[1].Rating, BaseRating: first[1].BaseRating, LastContestID: 9}},
	})
	require.Equal(t, first, replay)
}

func TestNewPolicyErrors(t *testing.T) {
	_, err := rating.NewPolicy("elo", 0)
	require.True(t, appErr.Is(err, appErr.RatingPolicyNotFound))

	_, err = rating.NewPolicy("incremental", 1.5)
	require.Error(t, err)

	p, err := rating.NewPolicy("", 0)
	require.NoError(t, err)
	require.Equal(t, rating.PolicyReplace, p.Name())
}
