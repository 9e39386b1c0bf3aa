// Package judge turns a submission payload into a scored verdict.
//
// Judges return an error only for conditions the candidate did not cause
// (missing corpus, unsupported language, broken problem data). Anything the
// submission itself gets wrong, including sandbox and query failures, is
// reported as a Verdict.
package judge

import (
	"context"

	"assessengine/internal/grading/model"
)

// Task is one submission to grade.
type Task struct {
	CandidateID int64
	ContestID   int64
	Problem     *model.Problem
	Category    model.Category
	Payload     model.Payload
}

// Judge grades one category of problem.
type Judge interface {
	Category() model.Category
	Judge(ctx context.Context, task Task) (model.Verdict, error)
}

// fullScore is the score of a fully correct submission.
const fullScore = 100

func statusForScore(score int) model.Status {
	if score == fullScore {
		return model.StatusAccepted
	}
	return model.StatusWrongAnswer
}
