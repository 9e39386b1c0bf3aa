package judge

import (
	"context"

	"assessengine/internal/grading/model"
	appErr "assessengine/pkg/errors"
)

// ClientCheckedJudge records the outcome a client-side checker reported.
// The result is never verified by the engine.
type ClientCheckedJudge struct{}

// NewClientCheckedJudge creates a client-checked judge.
func NewClientCheckedJudge() *ClientCheckedJudge {
	return &ClientCheckedJudge{}
}

// Category implements Judge.
func (j *ClientCheckedJudge) Category() model.Category {
	return model.CategoryClient
}

// Judge implements Judge.
func (j *ClientCheckedJudge) Judge(_ context.Context, task Task) (model.Verdict, error) {
	if task.Payload.ClientScore == nil {
		return model.Verdict{}, appErr.ValidationError("client_score", "required")
	}
	score := *task.Payload.ClientScore
	if score < 0 || score > fullScore {
		return model.Verdict{}, appErr.ValidationError("client_score", "must be between 0 and 100")
	}
	status := task.Payload.ClientStatus
	if status == "" {
		status = statusForScore(score)
	}
	if !status.Valid() {
		return model.Verdict{}, appErr.ValidationError("client_status", "unknown status")
	}
	return model.Verdict{
		Score:    score,
		Status:   status,
		Verified: false,
	}, nil
}
