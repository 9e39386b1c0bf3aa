package judge_test

import (
	"context"
	"testing"

	"assessengine/internal/grading/judge"
	"assessengine/internal/grading/model"
	appErr "assessengine/pkg/errors"
)

func intPtr(v int) *int { return &v }

func TestDispatcherRoutesClientChecked(t *testing.T) {
	d, err := judge.NewDispatcher(judge.NewClientCheckedJudge())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	verdict, err := d.Dispatch(context.Background(), judge.Task{
		Problem:  &model.Problem{ID: 1, Category: model.CategoryClient},
		Category: model.CategoryClient,
		Payload:  model.Payload{ClientScore: intPtr(80)},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if verdict.Score != 80 || verdict.Status != model.StatusWrongAnswer || verdict.Verified {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestDispatcherErrors(t *testing.T) {
	d, _ := judge.NewDispatcher(judge.NewClientCheckedJudge())
	cases := []struct {
		name string
		task judge.Task
		code appErr.ErrorCode
	}{
		{
			name: "unknown category",
			task: judge.Task{Problem: &model.Problem{Category: "essay"}, Category: "essay"},
			code: appErr.CategoryNotSupported,
		},
		{
			name: "mismatch",
			task: judge.Task{Problem: &model.Problem{Category: model.CategoryCompiled}, Category: model.CategoryClient},
			code: appErr.CategoryMismatch,
		},
		{
			name: "no judge registered",
			task: judge.Task{Problem: &model.Problem{Category: model.CategoryQuery}, Category: model.CategoryQuery},
			code: appErr.CategoryNotSupported,
		},
		{
			name: "client score out of range",
			task: judge.Task{
				Problem:  &model.Problem{Category: model.CategoryClient},
				Category: model.CategoryClient,
				Payload:  model.Payload{ClientScore: intPtr(101)},
			},
			code: appErr.ValidationFailed,
		},
		{
			name: "client status unknown",
			task: judge.Task{
				Problem:  &model.Problem{Category: model.CategoryClient},
				Category: model.CategoryClient,
				Payload:  model.Payload{ClientScore: intPtr(10), ClientStatus: "Maybe"},
			},
			code: appErr.ValidationFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), tc.task)
			if !appErr.Is(err, tc.code) {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
		})
	}
}

func TestDispatcherRejectsDuplicateRegistration(t *testing.T) {
	if _, err := judge.NewDispatcher(judge.NewClientCheckedJudge(), judge.NewClientCheckedJudge()); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
