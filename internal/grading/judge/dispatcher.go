package judge

import (
	"context"
	"fmt"

	"assessengine/internal/grading/model"
	appErr "assessengine/pkg/errors"
)

// Dispatcher routes a task to the judge registered for its category.
type Dispatcher struct {
	judges map[model.Category]Judge
}

// NewDispatcher registers judges by category. Registering a category twice is an error.
func NewDispatcher(judges ...Judge) (*Dispatcher, error) {
	d := &Dispatcher{judges: make(map[model.Category]Judge, len(judges))}
	for _, j := range judges {
		if j == nil {
			continue
		}
		if _, exists := d.judges[j.Category()]; exists {
			return nil, fmt.Errorf("judge for category %q registered twice", j.Category())
		}
		d.judges[j.Category()] = j
	}
	return d, nil
}

// Dispatch grades task with the judge for its category.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) (model.Verdict, error) {
	if task.Problem == nil {
		return model.Verdict{}, appErr.New(appErr.ProblemNotFound)
	}
	if !task.Category.Valid() {
		return model.Verdict{}, appErr.Newf(appErr.CategoryNotSupported, "category %q is not supported", task.Category)
	}
	if task.Category != task.Problem.Category {
		return model.Verdict{}, appErr.Newf(appErr.CategoryMismatch,
			"submission category %q does not match problem category %q", task.Category, task.Problem.Category)
	}
	j, ok := d.judges[task.Category]
	if !ok {
		return model.Verdict{}, appErr.Newf(appErr.CategoryNotSupported, "no judge for category %q", task.Category)
	}
	return j.Judge(ctx, task)
}
