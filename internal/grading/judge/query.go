package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"assessengine/internal/common/db"
	"assessengine/internal/grading/model"
	"assessengine/internal/grading/normalize"
	appErr "assessengine/pkg/errors"
	"assessengine/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultQueryTimeout = 5 * time.Second

// QueryConfig configures the query judge.
type QueryConfig struct {
	// Database is the scratch judging database, never the primary store.
	Database db.Database
	Timeout  time.Duration
}

// QueryJudge grades data-query submissions by comparing result sets with the reference query.
// Every submission runs in its own transaction, which is always rolled back.
type QueryJudge struct {
	database db.Database
	timeout  time.Duration
}

// NewQueryJudge creates a query judge.
func NewQueryJudge(cfg QueryConfig) (*QueryJudge, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("judging database is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &QueryJudge{database: cfg.Database, timeout: timeout}, nil
}

// Category implements Judge.
func (j *QueryJudge) Category() model.Category {
	return model.CategoryQuery
}

// Judge implements Judge.
func (j *QueryJudge) Judge(ctx context.Context, task Task) (model.Verdict, error) {
	query := strings.TrimSpace(task.Payload.Query)
	if query == "" {
		return model.Verdict{}, appErr.ValidationError("query", "required")
	}
	if strings.TrimSpace(task.Problem.QueryReference) == "" {
		return model.Verdict{}, appErr.PreconditionError("problem %d has no reference query", task.Problem.ID)
	}

	if keyword, ok := transactionControl(query); ok {
		logger.Warn(ctx, "candidate query rejected",
			zap.Int64("problem_id", task.Problem.ID), zap.String("keyword", keyword))
		return errorVerdict(stageCandidate, fmt.Errorf("%s statements are not allowed", keyword)), nil
	}

	equal, stage, err := j.compare(ctx, task.Problem, query)
	if err != nil {
		fields := []zap.Field{zap.Int64("problem_id", task.Problem.ID), zap.String("stage", stage), zap.Error(err)}
		if code, ok := db.PgErrorCode(err); ok {
			fields = append(fields, zap.String("sqlstate", code))
		}
		if stage == stageCandidate {
			logger.Debug(ctx, "candidate query failed", fields...)
		} else {
			logger.Error(ctx, "query judging failed", fields...)
		}
		return errorVerdict(stage, err), nil
	}

	verdict := model.Verdict{Verified: true, Total: 1}
	if equal {
		verdict.Score = fullScore
		verdict.Passed = 1
	}
	verdict.Status = statusForScore(verdict.Score)
	return verdict, nil
}

func errorVerdict(stage string, err error) model.Verdict {
	return model.Verdict{
		Score:    0,
		Status:   model.StatusError,
		Verified: true,
		Total:    1,
		Message:  fmt.Sprintf("%s: %v", stage, err),
	}
}

// candidateSavepoint scopes the candidate query inside the judging transaction.
const candidateSavepoint = "candidate_query"

const (
	stageBegin     = "begin"
	stageSetup     = "setup"
	stageCandidate = "candidate"
	stageReference = "reference"
	stageCompare   = "compare"
)

func (j *QueryJudge) compare(ctx context.Context, problem *model.Problem, query string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	tx, err := j.database.BeginTx(ctx, nil)
	if err != nil {
		return false, stageBegin, err
	}
	// Nothing a submission does may outlive it.
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Warn(ctx, "rollback judging transaction failed", zap.Error(rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", j.timeout.Milliseconds())); err != nil {
		return false, stageBegin, err
	}
	if setup := strings.TrimSpace(problem.QuerySetup); setup != "" {
		if _, err := tx.Exec(ctx, setup); err != nil {
			return false, stageSetup, err
		}
	}

	if _, err := tx.Exec(ctx, "SAVEPOINT "+candidateSavepoint); err != nil {
		return false, stageSetup, err
	}
	got, err := collectRows(ctx, tx, query)
	if err != nil {
		return false, stageCandidate, err
	}
	// Discards candidate writes before the reference runs. Fails with 25P01 when
	// the transaction block no longer exists.
	if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+candidateSavepoint); err != nil {
		return false, stageCandidate, fmt.Errorf("judging transaction ended by the query: %w", err)
	}
	want, err := collectRows(ctx, tx, problem.QueryReference)
	if err != nil {
		return false, stageReference, err
	}
	equal, err := normalize.Equal(got, want)
	if err != nil {
		return false, stageCompare, err
	}
	return equal, "", nil
}

func collectRows(ctx context.Context, q db.Querier, query string) ([]normalize.Row, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []normalize.Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(normalize.Row, len(columns))
		for i, name := range columns {
			row[i] = normalize.Column{Name: name, Value: values[i]}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
