package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"assessengine/internal/grading/model"
	"assessengine/internal/grading/sandbox"
	appErr "assessengine/pkg/errors"
	"assessengine/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCaseConcurrency = 4
	defaultCaseTimeout     = 10 * time.Second
)

// CorpusSource returns the hidden test cases of a problem, ordered by ordinal.
type CorpusSource interface {
	HiddenCases(ctx context.Context, problem *model.Problem) ([]model.TestCase, error)
}

// CompiledConfig configures the compiled-code judge.
type CompiledConfig struct {
	Executor sandbox.Executor
	Corpus   CorpusSource
	// Languages maps a language name to the runtime version requested from the sandbox.
	Languages   map[string]string
	Concurrency int
	CaseTimeout time.Duration
}

// CompiledJudge runs source code against every hidden case through the sandbox.
type CompiledJudge struct {
	executor    sandbox.Executor
	corpus      CorpusSource
	languages   map[string]string
	concurrency int
	caseTimeout time.Duration
}

// NewCompiledJudge creates a compiled-code judge.
func NewCompiledJudge(cfg CompiledConfig) (*CompiledJudge, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("sandbox executor is required")
	}
	if cfg.Corpus == nil {
		return nil, fmt.Errorf("corpus source is required")
	}
	if len(cfg.Languages) == 0 {
		return nil, fmt.Errorf("at least one language is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultCaseConcurrency
	}
	caseTimeout := cfg.CaseTimeout
	if caseTimeout <= 0 {
		caseTimeout = defaultCaseTimeout
	}
	languages := make(map[string]string, len(cfg.Languages))
	for name, version := range cfg.Languages {
		languages[strings.ToLower(strings.TrimSpace(name))] = version
	}
	return &CompiledJudge{
		executor:    cfg.Executor,
		corpus:      cfg.Corpus,
		languages:   languages,
		concurrency: concurrency,
		caseTimeout: caseTimeout,
	}, nil
}

// Category implements Judge.
func (j *CompiledJudge) Category() model.Category {
	return model.CategoryCompiled
}

// Judge implements Judge.
func (j *CompiledJudge) Judge(ctx context.Context, task Task) (model.Verdict, error) {
	language := strings.ToLower(strings.TrimSpace(task.Payload.Language))
	version, ok := j.languages[language]
	if !ok {
		return model.Verdict{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", task.Payload.Language)
	}
	if strings.TrimSpace(task.Payload.Source) == "" {
		return model.Verdict{}, appErr.ValidationError("source", "required")
	}

	cases, err := j.corpus.HiddenCases(ctx, task.Problem)
	if err != nil {
		return model.Verdict{}, err
	}
	if len(cases) == 0 {
		return model.Verdict{}, appErr.Newf(appErr.TestCorpusEmpty, "problem %d has no hidden test cases", task.Problem.ID)
	}

	results := make([]model.CaseResult, len(cases))
	g := new(errgroup.Group)
	g.SetLimit(j.concurrency)
	for i := range cases {
		tc := cases[i]
		idx := i
		g.Go(func() error {
			results[idx] = j.runCase(ctx, language, version, task.Payload.Source, tc)
			return nil
		})
	}
	_ = g.Wait()

	// Cases cut short by the caller's deadline already count as timeouts.
	if err := ctx.Err(); err != nil {
		logger.Warn(ctx, "judging interrupted, returning partial verdict",
			zap.Int64("problem_id", task.Problem.ID),
			zap.Error(err),
		)
	}

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	score := fullScore * passed / len(cases)
	return model.Verdict{
		Score:    score,
		Status:   statusForScore(score),
		Verified: true,
		Passed:   passed,
		Total:    len(cases),
		Cases:    results,
	}, nil
}

func (j *CompiledJudge) runCase(ctx context.Context, language, version, source string, tc model.TestCase) model.CaseResult {
	res := model.CaseResult{Ordinal: tc.Ordinal}
	if ctx.Err() != nil {
		res.Reason = model.ReasonTimeout
		return res
	}

	caseCtx, cancel := context.WithTimeout(ctx, j.caseTimeout)
	defer cancel()
	out, err := j.executor.Execute(caseCtx, sandbox.RunRequest{
		Language: language,
		Version:  version,
		Source:   source,
		Stdin:    tc.Input,
	})
	if err != nil {
		res.Reason = model.ReasonSandboxError
		if errors.Is(err, context.DeadlineExceeded) || caseCtx.Err() != nil {
			res.Reason = model.ReasonTimeout
		}
		logger.Warn(ctx, "sandbox case failed",
			zap.Int("ordinal", tc.Ordinal),
			zap.String("reason", res.Reason),
			zap.Error(err),
		)
		return res
	}
	if out.Stderr != "" {
		res.Reason = model.ReasonRuntimeError
		return res
	}
	if strings.TrimSpace(out.Stdout) != strings.TrimSpace(tc.ExpectedOutput) {
		res.Reason = model.ReasonWrongAnswer
		return res
	}
	res.Passed = true
	res.Reason = model.ReasonPassed
	return res
}
