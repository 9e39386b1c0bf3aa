package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"assessengine/internal/common/db"
	"assessengine/internal/grading/judge"
	"assessengine/internal/grading/model"
	"assessengine/internal/grading/repository"
	appErr "assessengine/pkg/errors"
	"assessengine/pkg/utils/contextkey"
	"assessengine/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultDBTimeout      = 3 * time.Second
	defaultMQTimeout      = 3 * time.Second
	defaultMaxSourceBytes = 64 * 1024
	recomputeAttempts     = 3
	recomputeBackoff      = 25 * time.Millisecond
)

// Dispatcher grades a task with the judge for its category.
type Dispatcher interface {
	Dispatch(ctx context.Context, task judge.Task) (model.Verdict, error)
}

// SubmitInput is one submission to grade.
type SubmitInput struct {
	CandidateID int64          `json:"candidate_id"`
	ContestID   int64          `json:"contest_id"`
	ProblemID   int64          `json:"problem_id"`
	Category    model.Category `json:"category"`
	Payload     model.Payload  `json:"payload"`
}

// SubmitResult is returned to the caller once the submission is graded and stored.
// ParticipationPending is set when the submission is stored but the contest total
// could not be refreshed; the recompute route repairs it.
type SubmitResult struct {
	SubmissionID         string       `json:"submission_id"`
	Score                int          `json:"score"`
	Status               model.Status `json:"status"`
	Verified             bool         `json:"verified"`
	Passed               int          `json:"passed"`
	Total                int          `json:"total"`
	ParticipationScore   int          `json:"participation_score"`
	ParticipationPending bool         `json:"participation_pending,omitempty"`
}

// GradingService judges submissions and keeps contest totals current.
type GradingService struct {
	problems       repository.ProblemRepository
	contests       repository.ContestRepository
	submissions    repository.SubmissionRepository
	participations repository.ParticipationRepository
	dispatcher     Dispatcher
	publisher      repository.EventPublisher
	dbTimeout      time.Duration
	mqTimeout      time.Duration
	maxSourceBytes int
	now            func() time.Time
}

// GradingConfig holds service dependencies and settings.
type GradingConfig struct {
	Problems       repository.ProblemRepository
	Contests       repository.ContestRepository
	Submissions    repository.SubmissionRepository
	Participations repository.ParticipationRepository
	Dispatcher     Dispatcher
	Publisher      repository.EventPublisher
	DBTimeout      time.Duration
	MQTimeout      time.Duration
	MaxSourceBytes int
	Now            func() time.Time
}

// NewGradingService creates a grading service.
func NewGradingService(cfg GradingConfig) (*GradingService, error) {
	if cfg.Problems == nil || cfg.Contests == nil || cfg.Submissions == nil || cfg.Participations == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = repository.NopEventPublisher{}
	}
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = defaultDBTimeout
	}
	if cfg.MQTimeout <= 0 {
		cfg.MQTimeout = defaultMQTimeout
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &GradingService{
		problems:       cfg.Problems,
		contests:       cfg.Contests,
		submissions:    cfg.Submissions,
		participations: cfg.Participations,
		dispatcher:     cfg.Dispatcher,
		publisher:      cfg.Publisher,
		dbTimeout:      cfg.DBTimeout,
		mqTimeout:      cfg.MQTimeout,
		maxSourceBytes: cfg.MaxSourceBytes,
		now:            cfg.Now,
	}, nil
}

// JudgeSubmission grades one submission, stores it and refreshes the contest total.
func (s *GradingService) JudgeSubmission(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, contextkey.CandidateID, input.CandidateID)
	ctx = context.WithValue(ctx, contextkey.ContestID, input.ContestID)

	problem, err := s.loadTarget(ctx, input.ContestID, input.ProblemID)
	if err != nil {
		return nil, err
	}

	verdict, err := s.dispatcher.Dispatch(ctx, judge.Task{
		CandidateID: input.CandidateID,
		ContestID:   input.ContestID,
		Problem:     problem,
		Category:    input.Category,
		Payload:     input.Payload,
	})
	if err != nil {
		return nil, err
	}

	submission := &model.Submission{
		ID:          uuid.NewString(),
		CandidateID: input.CandidateID,
		ContestID:   input.ContestID,
		ProblemID:   input.ProblemID,
		Category:    input.Category,
		Payload:     input.Payload,
		Status:      verdict.Status,
		Score:       verdict.Score,
		Verified:    verdict.Verified,
		Details:     verdict,
		CreatedAt:   s.now().UTC(),
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()
	if err := s.submissions.Create(dbCtx, nil, submission); err != nil {
		return nil, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "store submission failed")
	}
	result := &SubmitResult{
		SubmissionID: submission.ID,
		Score:        verdict.Score,
		Status:       verdict.Status,
		Verified:     verdict.Verified,
		Passed:       verdict.Passed,
		Total:        verdict.Total,
	}

	// The submission is committed before the total is recomputed.
	participation, err := s.recompute(dbCtx, input.CandidateID, input.ContestID)
	if err != nil {
		logger.Error(ctx, "recompute participation failed",
			zap.String("submission_id", submission.ID), zap.Error(err))
		result.ParticipationPending = true
	} else {
		result.ParticipationScore = participation.Score
	}

	logger.Info(ctx, "submission graded",
		zap.String("submission_id", submission.ID),
		zap.Int64("problem_id", input.ProblemID),
		zap.String("status", string(verdict.Status)),
		zap.Int("score", verdict.Score),
		zap.Int("participation_score", result.ParticipationScore),
	)
	s.publish(ctx, "submission.graded", func(ctx context.Context) error {
		return s.publisher.PublishSubmissionGraded(ctx, submission)
	})
	if participation != nil {
		s.publish(ctx, "participation.updated", func(ctx context.Context) error {
			return s.publisher.PublishParticipationUpdated(ctx, participation)
		})
	}
	return result, nil
}

// recompute refreshes the contest total, retrying InnoDB lock conflicts.
func (s *GradingService) recompute(ctx context.Context, candidateID, contestID int64) (*model.Participation, error) {
	for attempt := 1; ; attempt++ {
		participation, err := s.participations.RecomputeTotal(ctx, nil, candidateID, contestID)
		if err == nil {
			return participation, nil
		}
		if !db.IsLockConflict(err) || attempt == recomputeAttempts {
			return nil, err
		}
		logger.Warn(ctx, "recompute participation conflicted", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * recomputeBackoff):
		}
	}
}

// RecomputeParticipationTotal rebuilds a candidate's contest total from stored submissions.
func (s *GradingService) RecomputeParticipationTotal(ctx context.Context, candidateID, contestID int64) (*model.Participation, error) {
	if candidateID <= 0 {
		return nil, appErr.ValidationError("candidate_id", "required")
	}
	if contestID <= 0 {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	ctx = context.WithValue(ctx, contextkey.CandidateID, candidateID)
	ctx = context.WithValue(ctx, contextkey.ContestID, contestID)

	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()
	if _, err := s.contests.GetByID(dbCtx, nil, contestID); err != nil {
		return nil, mapContestErr(err, contestID)
	}
	participation, err := s.recompute(dbCtx, candidateID, contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ParticipationUpdateFailed, "recompute participation failed")
	}
	s.publish(ctx, "participation.updated", func(ctx context.Context) error {
		return s.publisher.PublishParticipationUpdated(ctx, participation)
	})
	return participation, nil
}

// GetParticipation returns a candidate's contest row, including the contest rank once finalized.
func (s *GradingService) GetParticipation(ctx context.Context, candidateID, contestID int64) (*model.Participation, error) {
	if candidateID <= 0 {
		return nil, appErr.ValidationError("candidate_id", "required")
	}
	if contestID <= 0 {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()
	participation, err := s.participations.Get(dbCtx, nil, candidateID, contestID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipationNotFound) {
			return nil, appErr.New(appErr.ParticipationNotFound).
				WithDetail("candidate_id", candidateID).
				WithDetail("contest_id", contestID)
		}
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return participation, nil
}

// SubmissionHistory lists a candidate's attempts in a contest with the best score per problem.
type SubmissionHistory struct {
	CandidateID int64               `json:"candidate_id"`
	ContestID   int64               `json:"contest_id"`
	BestScores  map[int64]int       `json:"best_scores"`
	Submissions []*model.Submission `json:"submissions"`
}

// ListSubmissions returns every submission of candidateID in contestID, oldest first.
func (s *GradingService) ListSubmissions(ctx context.Context, candidateID, contestID int64) (*SubmissionHistory, error) {
	if candidateID <= 0 {
		return nil, appErr.ValidationError("candidate_id", "required")
	}
	if contestID <= 0 {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()
	if _, err := s.contests.GetByID(dbCtx, nil, contestID); err != nil {
		return nil, mapContestErr(err, contestID)
	}
	submissions, err := s.submissions.ListByCandidateContest(dbCtx, nil, candidateID, contestID)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	best, err := s.submissions.BestScores(dbCtx, nil, candidateID, contestID)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	if submissions == nil {
		submissions = []*model.Submission{}
	}
	return &SubmissionHistory{
		CandidateID: candidateID,
		ContestID:   contestID,
		BestScores:  best,
		Submissions: submissions,
	}, nil
}

// GetSubmission returns a stored submission.
func (s *GradingService) GetSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()
	submission, err := s.submissions.GetByID(dbCtx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return submission, nil
}

func (s *GradingService) validate(input SubmitInput) error {
	if input.CandidateID <= 0 {
		return appErr.ValidationError("candidate_id", "required")
	}
	if input.ContestID <= 0 {
		return appErr.ValidationError("contest_id", "required")
	}
	if input.ProblemID <= 0 {
		return appErr.ValidationError("problem_id", "required")
	}
	if input.Category == "" {
		return appErr.ValidationError("category", "required")
	}
	if len(input.Payload.Source) > s.maxSourceBytes || len(input.Payload.Query) > s.maxSourceBytes {
		return appErr.Newf(appErr.CodeTooLarge, "submission exceeds %d bytes", s.maxSourceBytes)
	}
	return nil
}

// loadTarget resolves the contest and problem and checks they are linked.
func (s *GradingService) loadTarget(ctx context.Context, contestID, problemID int64) (*model.Problem, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()

	if _, err := s.contests.GetByID(dbCtx, nil, contestID); err != nil {
		return nil, mapContestErr(err, contestID)
	}
	problem, err := s.problems.GetByID(dbCtx, nil, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, appErr.Newf(appErr.ProblemNotFound, "problem %d not found", problemID)
		}
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	if !problem.Published {
		return nil, appErr.Newf(appErr.ProblemNotPublished, "problem %d is not published", problemID)
	}
	linked, err := s.contests.HasProblem(dbCtx, nil, contestID, problemID)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	if !linked {
		return nil, appErr.PreconditionError("problem %d is not part of contest %d", problemID, contestID)
	}
	return problem, nil
}

// publish sends an event best effort. A failed publish never fails the operation.
func (s *GradingService) publish(ctx context.Context, name string, fn func(context.Context) error) {
	mqCtx, cancel := context.WithTimeout(ctx, s.mqTimeout)
	defer cancel()
	if err := fn(mqCtx); err != nil {
		logger.Warn(ctx, "publish event failed", zap.String("event", name), zap.Error(err))
	}
}

func mapContestErr(err error, contestID int64) error {
	if errors.Is(err, repository.ErrContestNotFound) {
		return appErr.Newf(appErr.ContestNotFound, "contest %d not found", contestID)
	}
	return appErr.Wrap(err, appErr.DatabaseError)
}
