package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"assessengine/internal/common/cache"
	"assessengine/internal/common/db"
	"assessengine/internal/grading/model"
	"assessengine/internal/grading/ranking"
	"assessengine/internal/grading/rating"
	"assessengine/internal/grading/repository"
	appErr "assessengine/pkg/errors"
	"assessengine/pkg/utils/contextkey"
	"assessengine/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultFinalizeTimeout = 2 * time.Minute

// FinalizationService turns a closed contest into ratings, domain ranks and tiers.
type FinalizationService struct {
	db              db.Database
	contests        repository.ContestRepository
	participations  repository.ParticipationRepository
	performances    repository.PerformanceRepository
	tiers           repository.TierRepository
	publisher       repository.EventPublisher
	lock            *domainLock
	policy          rating.Policy
	scale           rating.Scale
	tierPolicy      *ranking.TierPolicy
	finalizeTimeout time.Duration
	dbTimeout       time.Duration
	mqTimeout       time.Duration
	now             func() time.Time
}

// FinalizationConfig holds service dependencies and settings.
type FinalizationConfig struct {
	Database       db.Database
	Contests       repository.ContestRepository
	Participations repository.ParticipationRepository
	Performances   repository.PerformanceRepository
	Tiers          repository.TierRepository
	Publisher      repository.EventPublisher
	// Locker serializes finalization per domain. Defaults to an in-process locker.
	Locker          cache.Locker
	Policy          rating.Policy
	Scale           rating.Scale
	TierPolicy      *ranking.TierPolicy
	LockTTL         time.Duration
	LockWait        time.Duration
	FinalizeTimeout time.Duration
	DBTimeout       time.Duration
	MQTimeout       time.Duration
	Now             func() time.Time
}

// NewFinalizationService creates a finalization service.
func NewFinalizationService(cfg FinalizationConfig) (*FinalizationService, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Contests == nil || cfg.Participations == nil || cfg.Performances == nil || cfg.Tiers == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if cfg.Scale == (rating.Scale{}) {
		cfg.Scale = rating.DefaultScale()
	}
	if err := cfg.Scale.Validate(); err != nil {
		return nil, err
	}
	if cfg.Policy == nil {
		cfg.Policy = rating.ReplacePolicy{}
	}
	if cfg.TierPolicy == nil {
		tp, err := ranking.NewTierPolicy(nil, nil)
		if err != nil {
			return nil, err
		}
		cfg.TierPolicy = tp
	}
	if cfg.Locker == nil {
		cfg.Locker = cache.NewLocalLocker()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = repository.NopEventPublisher{}
	}
	if cfg.LockWait == 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = defaultDBTimeout
	}
	if cfg.MQTimeout <= 0 {
		cfg.MQTimeout = defaultMQTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &FinalizationService{
		db:              cfg.Database,
		contests:        cfg.Contests,
		participations:  cfg.Participations,
		performances:    cfg.Performances,
		tiers:           cfg.Tiers,
		publisher:       cfg.Publisher,
		lock:            newDomainLock(cfg.Locker, cfg.LockTTL, cfg.LockWait),
		policy:          cfg.Policy,
		scale:           cfg.Scale,
		tierPolicy:      cfg.TierPolicy,
		finalizeTimeout: cfg.FinalizeTimeout,
		dbTimeout:       cfg.DBTimeout,
		mqTimeout:       cfg.MQTimeout,
		now:             cfg.Now,
	}, nil
}

// FinalizeContest rates the contest's participants and rewrites the domain's ranks and tiers.
// Replaying it for the same contest leaves the stored state unchanged.
func (s *FinalizationService) FinalizeContest(ctx context.Context, contestID int64) (*model.FinalizeResult, error) {
	if contestID <= 0 {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	ctx = context.WithValue(ctx, contextkey.ContestID, contestID)
	start := time.Now()

	contest, cutoffs, tierIDs, err := s.prepare(ctx, contestID)
	if err != nil {
		return nil, err
	}
	domainID := contest.DomainID
	ctx = context.WithValue(ctx, contextkey.DomainID, domainID)
	logger.Info(ctx, "contest finalization started", zap.String("policy", s.policy.Name()))

	result := &model.FinalizeResult{ContestID: contestID, DomainID: domainID}
	var updated []model.Performance
	err = s.withDomainLock(ctx, domainID, func(ctx context.Context, tx db.Transaction) error {
		parts, err := s.participations.ListByContest(ctx, tx, contestID)
		if err != nil {
			return err
		}
		if len(parts) == 0 {
			return nil
		}
		now := s.now().UTC()

		ratings, err := s.applyRatings(ctx, tx, contestID, domainID, parts)
		if err != nil {
			return err
		}
		result.RatingsUpdated = ratings

		updated, err = s.rerank(ctx, tx, domainID, cutoffs, tierIDs, now)
		if err != nil {
			return err
		}
		result.RanksUpdated = len(updated)

		contestRanks := make(map[int64]int, len(parts))
		for _, r := range ranking.DenseRank(contestEntries(parts)) {
			contestRanks[r.CandidateID] = r.Rank
		}
		n, err := s.participations.UpdateContestRanks(ctx, tx, contestID, contestRanks)
		if err != nil {
			return err
		}
		result.ContestRanksUpdated = n

		return s.contests.MarkFinalized(ctx, tx, contestID, now)
	})
	if err != nil {
		logger.Error(ctx, "contest finalization failed", zap.Error(err))
		return nil, err
	}

	logger.Info(ctx, "contest finalization finished",
		zap.Int("ratings_updated", result.RatingsUpdated),
		zap.Int("ranks_updated", result.RanksUpdated),
		zap.Int("contest_ranks_updated", result.ContestRanksUpdated),
		zap.Duration("duration", time.Since(start)),
	)
	if result.RatingsUpdated > 0 {
		s.publish(ctx, updated, result)
	}
	return result, nil
}

// RerankDomain recomputes ranks and tiers for a domain from the stored ratings.
func (s *FinalizationService) RerankDomain(ctx context.Context, domainID int64) (*model.FinalizeResult, error) {
	if domainID <= 0 {
		return nil, appErr.ValidationError("domain_id", "required")
	}
	ctx = context.WithValue(ctx, contextkey.DomainID, domainID)
	cutoffs, tierIDs, err := s.resolveTiers(ctx, domainID)
	if err != nil {
		return nil, err
	}

	result := &model.FinalizeResult{DomainID: domainID}
	var updated []model.Performance
	err = s.withDomainLock(ctx, domainID, func(ctx context.Context, tx db.Transaction) error {
		perfs, err := s.rerank(ctx, tx, domainID, cutoffs, tierIDs, s.now().UTC())
		if err != nil {
			return err
		}
		updated = perfs
		result.RanksUpdated = len(perfs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "domain reranked", zap.Int("ranks_updated", result.RanksUpdated))
	mqCtx, cancel := context.WithTimeout(ctx, s.mqTimeout)
	defer cancel()
	if err := s.publisher.PublishPerformanceUpdated(mqCtx, updated); err != nil {
		logger.Warn(ctx, "publish performance events failed", zap.Error(err))
	}
	return result, nil
}

// prepare checks everything finalization depends on before anything is written.
func (s *FinalizationService) prepare(ctx context.Context, contestID int64) (*model.Contest, ranking.Cutoffs, map[int]int64, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()
	contest, err := s.contests.GetByID(dbCtx, nil, contestID)
	if err != nil {
		return nil, nil, nil, mapContestErr(err, contestID)
	}
	if contest.DomainID <= 0 {
		return nil, nil, nil, appErr.Newf(appErr.ContestDomainMissing, "contest %d is not linked to a domain", contestID)
	}
	cutoffs, tierIDs, err := s.resolveTiers(ctx, contest.DomainID)
	if err != nil {
		return nil, nil, nil, err
	}
	return contest, cutoffs, tierIDs, nil
}

func (s *FinalizationService) resolveTiers(ctx context.Context, domainID int64) (ranking.Cutoffs, map[int]int64, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()
	tiers, err := s.tiers.ListByDomain(dbCtx, nil, domainID)
	if err != nil {
		return nil, nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	cutoffs := s.tierPolicy.For(domainID)
	tierIDs, err := ranking.ResolveTiers(cutoffs, repository.TierLevels(tiers))
	if err != nil {
		return nil, nil, appErr.GetError(err).WithDetail("domain_id", domainID)
	}
	return cutoffs, tierIDs, nil
}

// withDomainLock runs fn in one transaction while holding the domain lock.
func (s *FinalizationService) withDomainLock(ctx context.Context, domainID int64, fn func(context.Context, db.Transaction) error) error {
	ls, err := s.lock.acquire(ctx, domainID)
	if err != nil {
		return err
	}
	defer ls.release()

	txCtx, cancel := context.WithTimeout(ls.ctx, s.finalizeTimeout)
	defer cancel()
	err = s.db.Transaction(txCtx, func(tx db.Transaction) error {
		return fn(txCtx, tx)
	})
	if err != nil {
		if ls.lost() {
			return appErr.TryAgain(appErr.FinalizationBusy, "domain lock lost, rank rewrite rolled back")
		}
		if db.IsLockConflict(err) {
			return appErr.TryAgain(appErr.FinalizationBusy, "finalization transaction hit a lock conflict")
		}
		var coded *appErr.Error
		if errors.As(err, &coded) {
			return err
		}
		return appErr.Wrapf(err, appErr.FinalizationFailed, "finalization transaction failed")
	}
	return nil
}

func (s *FinalizationService) applyRatings(ctx context.Context, tx db.Transaction, contestID, domainID int64, parts []model.Participation) (int, error) {
	ids := make([]int64, len(parts))
	for i, p := range parts {
		ids[i] = p.CandidateID
	}
	priors, err := s.performances.ListByCandidates(ctx, tx, domainID, ids)
	if err != nil {
		return 0, err
	}

	entries := make([]rating.Entry, len(parts))
	activeAt := make(map[int64]time.Time, len(parts))
	for i, p := range parts {
		entries[i] = rating.Entry{CandidateID: p.CandidateID, Score: p.Score}
		if prior, ok := priors[p.CandidateID]; ok {
			entries[i].Prior = &rating.Prior{
				Rating:        prior.Rating,
				BaseRating:    prior.BaseRating,
				LastContestID: prior.LastContestID,
			}
		}
		activeAt[p.CandidateID] = participationTime(p)
	}

	updates := s.policy.Apply(contestID, s.scale, entries)
	writes := make([]repository.RatingWrite, len(updates))
	for i, u := range updates {
		writes[i] = repository.RatingWrite{
			CandidateID:   u.CandidateID,
			Rating:        u.Rating,
			BaseRating:    u.BaseRating,
			LastContestID: contestID,
			LastActiveAt:  activeAt[u.CandidateID],
		}
	}
	return s.performances.UpsertRatings(ctx, tx, domainID, writes)
}

// rerank assigns dense ranks and tiers over every performance in the domain.
func (s *FinalizationService) rerank(ctx context.Context, tx db.Transaction, domainID int64, cutoffs ranking.Cutoffs, tierIDs map[int]int64, now time.Time) ([]model.Performance, error) {
	all, err := s.performances.ListByDomainForUpdate(ctx, tx, domainID)
	if err != nil {
		return nil, err
	}
	byCandidate := make(map[int64]model.Performance, len(all))
	entries := make([]ranking.Entry, len(all))
	for i, p := range all {
		byCandidate[p.CandidateID] = p
		entries[i] = ranking.Entry{CandidateID: p.CandidateID, Value: p.Rating, At: p.LastActiveAt}
	}

	placements := ranking.Assign(entries, cutoffs)
	writes := make([]repository.PlacementWrite, len(placements))
	updated := make([]model.Performance, len(placements))
	for i, pl := range placements {
		perf := byCandidate[pl.CandidateID]
		tierID := tierIDs[pl.Level]
		writes[i] = repository.PlacementWrite{Performance: perf, Rank: pl.Rank, TierID: tierID}

		rank := pl.Rank
		if perf.CurrentRank == nil || *perf.CurrentRank != rank || perf.TierID == nil || *perf.TierID != tierID {
			assigned := now
			perf.TierAssignedAt = &assigned
		}
		perf.CurrentRank = &rank
		perf.TierID = &tierID
		updated[i] = perf
	}
	if _, err := s.performances.ApplyPlacements(ctx, tx, domainID, writes, now); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *FinalizationService) publish(ctx context.Context, performances []model.Performance, result *model.FinalizeResult) {
	mqCtx, cancel := context.WithTimeout(ctx, s.mqTimeout)
	defer cancel()
	if err := s.publisher.PublishPerformanceUpdated(mqCtx, performances); err != nil {
		logger.Warn(ctx, "publish performance events failed", zap.Error(err))
	}
	if err := s.publisher.PublishContestFinalized(mqCtx, *result); err != nil {
		logger.Warn(ctx, "publish contest finalized failed", zap.Error(err))
	}
}

func contestEntries(parts []model.Participation) []ranking.Entry {
	entries := make([]ranking.Entry, len(parts))
	for i, p := range parts {
		entries[i] = ranking.Entry{CandidateID: p.CandidateID, Value: p.Score, At: participationTime(p)}
	}
	return entries
}

func participationTime(p model.Participation) time.Time {
	if p.SubmittedAt != nil {
		return *p.SubmittedAt
	}
	return p.UpdatedAt
}
