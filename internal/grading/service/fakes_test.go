package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"assessengine/internal/common/db"
	"assessengine/internal/grading/model"
	"assessengine/internal/grading/repository"
)

// memStore is an in-memory stand-in for the MySQL tables.
type memStore struct {
	mu              sync.Mutex
	contests        map[int64]*model.Contest
	contestProblems map[[2]int64]bool
	problems        map[int64]*model.Problem
	submissions     []*model.Submission
	participations  map[[2]int64]*model.Participation
	performances    map[[2]int64]*model.Performance
	tiers           map[int64][]model.Tier
	writes          int
	// recomputeErrs are returned by RecomputeTotal, one per call, before it succeeds.
	recomputeErrs []error
}

func newMemStore() *memStore {
	return &memStore{
		contests:        map[int64]*model.Contest{},
		contestProblems: map[[2]int64]bool{},
		problems:        map[int64]*model.Problem{},
		participations:  map[[2]int64]*model.Participation{},
		performances:    map[[2]int64]*model.Performance{},
		tiers:           map[int64][]model.Tier{},
	}
}

type fakeDB struct {
	store *memStore
	txs   int
}

func (d *fakeDB) Query(context.Context, string, ...interface{}) (db.Rows, error) { return nil, nil }
func (d *fakeDB) QueryRow(context.Context, string, ...interface{}) db.Row        { return nil }
func (d *fakeDB) Exec(context.Context, string, ...interface{}) (db.Result, error) {
	return nil, nil
}
func (d *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	d.txs++
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&fakeTx{})
}
func (d *fakeDB) BeginTx(context.Context, *db.TxOptions) (db.Transaction, error) {
	return &fakeTx{}, nil
}
func (d *fakeDB) Ping(context.Context) error { return nil }
func (d *fakeDB) Close() error               { return nil }
func (d *fakeDB) Stats() db.Stats            { return db.Stats{} }

type fakeTx struct{ fakeDB }

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type memRepos struct{ s *memStore }

// Problems

type problemRepo struct{ memRepos }

func (r problemRepo) GetByID(_ context.Context, _ db.Transaction, id int64) (*model.Problem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.problems[id]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	cp := *p
	return &cp, nil
}

// Contests

type contestRepo struct{ memRepos }

func (r contestRepo) GetByID(_ context.Context, _ db.Transaction, id int64) (*model.Contest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contests[id]
	if !ok {
		return nil, repository.ErrContestNotFound
	}
	cp := *c
	return &cp, nil
}

func (r contestRepo) HasProblem(_ context.Context, _ db.Transaction, contestID, problemID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.contestProblems[[2]int64{contestID, problemID}], nil
}

func (r contestRepo) MarkFinalized(_ context.Context, _ db.Transaction, contestID int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.writes++
	c := r.s.contests[contestID]
	c.Status = model.ContestFinalized
	if c.FinalizedAt == nil {
		c.FinalizedAt = &at
	}
	return nil
}

// Submissions

type submissionRepo struct{ memRepos }

func (r submissionRepo) Create(_ context.Context, _ db.Transaction, s *model.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.writes++
	cp := *s
	r.s.submissions = append(r.s.submissions, &cp)
	return nil
}

func (r submissionRepo) GetByID(_ context.Context, _ db.Transaction, id string) (*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.submissions {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSubmissionNotFound
}

func (r submissionRepo) ListByCandidateContest(_ context.Context, _ db.Transaction, candidateID, contestID int64) ([]*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Submission
	for _, s := range r.s.submissions {
		if s.CandidateID == candidateID && s.ContestID == contestID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r submissionRepo) BestScores(_ context.Context, _ db.Transaction, candidateID, contestID int64) (map[int64]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	best, _ := r.s.bestLocked(candidateID, contestID)
	return best, nil
}

func (s *memStore) bestLocked(candidateID, contestID int64) (map[int64]int, *time.Time) {
	best := map[int64]int{}
	var last *time.Time
	for _, sub := range s.submissions {
		if sub.CandidateID != candidateID || sub.ContestID != contestID {
			continue
		}
		if !s.contestProblems[[2]int64{contestID, sub.ProblemID}] {
			continue
		}
		if cur, ok := best[sub.ProblemID]; !ok || sub.Score > cur {
			best[sub.ProblemID] = sub.Score
		}
		if last == nil || sub.CreatedAt.After(*last) {
			at := sub.CreatedAt
			last = &at
		}
	}
	return best, last
}

// Participations

type participationRepo struct{ memRepos }

func (r participationRepo) RecomputeTotal(_ context.Context, _ db.Transaction, candidateID, contestID int64) (*model.Participation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if len(r.s.recomputeErrs) > 0 {
		err := r.s.recomputeErrs[0]
		r.s.recomputeErrs = r.s.recomputeErrs[1:]
		return nil, err
	}
	r.s.writes++
	best, last := r.s.bestLocked(candidateID, contestID)
	total := 0
	for _, v := range best {
		total += v
	}
	key := [2]int64{candidateID, contestID}
	p, ok := r.s.participations[key]
	if !ok {
		p = &model.Participation{CandidateID: candidateID, ContestID: contestID}
		r.s.participations[key] = p
	}
	p.Score = total
	if last != nil {
		p.SubmittedAt = last
	}
	cp := *p
	return &cp, nil
}

func (r participationRepo) Get(_ context.Context, _ db.Transaction, candidateID, contestID int64) (*model.Participation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participations[[2]int64{candidateID, contestID}]
	if !ok {
		return nil, repository.ErrParticipationNotFound
	}
	cp := *p
	return &cp, nil
}

func (r participationRepo) ListByContest(_ context.Context, _ db.Transaction, contestID int64) ([]model.Participation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Participation
	for key, p := range r.s.participations {
		if key[1] == contestID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CandidateID < out[j].CandidateID })
	return out, nil
}

func (r participationRepo) UpdateContestRanks(_ context.Context, _ db.Transaction, contestID int64, ranks map[int64]int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.writes++
	for id, rank := range ranks {
		v := rank
		r.s.participations[[2]int64{id, contestID}].ContestRank = &v
	}
	return len(ranks), nil
}

// Performances

type performanceRepo struct{ memRepos }

func (r performanceRepo) ListByCandidates(_ context.Context, _ db.Transaction, domainID int64, ids []int64) (map[int64]model.Performance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[int64]model.Performance{}
	for _, id := range ids {
		if p, ok := r.s.performances[[2]int64{id, domainID}]; ok {
			out[id] = *p
		}
	}
	return out, nil
}

func (r performanceRepo) ListByDomainForUpdate(_ context.Context, _ db.Transaction, domainID int64) ([]model.Performance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Performance
	for key, p := range r.s.performances {
		if key[1] == domainID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CandidateID < out[j].CandidateID })
	return out, nil
}

func (r performanceRepo) UpsertRatings(_ context.Context, _ db.Transaction, domainID int64, writes []repository.RatingWrite) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.writes++
	for _, w := range writes {
		key := [2]int64{w.CandidateID, domainID}
		p, ok := r.s.performances[key]
		if !ok {
			p = &model.Performance{CandidateID: w.CandidateID, DomainID: domainID, LastActiveAt: w.LastActiveAt}
			r.s.performances[key] = p
		}
		p.Rating = w.Rating
		p.BaseRating = w.BaseRating
		p.LastContestID = w.LastContestID
		if w.LastActiveAt.After(p.LastActiveAt) {
			p.LastActiveAt = w.LastActiveAt
		}
	}
	return len(writes), nil
}

func (r performanceRepo) ApplyPlacements(_ context.Context, _ db.Transaction, domainID int64, writes []repository.PlacementWrite, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.writes++
	for _, w := range writes {
		p := r.s.performances[[2]int64{w.Performance.CandidateID, domainID}]
		sameRank := p.CurrentRank != nil && *p.CurrentRank == w.Rank
		sameTier := p.TierID != nil && *p.TierID == w.TierID
		if !sameRank || !sameTier {
			at := now
			p.TierAssignedAt = &at
		}
		rank, tier := w.Rank, w.TierID
		p.CurrentRank = &rank
		p.TierID = &tier
	}
	return len(writes), nil
}

// Tiers

type tierRepo struct{ memRepos }

func (r tierRepo) ListByDomain(_ context.Context, _ db.Transaction, domainID int64) ([]model.Tier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]model.Tier(nil), r.s.tiers[domainID]...), nil
}

type recordingPublisher struct {
	mu             sync.Mutex
	graded         []*model.Submission
	participations []*model.Participation
	performances   []model.Performance
	finalized      []model.FinalizeResult
}

func (p *recordingPublisher) PublishSubmissionGraded(_ context.Context, s *model.Submission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graded = append(p.graded, s)
	return nil
}

func (p *recordingPublisher) PublishParticipationUpdated(_ context.Context, part *model.Participation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participations = append(p.participations, part)
	return nil
}

func (p *recordingPublisher) PublishPerformanceUpdated(_ context.Context, perfs []model.Performance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.performances = append(p.performances, perfs...)
	return nil
}

func (p *recordingPublisher) PublishContestFinalized(_ context.Context, r model.FinalizeResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized = append(p.finalized, r)
	return nil
}
