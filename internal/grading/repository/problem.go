package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"assessengine/internal/common/cache"
	"assessengine/internal/common/db"
	"assessengine/internal/grading/model"
)

const (
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 5 * time.Minute
	problemKeyPrefix       = "grading:problem:"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemRepository reads problems. Published problems are immutable, so reads are cached.
type ProblemRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error)
}

type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewProblemRepository creates a problem repository. cacheClient may be nil.
func NewProblemRepository(database db.Database, cacheClient cache.Cache, ttl time.Duration) *MySQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: defaultProblemEmptyTTL,
	}
}

func (r *MySQLProblemRepository) GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	if r.cache == nil || tx != nil {
		return r.getFromDB(ctx, tx, problemID)
	}
	problem, err := cache.GetWithCached[*model.Problem](
		ctx,
		r.cache,
		problemKey(problemID),
		r.ttl,
		r.emptyTTL,
		func(p *model.Problem) bool { return p == nil },
		marshalProblem,
		unmarshalProblem,
		func(ctx context.Context) (*model.Problem, error) {
			p, err := r.getFromDB(ctx, nil, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return nil, nil
			}
			return p, err
		},
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	query := `
		SELECT id, category, title, published, corpus_key, query_setup, query_reference
		FROM problems
		WHERE id = ?`
	var (
		p         model.Problem
		corpusKey sql.NullString
		setup     sql.NullString
		reference sql.NullString
	)
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID).Scan(
		&p.ID, &p.Category, &p.Title, &p.Published, &corpusKey, &setup, &reference,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	p.CorpusKey = corpusKey.String
	p.QuerySetup = setup.String
	p.QueryReference = reference.String
	return &p, nil
}

func problemKey(problemID int64) string {
	return problemKeyPrefix + strconv.FormatInt(problemID, 10)
}

func marshalProblem(p *model.Problem) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func unmarshalProblem(data string) (*model.Problem, error) {
	var p model.Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
