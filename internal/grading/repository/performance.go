package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"assessengine/internal/common/db"
	"assessengine/internal/grading/model"
)

// RatingWrite is the rating a finalization assigns to one candidate.
type RatingWrite struct {
	CandidateID   int64
	Rating        int
	BaseRating    int
	LastContestID int64
	LastActiveAt  time.Time
}

// PlacementWrite is the domain rank and tier for one stored performance.
type PlacementWrite struct {
	Performance model.Performance
	Rank        int
	TierID      int64
}

// PerformanceRepository stores per-domain ratings, ranks and tiers.
type PerformanceRepository interface {
	ListByCandidates(ctx context.Context, tx db.Transaction, domainID int64, candidateIDs []int64) (map[int64]model.Performance, error)
	// ListByDomainForUpdate locks every performance row of the domain.
	ListByDomainForUpdate(ctx context.Context, tx db.Transaction, domainID int64) ([]model.Performance, error)
	// UpsertRatings never moves last_active_at backwards.
	UpsertRatings(ctx context.Context, tx db.Transaction, domainID int64, writes []RatingWrite) (int, error)
	// ApplyPlacements writes ranks and tiers. tier_assigned_at only moves when rank or tier changes.
	ApplyPlacements(ctx context.Context, tx db.Transaction, domainID int64, writes []PlacementWrite, now time.Time) (int, error)
}

type MySQLPerformanceRepository struct {
	db        db.Database
	batchSize int
}

func NewPerformanceRepository(database db.Database) *MySQLPerformanceRepository {
	return &MySQLPerformanceRepository{db: database, batchSize: defaultBatchSize}
}

// WithBatchSize overrides the number of rows per statement.
func (r *MySQLPerformanceRepository) WithBatchSize(size int) *MySQLPerformanceRepository {
	if size > 0 {
		r.batchSize = size
	}
	return r
}

const performanceColumns = "candidate_id, domain_id, rating, base_rating, last_contest_id, last_active_at, current_rank, tier_id, tier_assigned_at"

func (r *MySQLPerformanceRepository) ListByCandidates(ctx context.Context, tx db.Transaction, domainID int64, candidateIDs []int64) (map[int64]model.Performance, error) {
	out := make(map[int64]model.Performance, len(candidateIDs))
	q := db.GetQuerier(r.db, tx)
	for _, chunk := range chunkInt64(candidateIDs, r.batchSize) {
		query := "SELECT " + performanceColumns + " FROM candidate_domain_performances WHERE domain_id = ? AND candidate_id IN (" +
			strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") + ") FOR UPDATE"
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, domainID)
		for _, id := range chunk {
			args = append(args, id)
		}
		perfs, err := r.list(ctx, q, query, args...)
		if err != nil {
			return nil, err
		}
		for _, p := range perfs {
			out[p.CandidateID] = p
		}
	}
	return out, nil
}

func (r *MySQLPerformanceRepository) ListByDomainForUpdate(ctx context.Context, tx db.Transaction, domainID int64) ([]model.Performance, error) {
	query := "SELECT " + performanceColumns + " FROM candidate_domain_performances WHERE domain_id = ? ORDER BY candidate_id FOR UPDATE"
	return r.list(ctx, db.GetQuerier(r.db, tx), query, domainID)
}

func (r *MySQLPerformanceRepository) UpsertRatings(ctx context.Context, tx db.Transaction, domainID int64, writes []RatingWrite) (int, error) {
	q := db.GetQuerier(r.db, tx)
	written := 0
	for start := 0; start < len(writes); start += r.batchSize {
		end := start + r.batchSize
		if end > len(writes) {
			end = len(writes)
		}
		chunk := writes[start:end]
		query := `
			INSERT INTO candidate_domain_performances
				(candidate_id, domain_id, rating, base_rating, last_contest_id, last_active_at)
			VALUES ` + db.Placeholders(6, len(chunk)) + `
			ON DUPLICATE KEY UPDATE
				rating = VALUES(rating),
				base_rating = VALUES(base_rating),
				last_contest_id = VALUES(last_contest_id),
				last_active_at = GREATEST(last_active_at, VALUES(last_active_at))`
		args := make([]interface{}, 0, len(chunk)*6)
		for _, w := range chunk {
			args = append(args, w.CandidateID, domainID, w.Rating, w.BaseRating, w.LastContestID, w.LastActiveAt)
		}
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}

func (r *MySQLPerformanceRepository) ApplyPlacements(ctx context.Context, tx db.Transaction, domainID int64, writes []PlacementWrite, now time.Time) (int, error) {
	q := db.GetQuerier(r.db, tx)
	written := 0
	for start := 0; start < len(writes); start += r.batchSize {
		end := start + r.batchSize
		if end > len(writes) {
			end = len(writes)
		}
		chunk := writes[start:end]
		// tier_assigned_at is evaluated against the old rank and tier, so it must come first.
		query := `
			INSERT INTO candidate_domain_performances
				(candidate_id, domain_id, rating, base_rating, last_contest_id, last_active_at, current_rank, tier_id, tier_assigned_at)
			VALUES ` + db.Placeholders(9, len(chunk)) + `
			ON DUPLICATE KEY UPDATE
				tier_assigned_at = IF(tier_id <=> VALUES(tier_id) AND current_rank <=> VALUES(current_rank),
					tier_assigned_at, VALUES(tier_assigned_at)),
				current_rank = VALUES(current_rank),
				tier_id = VALUES(tier_id)`
		args := make([]interface{}, 0, len(chunk)*9)
		for _, w := range chunk {
			p := w.Performance
			args = append(args, p.CandidateID, domainID, p.Rating, p.BaseRating, p.LastContestID, p.LastActiveAt, w.Rank, w.TierID, now)
		}
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}

func (r *MySQLPerformanceRepository) list(ctx context.Context, q db.Querier, query string, args ...interface{}) ([]model.Performance, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Performance
	for rows.Next() {
		p, err := scanPerformance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPerformance(scanner db.Scanner) (model.Performance, error) {
	var (
		p        model.Performance
		rank     sql.NullInt64
		tierID   sql.NullInt64
		assigned sql.NullTime
	)
	err := scanner.Scan(
		&p.CandidateID,
		&p.DomainID,
		&p.Rating,
		&p.BaseRating,
		&p.LastContestID,
		&p.LastActiveAt,
		&rank,
		&tierID,
		&assigned,
	)
	if err != nil {
		return model.Performance{}, err
	}
	if rank.Valid {
		v := int(rank.Int64)
		p.CurrentRank = &v
	}
	if tierID.Valid {
		v := tierID.Int64
		p.TierID = &v
	}
	if assigned.Valid {
		at := assigned.Time
		p.TierAssignedAt = &at
	}
	return p, nil
}
