package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"assessengine/internal/common/db"
	"assessengine/internal/grading/model"
)

var ErrParticipationNotFound = errors.New("participation not found")

// ParticipationRepository maintains per-contest totals.
type ParticipationRepository interface {
	// RecomputeTotal rewrites the total from the stored submissions. Concurrent calls commute.
	RecomputeTotal(ctx context.Context, tx db.Transaction, candidateID, contestID int64) (*model.Participation, error)
	Get(ctx context.Context, tx db.Transaction, candidateID, contestID int64) (*model.Participation, error)
	ListByContest(ctx context.Context, tx db.Transaction, contestID int64) ([]model.Participation, error)
	// UpdateContestRanks writes rankWithinContest. ranks maps candidate id to rank.
	UpdateContestRanks(ctx context.Context, tx db.Transaction, contestID int64, ranks map[int64]int) (int, error)
}

type MySQLParticipationRepository struct {
	db        db.Database
	batchSize int
}

func NewParticipationRepository(database db.Database) *MySQLParticipationRepository {
	return &MySQLParticipationRepository{db: database, batchSize: defaultBatchSize}
}

const participationColumns = "candidate_id, contest_id, score, contest_rank, submitted_at, updated_at"

func (r *MySQLParticipationRepository) RecomputeTotal(ctx context.Context, tx db.Transaction, candidateID, contestID int64) (*model.Participation, error) {
	query := `
		INSERT INTO contest_participations (candidate_id, contest_id, score, submitted_at, updated_at)
		SELECT ?, ?, COALESCE(SUM(best.best_score), 0), MAX(best.last_at), CURRENT_TIMESTAMP(3)
		FROM (
			SELECT s.problem_id, MAX(s.score) AS best_score, MAX(s.created_at) AS last_at
			FROM submissions s
			JOIN contest_problems cp ON cp.contest_id = s.contest_id AND cp.problem_id = s.problem_id
			WHERE s.candidate_id = ? AND s.contest_id = ?
			GROUP BY s.problem_id
		) best
		ON DUPLICATE KEY UPDATE
			score = VALUES(score),
			submitted_at = COALESCE(VALUES(submitted_at), submitted_at),
			updated_at = VALUES(updated_at)`
	q := db.GetQuerier(r.db, tx)
	if _, err := q.Exec(ctx, query, candidateID, contestID, candidateID, contestID); err != nil {
		return nil, err
	}
	return r.Get(ctx, tx, candidateID, contestID)
}

func (r *MySQLParticipationRepository) Get(ctx context.Context, tx db.Transaction, candidateID, contestID int64) (*model.Participation, error) {
	query := "SELECT " + participationColumns + " FROM contest_participations WHERE candidate_id = ? AND contest_id = ?"
	p, err := scanParticipation(db.GetQuerier(r.db, tx).QueryRow(ctx, query, candidateID, contestID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrParticipationNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *MySQLParticipationRepository) ListByContest(ctx context.Context, tx db.Transaction, contestID int64) ([]model.Participation, error) {
	query := "SELECT " + participationColumns + " FROM contest_participations WHERE contest_id = ? ORDER BY candidate_id"
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *MySQLParticipationRepository) UpdateContestRanks(ctx context.Context, tx db.Transaction, contestID int64, ranks map[int64]int) (int, error) {
	if len(ranks) == 0 {
		return 0, nil
	}
	ids := sortedKeys(ranks)
	q := db.GetQuerier(r.db, tx)
	updated := 0
	for _, chunk := range chunkInt64(ids, r.batchSize) {
		var b strings.Builder
		args := make([]interface{}, 0, len(chunk)*3+1)
		b.WriteString("UPDATE contest_participations SET contest_rank = CASE candidate_id")
		for _, id := range chunk {
			b.WriteString(" WHEN ? THEN ?")
			args = append(args, id, ranks[id])
		}
		b.WriteString(" END WHERE contest_id = ? AND candidate_id IN (")
		b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", "))
		b.WriteString(")")
		args = append(args, contestID)
		for _, id := range chunk {
			args = append(args, id)
		}
		if _, err := q.Exec(ctx, b.String(), args...); err != nil {
			return updated, err
		}
		updated += len(chunk)
	}
	return updated, nil
}

func scanParticipation(scanner db.Scanner) (model.Participation, error) {
	var (
		p           model.Participation
		rank        sql.NullInt64
		submittedAt sql.NullTime
	)
	if err := scanner.Scan(&p.CandidateID, &p.ContestID, &p.Score, &rank, &submittedAt, &p.UpdatedAt); err != nil {
		return model.Participation{}, err
	}
	if rank.Valid {
		v := int(rank.Int64)
		p.ContestRank = &v
	}
	if submittedAt.Valid {
		at := submittedAt.Time
		p.SubmittedAt = &at
	}
	return p, nil
}
