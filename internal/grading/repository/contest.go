package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"assessengine/internal/common/db"
	"assessengine/internal/grading/model"
)

var ErrContestNotFound = errors.New("contest not found")

// ContestRepository reads contests and records their finalization.
type ContestRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error)
	HasProblem(ctx context.Context, tx db.Transaction, contestID, problemID int64) (bool, error)
	// MarkFinalized keeps the first finalization time on replay.
	MarkFinalized(ctx context.Context, tx db.Transaction, contestID int64, at time.Time) error
}

type MySQLContestRepository struct {
	db db.Database
}

func NewContestRepository(database db.Database) *MySQLContestRepository {
	return &MySQLContestRepository{db: database}
}

func (r *MySQLContestRepository) GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error) {
	query := "SELECT id, domain_id, status, finalized_at FROM contests WHERE id = ?"
	var (
		c           model.Contest
		domainID    sql.NullInt64
		finalizedAt sql.NullTime
	)
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, contestID).Scan(&c.ID, &domainID, &c.Status, &finalizedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	c.DomainID = domainID.Int64
	if finalizedAt.Valid {
		at := finalizedAt.Time
		c.FinalizedAt = &at
	}
	return &c, nil
}

func (r *MySQLContestRepository) HasProblem(ctx context.Context, tx db.Transaction, contestID, problemID int64) (bool, error) {
	query := "SELECT 1 FROM contest_problems WHERE contest_id = ? AND problem_id = ?"
	var one int
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, contestID, problemID).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MySQLContestRepository) MarkFinalized(ctx context.Context, tx db.Transaction, contestID int64, at time.Time) error {
	query := `
		UPDATE contests
		SET status = ?, finalized_at = COALESCE(finalized_at, ?)
		WHERE id = ?`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, model.ContestFinalized, at, contestID)
	if err != nil {
		return err
	}
	if _, err := result.RowsAffected(); err != nil {
		return err
	}
	return nil
}
