package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"assessengine/internal/common/db"
	"assessengine/internal/grading/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrSubmissionExists   = errors.New("submission already exists")
)

// SubmissionRepository stores graded submissions. Submissions are append-only.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error)
	ListByCandidateContest(ctx context.Context, tx db.Transaction, candidateID, contestID int64) ([]*model.Submission, error)
	// BestScores returns the highest score per problem among problems attached to the contest.
	BestScores(ctx context.Context, tx db.Transaction, candidateID, contestID int64) (map[int64]int, error)
}

type MySQLSubmissionRepository struct {
	db db.Database
}

func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = "id, candidate_id, contest_id, problem_id, category, payload, status, score, verified, details, created_at"

func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	payload, err := json.Marshal(submission.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}
	details, err := json.Marshal(submission.Details)
	if err != nil {
		return fmt.Errorf("marshal details failed: %w", err)
	}

	query := "INSERT INTO submissions (" + submissionColumns + ") VALUES " + db.Placeholders(11, 1)
	_, err = db.GetQuerier(r.db, tx).Exec(ctx, query,
		submission.ID,
		submission.CandidateID,
		submission.ContestID,
		submission.ProblemID,
		submission.Category,
		payload,
		submission.Status,
		submission.Score,
		submission.Verified,
		details,
		submission.CreatedAt,
	)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return ErrSubmissionExists
		}
		return err
	}
	return nil
}

func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ?"
	s, err := scanSubmission(db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *MySQLSubmissionRepository) ListByCandidateContest(ctx context.Context, tx db.Transaction, candidateID, contestID int64) ([]*model.Submission, error) {
	query := "SELECT " + submissionColumns + `
		FROM submissions
		WHERE candidate_id = ? AND contest_id = ?
		ORDER BY created_at, id`
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, candidateID, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *MySQLSubmissionRepository) BestScores(ctx context.Context, tx db.Transaction, candidateID, contestID int64) (map[int64]int, error) {
	query := `
		SELECT s.problem_id, MAX(s.score)
		FROM submissions s
		JOIN contest_problems cp ON cp.contest_id = s.contest_id AND cp.problem_id = s.problem_id
		WHERE s.candidate_id = ? AND s.contest_id = ?
		GROUP BY s.problem_id`
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, candidateID, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	best := make(map[int64]int)
	for rows.Next() {
		var problemID int64
		var score int
		if err := rows.Scan(&problemID, &score); err != nil {
			return nil, err
		}
		best[problemID] = score
	}
	return best, rows.Err()
}

func scanSubmission(scanner db.Scanner) (*model.Submission, error) {
	var (
		s       model.Submission
		payload []byte
		details []byte
	)
	err := scanner.Scan(
		&s.ID,
		&s.CandidateID,
		&s.ContestID,
		&s.ProblemID,
		&s.Category,
		&payload,
		&s.Status,
		&s.Score,
		&s.Verified,
		&details,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s.Payload); err != nil {
			return nil, fmt.Errorf("decode payload failed: %w", err)
		}
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &s.Details); err != nil {
			return nil, fmt.Errorf("decode details failed: %w", err)
		}
	}
	return &s, nil
}
