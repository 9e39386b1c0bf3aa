package model

import "time"

// Status is the terminal result of judging a submission.
type Status string

const (
	StatusAccepted    Status = "Accepted"
	StatusWrongAnswer Status = "WrongAnswer"
	StatusSubmitted   Status = "Submitted"
	StatusError       Status = "Error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusSubmitted, StatusError:
		return true
	}
	return false
}

// Case failure reasons reported by the compiled-code judge.
const (
	ReasonPassed       = "passed"
	ReasonWrongAnswer  = "wrong_answer"
	ReasonRuntimeError = "runtime_error"
	ReasonSandboxError = "sandbox_error"
	ReasonTimeout      = "timeout"
)

// CaseResult describes one hidden test case run.
type CaseResult struct {
	Ordinal int    `json:"ordinal"`
	Passed  bool   `json:"passed"`
	Reason  string `json:"reason"`
}

// Verdict is what a judge produces for one submission.
type Verdict struct {
	Score    int          `json:"score"`
	Status   Status       `json:"status"`
	Verified bool         `json:"verified"`
	Passed   int          `json:"passed"`
	Total    int          `json:"total"`
	Cases    []CaseResult `json:"cases,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Payload carries what the candidate submitted. Which fields matter depends on the category.
type Payload struct {
	Language string `json:"language,omitempty"`
	Source   string `json:"source,omitempty"`
	Query    string `json:"query,omitempty"`

	// Client-checked problems report their own outcome.
	ClientScore  *int   `json:"client_score,omitempty"`
	ClientStatus Status `json:"client_status,omitempty"`
}

// Submission is append-only: created once judging completes and never mutated.
type Submission struct {
	ID          string    `json:"id"`
	CandidateID int64     `json:"candidate_id"`
	ContestID   int64     `json:"contest_id"`
	ProblemID   int64     `json:"problem_id"`
	Category    Category  `json:"category"`
	Payload     Payload   `json:"payload"`
	Status      Status    `json:"status"`
	Score       int       `json:"score"`
	Verified    bool      `json:"verified"`
	Details     Verdict   `json:"details"`
	CreatedAt   time.Time `json:"created_at"`
}
