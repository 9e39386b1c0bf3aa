package controller

import "assessengine/internal/grading/model"

// SubmitRequest is the body of a grading request.
type SubmitRequest struct {
	CandidateID  int64          `json:"candidate_id" binding:"required"`
	ContestID    int64          `json:"contest_id" binding:"required"`
	ProblemID    int64          `json:"problem_id" binding:"required"`
	Category     model.Category `json:"category" binding:"required"`
	Language     string         `json:"language"`
	Source       string         `json:"source"`
	Query        string         `json:"query"`
	ClientScore  *int           `json:"client_score"`
	ClientStatus model.Status   `json:"client_status"`
}

func (r SubmitRequest) payload() model.Payload {
	return model.Payload{
		Language:     r.Language,
		Source:       r.Source,
		Query:        r.Query,
		ClientScore:  r.ClientScore,
		ClientStatus: r.ClientStatus,
	}
}
