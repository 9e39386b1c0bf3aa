package controller

import (
	"context"
	"strconv"

	"assessengine/internal/grading/model"
	"assessengine/internal/grading/service"
	"assessengine/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Grader is the grading surface the controller calls.
type Grader interface {
	JudgeSubmission(ctx context.Context, input service.SubmitInput) (*service.SubmitResult, error)
	RecomputeParticipationTotal(ctx context.Context, candidateID, contestID int64) (*model.Participation, error)
	GetParticipation(ctx context.Context, candidateID, contestID int64) (*model.Participation, error)
	ListSubmissions(ctx context.Context, candidateID, contestID int64) (*service.SubmissionHistory, error)
	GetSubmission(ctx context.Context, submissionID string) (*model.Submission, error)
}

// Finalizer is the finalization surface the controller calls.
type Finalizer interface {
	FinalizeContest(ctx context.Context, contestID int64) (*model.FinalizeResult, error)
	RerankDomain(ctx context.Context, domainID int64) (*model.FinalizeResult, error)
}

// GradingController handles grading HTTP endpoints.
type GradingController struct {
	grader    Grader
	finalizer Finalizer
}

// NewGradingController creates a new GradingController.
func NewGradingController(grader Grader, finalizer Finalizer) *GradingController {
	return &GradingController{grader: grader, finalizer: finalizer}
}

// Register mounts the routes under group.
func (h *GradingController) Register(group *gin.RouterGroup) {
	group.POST("/submissions", h.Submit)
	group.GET("/submissions/:id", h.GetSubmission)
	group.GET("/contests/:contestId/candidates/:candidateId", h.GetParticipation)
	group.GET("/contests/:contestId/candidates/:candidateId/submissions", h.ListSubmissions)
	group.POST("/contests/:contestId/candidates/:candidateId/recompute", h.Recompute)
	group.POST("/contests/:contestId/finalize", h.Finalize)
	group.POST("/domains/:domainId/rerank", h.Rerank)
}

// Submit grades one submission synchronously.
func (h *GradingController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	result, err := h.grader.JudgeSubmission(c.Request.Context(), service.SubmitInput{
		CandidateID: req.CandidateID,
		ContestID:   req.ContestID,
		ProblemID:   req.ProblemID,
		Category:    req.Category,
		Payload:     req.payload(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// GetSubmission returns one stored submission.
func (h *GradingController) GetSubmission(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.grader.GetSubmission(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submission)
}

// GetParticipation returns a candidate's contest total and rank.
func (h *GradingController) GetParticipation(c *gin.Context) {
	contestID, candidateID, ok := participationIDs(c)
	if !ok {
		return
	}
	participation, err := h.grader.GetParticipation(c.Request.Context(), candidateID, contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, participation)
}

func (h *GradingController) ListSubmissions(c *gin.Context) {
	contestID, candidateID, ok := participationIDs(c)
	if !ok {
		return
	}
	history, err := h.grader.ListSubmissions(c.Request.Context(), candidateID, contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, history)
}

// Recompute rebuilds a participation total.
func (h *GradingController) Recompute(c *gin.Context) {
	contestID, candidateID, ok := participationIDs(c)
	if !ok {
		return
	}
	participation, err := h.grader.RecomputeParticipationTotal(c.Request.Context(), candidateID, contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, participation)
}

// Finalize runs contest finalization.
func (h *GradingController) Finalize(c *gin.Context) {
	contestID, ok := pathID(c, "contestId")
	if !ok {
		return
	}
	result, err := h.finalizer.FinalizeContest(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Rerank recomputes a domain's ranks and tiers.
func (h *GradingController) Rerank(c *gin.Context) {
	domainID, ok := pathID(c, "domainId")
	if !ok {
		return
	}
	result, err := h.finalizer.RerankDomain(c.Request.Context(), domainID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func participationIDs(c *gin.Context) (contestID, candidateID int64, ok bool) {
	if contestID, ok = pathID(c, "contestId"); !ok {
		return 0, 0, false
	}
	if candidateID, ok = pathID(c, "candidateId"); !ok {
		return 0, 0, false
	}
	return contestID, candidateID, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid "+name)
		return 0, false
	}
	return id, true
}
