package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gradeflow/internal/app"
	"gradeflow/internal/transport/http/response"
)

type GradingHandler struct {
	manager *app.SessionManager
}

type TriggerGradingRequest struct {
	SessionID             string `json:"sessionId" binding:"required"`
	SubjectTextOverride   string `json:"subjectTextOverride"`
	ReferenceTextOverride string `json:"referenceTextOverride"`
}

func NewGradingHandler(manager *app.SessionManager) *GradingHandler {
	return &GradingHandler{manager: manager}
}

// Trigger answers 202 as soon as the job is handed off.
func (h *GradingHandler) Trigger(c *gin.Context) {
	var req TriggerGradingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.manager.TriggerGrading(c.Request.Context(), app.TriggerGradingInput{
		SessionID:             req.SessionID,
		SubjectTextOverride:   req.SubjectTextOverride,
		ReferenceTextOverride: req.ReferenceTextOverride,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, gin.H{
		"gradingId":                 result.GradingID,
		"estimatedCompletionTimeMs": result.EstimatedCompletionTimeMs,
		"status":                    result.Status,
	})
}

// Status is what clients poll. It has no side effect beyond lazy expiry.
func (h *GradingHandler) Status(c *gin.Context) {
	session, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, newStatusView(session))
}
