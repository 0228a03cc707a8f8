package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gradeflow/internal/app"
	"gradeflow/internal/model"
	"gradeflow/internal/transport/http/response"
)

type SessionHandler struct {
	manager *app.SessionManager
}

type CreateSessionRequest struct {
	UserAgent     string `json:"userAgent" binding:"max=512"`
	ClientVersion string `json:"clientVersion" binding:"max=64"`
	Platform      string `json:"platform" binding:"max=64"`
}

type UploadScreenshotRequest struct {
	Role      string `json:"role" binding:"required"`
	ImageData string `json:"imageData" binding:"required"`
}

func NewSessionHandler(manager *app.SessionManager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	session, err := h.manager.Create(c.Request.Context(), app.CreateSessionInput{
		UserAgent:     req.UserAgent,
		ClientVersion: req.ClientVersion,
		Platform:      req.Platform,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.JSON(c, http.StatusCreated, gin.H{
		"sessionId": session.ID,
		"status":    session.Status,
		"expiresAt": session.ExpiresAt,
	})
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, newSessionView(session))
}

func (h *SessionHandler) UploadScreenshot(c *gin.Context) {
	var req UploadScreenshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.manager.IngestScreenshot(c.Request.Context(), app.IngestScreenshotInput{
		SessionID: c.Param("id"),
		Role:      model.AnswerRole(req.Role),
		ImageData: req.ImageData,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.OK(c, gin.H{
		"screenshotId":    result.ScreenshotID,
		"ocrResult":       result.OCRResult,
		"sessionStatus":   result.SessionStatus,
		"readyForGrading": result.ReadyForGrading,
	})
}

func (h *SessionHandler) Results(c *gin.Context) {
	session, err := h.manager.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, resultsView{
		SessionID:     session.ID,
		Status:        session.Status,
		GradingResult: session.GradingResult,
	})
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.manager.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"deleted": true})
}
