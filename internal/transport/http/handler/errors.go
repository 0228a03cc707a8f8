package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"gradeflow/internal/app"
	"gradeflow/internal/transport/http/response"
)

// writeError maps lifecycle errors onto the response envelope.
func writeError(c *gin.Context, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeImageTooLarge, "request body too large")
	case errors.Is(err, app.ErrValidation):
		response.Error(c, http.StatusBadRequest, response.CodeValidation, err.Error())
	case errors.Is(err, app.ErrInvalidFormat):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidFormat, err.Error())
	case errors.Is(err, app.ErrInsufficientScreenshots):
		response.Error(c, http.StatusBadRequest, response.CodeInsufficientScreenshots, err.Error())
	case errors.Is(err, app.ErrMissingText):
		response.Error(c, http.StatusBadRequest, response.CodeMissingText, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidState):
		response.Error(c, http.StatusConflict, response.CodeInvalidState, err.Error())
	case errors.Is(err, app.ErrSessionExpired):
		response.Error(c, http.StatusGone, response.CodeSessionExpired, err.Error())
	case errors.Is(err, app.ErrImageTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeImageTooLarge, err.Error())
	case errors.Is(err, app.ErrUpstream):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailure, err.Error())
	case errors.Is(err, app.ErrGradingDispatch):
		response.Error(c, http.StatusServiceUnavailable, response.CodeGradingUnavailable, err.Error())
	default:
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "internal error")
	}
}

// bindError treats an oversized body as 413 and anything else as a bad shape.
func bindError(c *gin.Context, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(c, err)
		return
	}
	response.Error(c, http.StatusBadRequest, response.CodeValidation, "invalid request payload")
}
