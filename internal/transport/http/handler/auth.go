package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gradeflow/internal/pkg/jwtutil"
	"gradeflow/internal/transport/http/middleware"
	"gradeflow/internal/transport/http/response"
)

type AuthHandler struct {
	apiKey    string
	jwtSecret string
	tokenTTL  time.Duration
}

type TokenRequest struct {
	APIKey string `json:"apiKey" binding:"required"`
	Caller string `json:"caller" binding:"max=64"`
}

func NewAuthHandler(apiKey, jwtSecret string, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		apiKey:    apiKey,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// Token trades the shared key for a short-lived bearer token.
func (h *AuthHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if !middleware.SameKey(req.APIKey, h.apiKey) {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid api key")
		return
	}

	caller := req.Caller
	if caller == "" {
		caller = "client"
	}
	token, expiresAt, err := jwtutil.GenerateToken(h.jwtSecret, h.tokenTTL, caller)
	if err != nil {
		log.Printf("issue token failed: %v", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "issue token failed")
		return
	}

	response.OK(c, gin.H{
		"token":     token,
		"expiresAt": expiresAt,
	})
}
