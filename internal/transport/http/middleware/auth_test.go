package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"gradeflow/internal/pkg/jwtutil"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/private", AuthCaller("shared-key", "jwt-secret"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextCallerKey))
	})
	return r
}

func TestAuthCaller(t *testing.T) {
	token, _, err := jwtutil.GenerateToken("jwt-secret", time.Hour, "grader-ui")
	assert.NoError(t, err)
	foreign, _, err := jwtutil.GenerateToken("other-secret", time.Hour, "grader-ui")
	assert.NoError(t, err)

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantCaller string
	}{
		{name: "no credential", wantStatus: http.StatusUnauthorized},
		{name: "bearer key", headers: map[string]string{"Authorization": "Bearer shared-key"}, wantStatus: http.StatusOK, wantCaller: "api-key"},
		{name: "x-api-key", headers: map[string]string{"X-API-Key": "shared-key"}, wantStatus: http.StatusOK, wantCaller: "api-key"},
		{name: "wrong x-api-key", headers: map[string]string{"X-API-Key": "nope"}, wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", headers: map[string]string{"Authorization": "Basic abc"}, wantStatus: http.StatusUnauthorized},
		{name: "issued token", headers: map[string]string{"Authorization": "Bearer " + token}, wantStatus: http.StatusOK, wantCaller: "grader-ui"},
		{name: "foreign token", headers: map[string]string{"Authorization": "Bearer " + foreign}, wantStatus: http.StatusUnauthorized},
	}
	r := newAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCaller != "" {
				assert.Equal(t, tt.wantCaller, rec.Body.String())
			}
		})
	}
}

func TestSameKeyRejectsEmptyConfiguredKey(t *testing.T) {
	assert.False(t, SameKey("", ""))
	assert.True(t, SameKey("a", "a"))
}
