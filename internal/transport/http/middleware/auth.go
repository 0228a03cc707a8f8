package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gradeflow/internal/pkg/jwtutil"
	"gradeflow/internal/transport/http/response"
)

const ContextCallerKey = "caller"

// AuthCaller lets a request through when it carries the shared API key, as a
// bearer token or in X-API-Key, or a token issued by POST /auth/token.
func AuthCaller(apiKey, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
			if !SameKey(key, apiKey) {
				unauthorized(c, "invalid api key")
				return
			}
			c.Set(ContextCallerKey, "api-key")
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			unauthorized(c, "missing authorization header")
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			unauthorized(c, "invalid authorization scheme")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		if SameKey(token, apiKey) {
			c.Set(ContextCallerKey, "api-key")
			c.Next()
			return
		}

		claims, err := jwtutil.ParseToken(jwtSecret, token)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}

		c.Set(ContextCallerKey, claims.Caller)
		c.Next()
	}
}

func SameKey(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(c *gin.Context, message string) {
	response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, message)
	c.Abort()
}
