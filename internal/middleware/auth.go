// Package middleware carries the gin middleware for the engine API:
// request throttling, bearer auth, the operator-token gate on
// destructive routes, and request logging.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ayushsreejith06/MAX-sub002/internal/crypto"
)

// SubjectKey is the gin context key holding the authenticated subject.
const SubjectKey = "authSubject"

// OperatorTokenHeader carries the plaintext operator token on
// destructive requests.
const OperatorTokenHeader = "X-Operator-Token"

// Auth validates a Bearer JWT signed with HS256. Simulation
// deployments run with auth disabled and every request passes through.
type Auth struct {
	enabled bool
	secret  []byte
	logger  *zap.Logger
}

// NewAuth builds the auth middleware. A disabled instance never
// rejects.
func NewAuth(enabled bool, secret string, logger *zap.Logger) *Auth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auth{enabled: enabled, secret: []byte(secret), logger: logger}
}

// RequireAuth returns the gin handler enforcing the bearer token.
func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Next()
			return
		}

		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			return a.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			a.logger.Warn("rejected bearer token", zap.Error(err), zap.String("client_ip", c.ClientIP()))
			abortUnauthorized(c, "invalid bearer token")
			return
		}

		if sub, err := token.Claims.GetSubject(); err == nil && sub != "" {
			c.Set(SubjectKey, sub)
		}
		c.Next()
	}
}

// RequireOperatorToken gates destructive routes behind the configured
// operator token. With no hash configured the gate is open, which is
// the simulation default.
func RequireOperatorToken(storedHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if storedHash == "" {
			c.Next()
			return
		}

		if !crypto.VerifyOperatorToken(c.GetHeader(OperatorTokenHeader), storedHash) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"status": "error",
				"error": gin.H{
					"kind":    "forbidden",
					"message": "operator token required",
				},
			})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"status": "error",
		"error": gin.H{
			"kind":    "unauthorized",
			"message": message,
		},
	})
}
