package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GenerateAdminToken generates a secure random token for admin API authentication
func GenerateAdminToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// AdminAuthMiddleware validates bearer tokens for the admin API.
// When rl is non-nil, failed attempts are charged to the client IP.
func AdminAuthMiddleware(token string, rl *AuthRateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fail := func(msg string) {
			if rl != nil {
				rl.RecordFailure(c.ClientIP())
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			fail("Authorization header required")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			fail("Invalid authorization header format")
			return
		}

		providedToken := strings.TrimSpace(parts[1])
		if providedToken == "" {
			fail("Token required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(providedToken), []byte(token)) != 1 {
			logger.Warn("Invalid admin token attempt", zap.String("client_ip", c.ClientIP()))
			fail("Invalid token")
			return
		}

		c.Next()
	}
}
