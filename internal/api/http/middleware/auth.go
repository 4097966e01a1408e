package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tailmon/tailmon/internal/agents"
	"github.com/tailmon/tailmon/internal/storage"
)

const (
	APIKeyHeader = "X-API-Key"
	AgentIDKey   = "agent_id"
)

type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (string, error)
}

// APIKeyAuth admits requests carrying the API key of any registered agent and stores the
// agent id in the context under AgentIDKey.
func APIKeyAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader(APIKeyHeader)
		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing API key",
				"code":  "unauthenticated",
			})
			return
		}

		agentID, err := auth.Authenticate(c.Request.Context(), providedKey)
		if err != nil {
			if errors.Is(err, storage.ErrUnavailable) {
				slog.Error("Failed to authenticate request", "path", c.Request.URL.Path, "error", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "storage unavailable",
					"code":  "storage_unavailable",
				})
				return
			}
			if !errors.Is(err, agents.ErrUnauthenticated) {
				slog.Error("Unexpected authentication failure", "path", c.Request.URL.Path, "error", err)
			}
			slog.Warn("Invalid API key attempt",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
				"code":  "unauthenticated",
			})
			return
		}

		c.Set(AgentIDKey, agentID)
		c.Next()
	}
}
