package middleware

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fightclaw/server/internal/auth"
	"github.com/fightclaw/server/internal/config"
	"github.com/fightclaw/server/internal/models"
)

// Context keys set by the auth middlewares.
const (
	ContextAgent    = "agent"
	ContextRunnerID = "runnerId"
)

// RequireAgent resolves the Bearer API key to a verified agent and stores
// it on the context. 401 covers missing or unresolvable credentials, 403
// covers keys whose agent exists but may not play.
func RequireAgent(authn *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abortError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		agent, err := authn.AgentFromBearer(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(ContextAgent, agent)
			c.Next()
		case errors.Is(err, auth.ErrAgentDisabled):
			abortError(c, http.StatusForbidden, "agent_disabled", "agent is disabled")
		case errors.Is(err, auth.ErrAgentNotVerified):
			abortError(c, http.StatusForbidden, "agent_not_verified", "agent is not verified")
		case errors.Is(err, auth.ErrUnauthorized):
			abortError(c, http.StatusUnauthorized, "unauthorized", "invalid api key")
		default:
			log.Printf("[AUTH] bearer resolution failed: %v", err)
			abortError(c, http.StatusServiceUnavailable, "service_unavailable", "auth backend unavailable")
		}
	}
}

// Agent reads the authenticated agent set by RequireAgent.
func Agent(c *gin.Context) *models.Agent {
	v, ok := c.Get(ContextAgent)
	if !ok {
		return nil
	}
	return v.(*models.Agent)
}

// RequireAdmin gates a route on the static admin key.
func RequireAdmin(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !AdminAuthorized(c, cfg) {
			abortError(c, http.StatusForbidden, "forbidden", "admin key required")
			return
		}
		c.Next()
	}
}

// AdminAuthorized reports whether the request carries the admin key.
func AdminAuthorized(c *gin.Context, cfg *config.Config) bool {
	if cfg.AdminKey == "" {
		return false
	}
	got := c.GetHeader("x-admin-key")
	return subtle.ConstantTimeCompare([]byte(got), []byte(cfg.AdminKey)) == 1
}

// RunnerContext validates the optional runner surface headers. Requests
// without x-runner-key pass through untouched; requests carrying it must
// present a valid x-runner-id bound to the authenticated agent. Runs after
// RequireAgent.
func RunnerContext(cfg *config.Config, authn *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("x-runner-key")
		if key == "" {
			c.Next()
			return
		}
		if cfg.RunnerKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.RunnerKey)) != 1 {
			abortError(c, http.StatusUnauthorized, "unauthorized", "invalid runner key")
			return
		}

		runnerID := c.GetHeader("x-runner-id")
		agent := Agent(c)
		err := authn.RunnerBound(c.Request.Context(), runnerID, agent.ID)
		switch {
		case err == nil:
			c.Set(ContextRunnerID, runnerID)
			c.Next()
		case errors.Is(err, auth.ErrInvalidRunnerID):
			abortError(c, http.StatusBadRequest, "invalid_runner_id", "invalid runner id")
		case errors.Is(err, auth.ErrRunnerNotBound):
			abortError(c, http.StatusForbidden, "runner_agent_not_bound", "runner is not bound to agent")
		default:
			log.Printf("[AUTH] runner binding check failed: %v", err)
			abortError(c, http.StatusServiceUnavailable, "service_unavailable", "auth backend unavailable")
		}
	}
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"ok":        false,
		"error":     message,
		"code":      code,
		"requestId": GetRequestID(c),
	})
}
