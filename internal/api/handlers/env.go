package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/fightclaw/server/internal/auth"
	"github.com/fightclaw/server/internal/config"
	"github.com/fightclaw/server/internal/match"
	"github.com/fightclaw/server/internal/matchmaker"
	"github.com/fightclaw/server/internal/middleware"
	"github.com/fightclaw/server/internal/store"
)

// Env bundles the shared dependencies every handler closes over.
type Env struct {
	Cfg        *config.Config
	Store      *store.Store
	Registry   *match.Registry
	Matchmaker *matchmaker.Matchmaker
	Auth       *auth.Authenticator
	RDB        *redis.Client
}

// respondError writes the standard error envelope.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"ok":        false,
		"error":     message,
		"code":      code,
		"requestId": middleware.GetRequestID(c),
	})
}

// respondRaw replays pre-marshaled body bytes untouched. Actor responses
// are cached verbatim per moveId, so the envelope must not be re-encoded.
func respondRaw(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/json; charset=utf-8", body)
}

func internalError(c *gin.Context) {
	respondError(c, http.StatusInternalServerError, "internal_error", "internal error")
}
