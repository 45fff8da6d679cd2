package middleware

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/fightclaw/server/internal/config"
)

// MoveRateLimit caps move submissions per agent per window using a Redis
// counter. Without Redis the limiter is a pass-through. Runs after
// RequireAgent.
func MoveRateLimit(cfg *config.Config, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || cfg.MoveRateLimit <= 0 {
			c.Next()
			return
		}

		agent := Agent(c)
		key := fmt.Sprintf("fc:rl:move:%s", agent.ID)

		count, err := rdb.Incr(c.Request.Context(), key).Result()
		if err != nil {
			// Redis trouble must not block gameplay
			log.Printf("[RATELIMIT] incr %s failed: %v", key, err)
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(c.Request.Context(), key, cfg.MoveRateWindow)
		}
		if count > int64(cfg.MoveRateLimit) {
			abortError(c, http.StatusTooManyRequests, "rate_limited", "too many move submissions")
			return
		}
		c.Next()
	}
}
