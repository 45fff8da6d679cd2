package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fightclaw/server/internal/matchmaker"
	"github.com/fightclaw/server/internal/middleware"
)

type joinQueueRequest struct {
	Mode string `json:"mode"`
}

// JoinQueue places the agent in the ranked queue or pairs it immediately.
func JoinQueue(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req joinQueueRequest
		// Body is optional; only an explicit non-ranked mode is rejected
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid_move_payload", "malformed join body")
				return
			}
		}
		if req.Mode != "" && req.Mode != "ranked" {
			respondError(c, http.StatusBadRequest, "invalid_move_payload", "unsupported mode")
			return
		}

		agent := middleware.Agent(c)
		res, err := env.Matchmaker.Join(c.Request.Context(), agent.ID)
		if err != nil {
			if errors.Is(err, matchmaker.ErrInitFailed) {
				respondError(c, http.StatusServiceUnavailable, "service_unavailable", "match initialization failed")
				return
			}
			internalError(c)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"status":     res.Status,
			"matchId":    res.MatchID,
			"opponentId": res.OpponentID,
			"requestId":  middleware.GetRequestID(c),
		})
	}
}

// QueueStatus reports the agent's queue state.
func QueueStatus(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent := middleware.Agent(c)
		res, err := env.Matchmaker.Status(c.Request.Context(), agent.ID)
		if err != nil {
			internalError(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"status":     res.Status,
			"matchId":    res.MatchID,
			"opponentId": res.OpponentID,
			"requestId":  middleware.GetRequestID(c),
		})
	}
}

// LeaveQueue removes the agent from the queue. An agent holding an active
// match cannot leave.
func LeaveQueue(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent := middleware.Agent(c)
		if err := env.Matchmaker.Leave(c.Request.Context(), agent.ID); err != nil {
			if errors.Is(err, matchmaker.ErrAlreadyMatched) {
				respondError(c, http.StatusConflict, "already_matched", "agent is in an active match")
				return
			}
			internalError(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"status":    matchmaker.StatusIdle,
			"requestId": middleware.GetRequestID(c),
		})
	}
}

// WaitForEvent long-polls one lifecycle event for the agent. Responds with
// the no_events sentinel on timeout.
func WaitForEvent(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		timeout := env.Cfg.LongPollDefault
		if raw := c.Query("timeout"); raw != "" {
			secs, err := strconv.Atoi(raw)
			if err != nil || secs < 0 {
				respondError(c, http.StatusBadRequest, "invalid_move_payload", "timeout must be a non-negative integer")
				return
			}
			timeout = time.Duration(secs) * time.Second
			if timeout > env.Cfg.LongPollDefault*2 {
				timeout = env.Cfg.LongPollDefault * 2
			}
		}

		agent := middleware.Agent(c)
		ev := env.Matchmaker.WaitForEvent(c.Request.Context(), agent.ID, timeout)
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"event":     ev.Event,
			"payload":   ev.Payload,
			"requestId": middleware.GetRequestID(c),
		})
	}
}
