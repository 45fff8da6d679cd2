package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fightclaw/server/internal/middleware"
)

// Featured returns the current featured-match snapshot.
func Featured(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := env.Matchmaker.Featured(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"matchId":   snap.MatchID,
			"status":    snap.Status,
			"players":   snap.Players,
			"checkedAt": snap.CheckedAt.UnixMilli(),
			"requestId": middleware.GetRequestID(c),
		})
	}
}

// Live returns the featured match's live state.
func Live(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, st := env.Matchmaker.Live(c.Request.Context())
		if id == "" || st == nil {
			c.JSON(http.StatusOK, gin.H{
				"ok":        true,
				"matchId":   nil,
				"state":     nil,
				"requestId": middleware.GetRequestID(c),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"matchId":   id,
			"state":     st,
			"requestId": middleware.GetRequestID(c),
		})
	}
}

// Leaderboard returns the top agents by rating.
func Leaderboard(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		rows, err := env.Store.SelectLeaderboard(c.Request.Context(), limit)
		if err != nil {
			respondError(c, http.StatusServiceUnavailable, "service_unavailable", "store unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":          true,
			"leaderboard": rows,
			"requestId":   middleware.GetRequestID(c),
		})
	}
}
