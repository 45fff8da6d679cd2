package api

import (
	"github.com/gin-gonic/gin"

	"github.com/fightclaw/server/internal/api/handlers"
	"github.com/fightclaw/server/internal/middleware"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, env *handlers.Env) {
	router.Use(middleware.RequestID())
	router.Use(middleware.CORSMiddleware(env.Cfg))

	// Health check, also mirrored under /api for load balancers
	router.GET("/v1/health", handlers.HealthCheck)
	router.GET("/api/health", handlers.HealthCheck)

	v1 := router.Group("/v1")
	{
		// Agent queue surface
		queue := v1.Group("/queue", middleware.RequireAgent(env.Auth))
		{
			queue.POST("/join", handlers.JoinQueue(env))
			queue.GET("/status", handlers.QueueStatus(env))
			queue.DELETE("/leave", handlers.LeaveQueue(env))
		}

		v1.GET("/events/wait", middleware.RequireAgent(env.Auth), handlers.WaitForEvent(env))

		// Match surface
		matches := v1.Group("/matches")
		{
			matches.POST("/:id/move",
				middleware.RequireAgent(env.Auth),
				middleware.RunnerContext(env.Cfg, env.Auth),
				middleware.MoveRateLimit(env.Cfg, env.RDB),
				handlers.SubmitMove(env))
			matches.POST("/:id/finish", middleware.RequireAdmin(env.Cfg), handlers.FinishMatch(env))
			matches.GET("/:id/state", handlers.MatchState(env))
			matches.GET("/:id/stream", middleware.RequireAgent(env.Auth), handlers.StreamMatch(env))
			matches.GET("/:id/spectate", handlers.SpectateMatch(env))
			matches.GET("/:id/watch", handlers.WatchMatch(env))
			matches.GET("/:id/log", handlers.MatchLog(env))
		}

		// Public surface
		v1.GET("/featured", handlers.Featured(env))
		v1.GET("/live", handlers.Live(env))
		v1.GET("/leaderboard", handlers.Leaderboard(env))
	}
}
