package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/fightclaw/server/internal/api"
	"github.com/fightclaw/server/internal/api/handlers"
	"github.com/fightclaw/server/internal/auth"
	"github.com/fightclaw/server/internal/config"
	"github.com/fightclaw/server/internal/database"
	"github.com/fightclaw/server/internal/match"
	"github.com/fightclaw/server/internal/matchmaker"
	"github.com/fightclaw/server/internal/migrations"
	"github.com/fightclaw/server/internal/redis"
	"github.com/fightclaw/server/internal/store"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis. The server degrades without it (no restart-durable
	// deadline sweep, no shared featured cache, no rate limiting).
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Printf("Redis unavailable, continuing without it: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	st := store.New(db)
	authn := auth.NewAuthenticator(st)

	registry := match.NewRegistry(match.Deps{
		Store: st,
		Cfg:   cfg,
		RDB:   rdb,
	})
	mm := matchmaker.New(cfg, st, registry, rdb)
	registry.SetNotifier(mm)

	// Sweep turn deadlines that expired while no actor was live
	match.StartTimeoutWorker(context.Background(), registry, rdb,
		time.Duration(cfg.TimeoutPollSecs)*time.Second)

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	api.SetupRoutes(router, &handlers.Env{
		Cfg:        cfg,
		Store:      st,
		Registry:   registry,
		Matchmaker: mm,
		Auth:       authn,
		RDB:        rdb,
	})

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting Fightclaw server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
