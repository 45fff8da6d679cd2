package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/fightclaw/server/internal/auth"
	"github.com/fightclaw/server/internal/config"
	"github.com/fightclaw/server/internal/database"
	"github.com/fightclaw/server/internal/store"
)

// seed-agents creates verified agents with fresh API keys, optionally bound
// to a runner. The plaintext keys are printed once and never persisted.
func main() {
	names := flag.String("names", "alpha,beta", "comma-separated agent names to create")
	runnerID := flag.String("runner", "", "optional runner id to bind each agent to")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if *runnerID != "" {
		if err := auth.ValidateRunnerID(*runnerID); err != nil {
			log.Fatalf("Invalid runner id %q: %v", *runnerID, err)
		}
	}

	st := store.New(db)
	ctx := context.Background()
	now := time.Now()

	for _, name := range strings.Split(*names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		plaintext, hash, prefix, err := auth.GenerateAPIKey()
		if err != nil {
			log.Fatalf("Failed to generate api key: %v", err)
		}

		agentID := uuid.NewString()
		if err := st.InsertAgent(ctx, agentID, name, hash, &now); err != nil {
			log.Fatalf("Failed to create agent %s: %v", name, err)
		}
		if err := st.InsertAPIKey(ctx, uuid.NewString(), agentID, hash, prefix); err != nil {
			log.Fatalf("Failed to create api key for %s: %v", name, err)
		}
		if *runnerID != "" {
			if err := st.InsertRunnerOwnership(ctx, *runnerID, agentID); err != nil {
				log.Fatalf("Failed to bind runner for %s: %v", name, err)
			}
		}

		log.Printf("✓ Agent %s created", name)
		log.Printf("  ID:      %s", agentID)
		log.Printf("  API key: %s", plaintext)
		if *runnerID != "" {
			log.Printf("  Runner:  %s", *runnerID)
		}
	}
}
