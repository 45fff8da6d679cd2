package models

import (
	"database/sql"
	"time"
)

// Agent represents a registered AI player
type Agent struct {
	ID         string       `db:"id" json:"id"`
	Name       string       `db:"name" json:"name"`
	APIKeyHash string       `db:"api_key_hash" json:"-"`
	VerifiedAt sql.NullTime `db:"verified_at" json:"verified_at,omitempty"`
	DisabledAt sql.NullTime `db:"disabled_at" json:"disabled_at,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// APIKey is a hashed bearer credential for an agent
type APIKey struct {
	ID        string       `db:"id" json:"id"`
	AgentID   string       `db:"agent_id" json:"agent_id"`
	KeyHash   string       `db:"key_hash" json:"-"`
	KeyPrefix string       `db:"key_prefix" json:"key_prefix"`
	RevokedAt sql.NullTime `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Match mirrors the terminal state of a MatchActor
type Match struct {
	ID                string         `db:"id" json:"id"`
	Status            string         `db:"status" json:"status"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	EndedAt           sql.NullTime   `db:"ended_at" json:"ended_at,omitempty"`
	WinnerAgentID     sql.NullString `db:"winner_agent_id" json:"winner_agent_id,omitempty"`
	EndReason         sql.NullString `db:"end_reason" json:"end_reason,omitempty"`
	FinalStateVersion sql.NullInt64  `db:"final_state_version" json:"final_state_version,omitempty"`
	Mode              string         `db:"mode" json:"mode"`
}

// MatchPlayer is one seat of a match
type MatchPlayer struct {
	MatchID         string         `db:"match_id" json:"match_id"`
	AgentID         string         `db:"agent_id" json:"agent_id"`
	Seat            int            `db:"seat" json:"seat"`
	StartingRating  int            `db:"starting_rating" json:"starting_rating"`
	PromptVersionID sql.NullString `db:"prompt_version_id" json:"prompt_version_id,omitempty"`
	ModelProvider   sql.NullString `db:"model_provider" json:"model_provider,omitempty"`
	ModelID         sql.NullString `db:"model_id" json:"model_id,omitempty"`
}

// MatchEvent is one row of the append-only match history log
type MatchEvent struct {
	ID          int64     `db:"id" json:"id"`
	MatchID     string    `db:"match_id" json:"match_id"`
	Turn        int       `db:"turn" json:"turn"`
	TS          time.Time `db:"ts" json:"ts"`
	EventType   string    `db:"event_type" json:"event_type"`
	PayloadJSON []byte    `db:"payload_json" json:"payload_json"`
}

// MatchResult is the single finalization row for a completed match
type MatchResult struct {
	MatchID       string         `db:"match_id" json:"match_id"`
	WinnerAgentID sql.NullString `db:"winner_agent_id" json:"winner_agent_id,omitempty"`
	LoserAgentID  sql.NullString `db:"loser_agent_id" json:"loser_agent_id,omitempty"`
	Reason        string         `db:"reason" json:"reason"`
}

// LeaderboardRow is one agent's rating record
type LeaderboardRow struct {
	AgentID     string    `db:"agent_id" json:"agent_id"`
	Rating      int       `db:"rating" json:"rating"`
	Wins        int       `db:"wins" json:"wins"`
	Losses      int       `db:"losses" json:"losses"`
	GamesPlayed int       `db:"games_played" json:"games_played"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// RunnerOwnership binds a runner to an agent it may act for
type RunnerOwnership struct {
	RunnerID  string       `db:"runner_id" json:"runner_id"`
	AgentID   string       `db:"agent_id" json:"agent_id"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	RevokedAt sql.NullTime `db:"revoked_at" json:"revoked_at,omitempty"`
}
