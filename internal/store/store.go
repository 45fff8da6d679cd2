package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fightclaw/server/internal/models"
)

const (
	maxEventPage       = 5000
	maxLeaderboardPage = 200
)

// Store is the narrow SQL surface the match runtime uses. Every write is
// idempotent (INSERT ... ON CONFLICT DO NOTHING, COALESCE-guarded updates)
// so retries and races never corrupt persisted results.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// InsertMatchActive records a freshly paired match.
func (s *Store) InsertMatchActive(ctx context.Context, matchID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (id, status, mode) VALUES ($1, 'active', 'ranked') ON CONFLICT (id) DO NOTHING`,
		matchID)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// UpdateMatchEnded marks a match terminal. ended_at and winner_agent_id are
// only written if still null so a repeated finalization cannot move them.
func (s *Store) UpdateMatchEnded(ctx context.Context, matchID string, endedAt time.Time, winnerAgentID *string, endReason string, finalStateVersion uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matches
		SET status = 'ended',
		    ended_at = COALESCE(ended_at, $2),
		    winner_agent_id = COALESCE(winner_agent_id, $3),
		    end_reason = COALESCE(end_reason, $4),
		    final_state_version = COALESCE(final_state_version, $5)
		WHERE id = $1`,
		matchID, endedAt, winnerAgentID, endReason, int64(finalStateVersion))
	if err != nil {
		return fmt.Errorf("update match ended: %w", err)
	}
	return nil
}

// GetMatch loads one match row.
func (s *Store) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	var m models.Match
	err := s.db.GetContext(ctx, &m, `SELECT * FROM matches WHERE id = $1`, matchID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return &m, nil
}

// InsertMatchPlayers records both seats with their ratings at pairing time.
func (s *Store) InsertMatchPlayers(ctx context.Context, matchID string, seats [2]string, startingRatings [2]int, promptVersionIDs [2]*string) error {
	for i := 0; i < 2; i++ {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO match_players (match_id, agent_id, seat, starting_rating, prompt_version_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (match_id, agent_id) DO NOTHING`,
			matchID, seats[i], i, startingRatings[i], promptVersionIDs[i])
		if err != nil {
			return fmt.Errorf("insert match player seat %d: %w", i, err)
		}
	}
	return nil
}

// UpdateMatchPlayerTelemetry forwards runner telemetry into match_players.
// First non-null wins: a later request cannot overwrite what is already set.
func (s *Store) UpdateMatchPlayerTelemetry(ctx context.Context, matchID, agentID string, modelProvider, modelID, promptVersionID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE match_players
		SET model_provider = COALESCE(model_provider, $3),
		    model_id = COALESCE(model_id, $4),
		    prompt_version_id = COALESCE(prompt_version_id, $5)
		WHERE match_id = $1 AND agent_id = $2`,
		matchID, agentID, modelProvider, modelID, promptVersionID)
	if err != nil {
		return fmt.Errorf("update match player telemetry: %w", err)
	}
	return nil
}

// AppendMatchEvent appends one row to the match history log.
func (s *Store) AppendMatchEvent(ctx context.Context, matchID string, turn int, eventType string, payloadJSON []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_events (match_id, turn, event_type, payload_json) VALUES ($1, $2, $3, $4)`,
		matchID, turn, eventType, payloadJSON)
	if err != nil {
		return fmt.Errorf("append match event: %w", err)
	}
	return nil
}

// ReadMatchEvents returns events after afterID ordered by id ascending.
func (s *Store) ReadMatchEvents(ctx context.Context, matchID string, afterID int64, limit int) ([]models.MatchEvent, error) {
	if limit <= 0 || limit > maxEventPage {
		limit = maxEventPage
	}
	events := []models.MatchEvent{}
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, match_id, turn, ts, event_type, payload_json
		FROM match_events
		WHERE match_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`,
		matchID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("read match events: %w", err)
	}
	return events, nil
}

// InsertMatchResult is the finalization serialization point: only the
// caller that actually inserted the row applies the leaderboard delta.
func (s *Store) InsertMatchResult(ctx context.Context, matchID string, winnerAgentID, loserAgentID *string, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO match_results (match_id, winner_agent_id, loser_agent_id, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (match_id) DO NOTHING`,
		matchID, winnerAgentID, loserAgentID, reason)
	if err != nil {
		return false, fmt.Errorf("insert match result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert match result rows: %w", err)
	}
	return n > 0, nil
}

// GetMatchResult loads the finalization row, nil when absent.
func (s *Store) GetMatchResult(ctx context.Context, matchID string) (*models.MatchResult, error) {
	var r models.MatchResult
	err := s.db.GetContext(ctx, &r, `SELECT * FROM match_results WHERE match_id = $1`, matchID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get match result: %w", err)
	}
	return &r, nil
}

// SelectLeaderboard returns the top agents by rating.
func (s *Store) SelectLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardRow, error) {
	if limit <= 0 || limit > maxLeaderboardPage {
		limit = maxLeaderboardPage
	}
	rows := []models.LeaderboardRow{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM leaderboard ORDER BY rating DESC, agent_id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select leaderboard: %w", err)
	}
	return rows, nil
}

// GetRating returns an agent's current rating, or the starting rating when
// the agent has no leaderboard row yet.
func (s *Store) GetRating(ctx context.Context, agentID string, startRating int) (int, error) {
	var rating int
	err := s.db.GetContext(ctx, &rating, `SELECT rating FROM leaderboard WHERE agent_id = $1`, agentID)
	if err == sql.ErrNoRows {
		return startRating, nil
	}
	if err != nil {
		return startRating, fmt.Errorf("get rating: %w", err)
	}
	return rating, nil
}

// UpsertLeaderboardStart ensures the agent has a leaderboard row.
func (s *Store) UpsertLeaderboardStart(ctx context.Context, agentID string, startRating int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard (agent_id, rating) VALUES ($1, $2)
		ON CONFLICT (agent_id) DO NOTHING`,
		agentID, startRating)
	if err != nil {
		return fmt.Errorf("upsert leaderboard start: %w", err)
	}
	return nil
}

// ApplyRatingDelta writes an agent's post-match rating and tallies.
func (s *Store) ApplyRatingDelta(ctx context.Context, agentID string, newRating, winsDelta, lossesDelta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leaderboard
		SET rating = $2,
		    wins = wins + $3,
		    losses = losses + $4,
		    games_played = games_played + 1,
		    updated_at = NOW()
		WHERE agent_id = $1`,
		agentID, newRating, winsDelta, lossesDelta)
	if err != nil {
		return fmt.Errorf("apply rating delta: %w", err)
	}
	return nil
}

// SaveMatchState persists the durable actor state blob.
func (s *Store) SaveMatchState(ctx context.Context, matchID string, stateJSON []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_states (match_id, state_json, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (match_id) DO UPDATE SET state_json = EXCLUDED.state_json, updated_at = NOW()`,
		matchID, stateJSON)
	if err != nil {
		return fmt.Errorf("save match state: %w", err)
	}
	return nil
}

// LoadMatchState returns the persisted actor state blob, nil when absent.
func (s *Store) LoadMatchState(ctx context.Context, matchID string) ([]byte, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT state_json FROM match_states WHERE match_id = $1`, matchID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load match state: %w", err)
	}
	return raw, nil
}

// SelectAPIKeysByPrefix loads unrevoked credentials matching a key prefix.
func (s *Store) SelectAPIKeysByPrefix(ctx context.Context, prefix string) ([]models.APIKey, error) {
	keys := []models.APIKey{}
	err := s.db.SelectContext(ctx, &keys,
		`SELECT * FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("select api keys: %w", err)
	}
	return keys, nil
}

// GetAgent loads one agent row, nil when absent.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	var a models.Agent
	err := s.db.GetContext(ctx, &a,
		`SELECT id, name, api_key_hash, verified_at, disabled_at, created_at FROM agents WHERE id = $1`, agentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// RunnerOwnsAgent reports whether a runner binding exists and is not revoked.
func (s *Store) RunnerOwnsAgent(ctx context.Context, runnerID, agentID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM runner_agent_ownership
		WHERE runner_id = $1 AND agent_id = $2 AND revoked_at IS NULL`,
		runnerID, agentID)
	if err != nil {
		return false, fmt.Errorf("runner ownership: %w", err)
	}
	return n > 0, nil
}

// InsertAgent creates an agent row (seed tooling).
func (s *Store) InsertAgent(ctx context.Context, agentID, name, apiKeyHash string, verifiedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, api_key_hash, verified_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		agentID, name, apiKeyHash, verifiedAt)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// InsertAPIKey creates a hashed credential row (seed tooling).
func (s *Store) InsertAPIKey(ctx context.Context, keyID, agentID, keyHash, keyPrefix string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, agent_id, key_hash, key_prefix)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		keyID, agentID, keyHash, keyPrefix)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// InsertRunnerOwnership binds a runner to an agent (seed tooling).
func (s *Store) InsertRunnerOwnership(ctx context.Context, runnerID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runner_agent_ownership (runner_id, agent_id)
		VALUES ($1, $2)
		ON CONFLICT (runner_id, agent_id) DO NOTHING`,
		runnerID, agentID)
	if err != nil {
		return fmt.Errorf("insert runner ownership: %w", err)
	}
	return nil
}
