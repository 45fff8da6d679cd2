package match

import (
	"encoding/json"
	"time"

	"github.com/fightclaw/server/internal/engine"
)

// Match status values
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// End reasons surfaced in match_results.reason and match_ended events
const (
	ReasonForfeit     = "forfeit"
	ReasonTurnTimeout = "turn_timeout"
	ReasonElimination = "elimination"
	ReasonTurnLimit   = "turn_limit"
)

// MatchState is the authoritative per-match state. It is owned exclusively
// by one Actor; nothing outside the actor goroutine mutates it.
type MatchState struct {
	MatchID          string           `json:"matchId"`
	StateVersion     uint64           `json:"stateVersion"`
	Status           string           `json:"status"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	EndedAt          *time.Time       `json:"endedAt,omitempty"`
	TurnExpiresAtMs  *int64           `json:"turnExpiresAtMs,omitempty"`
	Players          [2]string        `json:"players"`
	Game             engine.GameState `json:"game"`
	LastMove         *engine.Move     `json:"lastMove,omitempty"`
	WinnerAgentID    *string          `json:"winnerAgentId,omitempty"`
	LoserAgentID     *string          `json:"loserAgentId,omitempty"`
	EndReason        string           `json:"endReason,omitempty"`
	Seed             int64            `json:"seed"`
}

// isPlayer reports whether agentID holds a seat in this match.
func (s *MatchState) isPlayer(agentID string) bool {
	return s.Players[0] == agentID || s.Players[1] == agentID
}

// opponent returns the other seat's agent id.
func (s *MatchState) opponent(agentID string) string {
	if s.Players[0] == agentID {
		return s.Players[1]
	}
	return s.Players[0]
}

// durableState is what gets persisted on every state-advancing ACK: the
// match state plus the idempotency cache, so a resubmit after actor
// reactivation still deduplicates.
type durableState struct {
	State       *MatchState  `json:"state"`
	Idempotency []idemRecord `json:"idempotency,omitempty"`
}

// idemRecord is one cached move response.
type idemRecord struct {
	MoveID       string          `json:"moveId"`
	HTTPStatus   int             `json:"httpStatus"`
	Body         json.RawMessage `json:"body"`
	StateVersion uint64          `json:"stateVersion"`
}

// idemCache is a bounded FIFO of cached move responses. Eviction skips any
// entry whose stateVersion is within one of the current version, so a
// resubmit during or right after a turn transition still deduplicates.
type idemCache struct {
	capacity int
	order    []string
	entries  map[string]idemRecord
}

func newIdemCache(capacity int) *idemCache {
	return &idemCache{
		capacity: capacity,
		entries:  make(map[string]idemRecord),
	}
}

func (c *idemCache) get(moveID string) (idemRecord, bool) {
	rec, ok := c.entries[moveID]
	return rec, ok
}

// put admits a record, evicting the oldest unprotected entry when full.
func (c *idemCache) put(rec idemRecord, currentVersion uint64) {
	if _, ok := c.entries[rec.MoveID]; ok {
		c.entries[rec.MoveID] = rec
		return
	}

	if len(c.order) >= c.capacity {
		c.evictOne(currentVersion)
	}
	c.entries[rec.MoveID] = rec
	c.order = append(c.order, rec.MoveID)
}

// evictOne drops the oldest entry outside the protection window. Entries
// with stateVersion >= current-1 are never evicted.
func (c *idemCache) evictOne(currentVersion uint64) {
	var floor uint64
	if currentVersion >= 1 {
		floor = currentVersion - 1
	}
	for i, id := range c.order {
		rec := c.entries[id]
		if rec.StateVersion >= floor {
			continue
		}
		delete(c.entries, id)
		c.order = append(c.order[:i], c.order[i+1:]...)
		return
	}
	// Everything is protected; drop the oldest anyway to honor the bound
	if len(c.order) > 0 {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *idemCache) snapshot() []idemRecord {
	out := make([]idemRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id])
	}
	return out
}

func (c *idemCache) restore(records []idemRecord) {
	for _, rec := range records {
		if _, ok := c.entries[rec.MoveID]; ok {
			continue
		}
		c.entries[rec.MoveID] = rec
		c.order = append(c.order, rec.MoveID)
	}
}

func (c *idemCache) len() int {
	return len(c.order)
}
