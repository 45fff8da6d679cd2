package matchmaker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/fightclaw/server/internal/match"
)

const featuredCacheKey = "fc:featured_snapshot"

// FeaturedSnapshot is the cached answer to "what match is on the marquee".
type FeaturedSnapshot struct {
	MatchID   *string   `json:"matchId"`
	Status    string    `json:"status,omitempty"`
	Players   []string  `json:"players,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// EnqueueFeatured offers a match for the featured slot. With no current
// featured match it is promoted immediately; otherwise it queues, deduped.
func (m *Matchmaker) EnqueueFeatured(matchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueFeaturedLocked(matchID)
}

func (m *Matchmaker) enqueueFeaturedLocked(matchID string) {
	if m.featuredID == "" {
		m.featuredID = matchID
		m.cache = nil
		log.Printf("[MATCHMAKER] featured promoted directly: %s", matchID)
		return
	}
	if m.featuredID == matchID {
		return
	}
	for _, id := range m.featuredQueue {
		if id == matchID {
			return
		}
	}
	m.featuredQueue = append(m.featuredQueue, matchID)
}

// FeaturedEnded satisfies match.FeaturedNotifier. Actors call it from
// their finalization path; the work runs on its own goroutine so a
// finalizing actor never blocks on the matchmaker mutex.
func (m *Matchmaker) FeaturedEnded(matchID string) {
	go m.featuredEnded(context.Background(), matchID)
}

// featuredEnded clears stale active-match entries pointing at the ended
// match and rotates the featured slot when it was the one that ended.
// Idempotent: a second call for the same match finds nothing to do.
func (m *Matchmaker) featuredEnded(ctx context.Context, matchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for agentID, entry := range m.active {
		if entry.MatchID == matchID {
			delete(m.active, agentID)
		}
	}

	if m.featuredID != matchID {
		return
	}
	log.Printf("[MATCHMAKER] featured match %s ended, rotating", matchID)
	m.featuredID = ""
	m.cache = nil
	m.rotateFeaturedLocked(ctx)
}

// rotateFeaturedLocked promotes the next queued match that is still active
// in the store and has a live actor state.
func (m *Matchmaker) rotateFeaturedLocked(ctx context.Context) {
	for len(m.featuredQueue) > 0 {
		candidate := m.featuredQueue[0]
		m.featuredQueue = m.featuredQueue[1:]
		if m.verifyFeaturedLocked(ctx, candidate) {
			m.featuredID = candidate
			m.cache = nil
			log.Printf("[MATCHMAKER] featured rotated to %s", candidate)
			return
		}
	}
}

// verifyFeaturedLocked checks a candidate against both the store
// (status=active) and the actor (non-null state).
func (m *Matchmaker) verifyFeaturedLocked(ctx context.Context, matchID string) bool {
	row, err := m.store.GetMatch(ctx, matchID)
	if err != nil {
		log.Printf("[MATCHMAKER] featured verify %s failed: %v", matchID, err)
		return false
	}
	if row == nil || row.Status != "active" {
		return false
	}
	st := m.registry.Get(matchID).State()
	return st != nil && st.Status == match.StatusActive
}

// Featured returns the current featured snapshot, served from cache within
// the TTL and re-verified against store and actor past it.
func (m *Matchmaker) Featured(ctx context.Context) FeaturedSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil && time.Since(m.cache.CheckedAt) < m.cfg.FeaturedCacheTTL {
		return *m.cache
	}
	if snap, ok := m.loadCachedSnapshot(ctx); ok {
		m.cache = &snap
		return snap
	}

	if m.featuredID != "" && !m.verifyFeaturedLocked(ctx, m.featuredID) {
		m.featuredID = ""
		m.rotateFeaturedLocked(ctx)
	}
	if m.featuredID == "" {
		m.rotateFeaturedLocked(ctx)
	}

	snap := FeaturedSnapshot{CheckedAt: time.Now()}
	if m.featuredID != "" {
		id := m.featuredID
		snap.MatchID = &id
		if st := m.registry.Get(id).State(); st != nil {
			snap.Status = st.Status
			snap.Players = []string{st.Players[0], st.Players[1]}
		}
	}

	m.cache = &snap
	m.storeCachedSnapshot(ctx, snap)
	return snap
}

// Live resolves the featured match and returns its live state.
func (m *Matchmaker) Live(ctx context.Context) (string, *match.MatchState) {
	snap := m.Featured(ctx)
	if snap.MatchID == nil {
		return "", nil
	}
	return *snap.MatchID, m.registry.Get(*snap.MatchID).State()
}

// loadCachedSnapshot reads the shared Redis cache. A hit within the TTL
// spares the verification round-trips after a process restart.
func (m *Matchmaker) loadCachedSnapshot(ctx context.Context) (FeaturedSnapshot, bool) {
	if m.rdb == nil {
		return FeaturedSnapshot{}, false
	}
	raw, err := m.rdb.Get(ctx, featuredCacheKey).Bytes()
	if err != nil {
		return FeaturedSnapshot{}, false
	}
	var snap FeaturedSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return FeaturedSnapshot{}, false
	}
	if time.Since(snap.CheckedAt) >= m.cfg.FeaturedCacheTTL {
		return FeaturedSnapshot{}, false
	}
	// Only trust the shared cache when it agrees with this process's slot
	if snap.MatchID != nil && m.featuredID != *snap.MatchID {
		return FeaturedSnapshot{}, false
	}
	if snap.MatchID == nil && m.featuredID != "" {
		return FeaturedSnapshot{}, false
	}
	return snap, true
}

func (m *Matchmaker) storeCachedSnapshot(ctx context.Context, snap FeaturedSnapshot) {
	if m.rdb == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := m.rdb.Set(ctx, featuredCacheKey, raw, m.cfg.FeaturedCacheTTL).Err(); err != nil {
		log.Printf("[MATCHMAKER] featured cache write failed: %v", err)
	}
}
