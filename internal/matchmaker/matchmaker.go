package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fightclaw/server/internal/config"
	"github.com/fightclaw/server/internal/match"
	"github.com/fightclaw/server/internal/models"
)

// Join/status outcomes
const (
	StatusIdle    = "idle"
	StatusWaiting = "waiting"
	StatusReady   = "ready"
)

// ErrAlreadyMatched is returned by Leave while the agent holds an active match.
var ErrAlreadyMatched = errors.New("agent already in an active match")

// ErrInitFailed is returned when a paired match could not be started.
var ErrInitFailed = errors.New("match initialization failed")

// Storage is the slice of the persistence adapter the matchmaker uses.
type Storage interface {
	GetRating(ctx context.Context, agentID string, startRating int) (int, error)
	GetMatch(ctx context.Context, matchID string) (*models.Match, error)
	InsertMatchActive(ctx context.Context, matchID string) error
	InsertMatchPlayers(ctx context.Context, matchID string, seats [2]string, startingRatings [2]int, promptVersionIDs [2]*string) error
}

// QueueEntry is one agent waiting for a ranked match.
type QueueEntry struct {
	AgentID      string
	MatchID      string
	Rating       int
	EnqueuedAtMs int64
}

// ActiveMatchEntry points an agent at its in-flight match.
type ActiveMatchEntry struct {
	MatchID    string
	OpponentID string
	SetAtMs    int64
}

// JoinResult is the outcome of Join or Status.
type JoinResult struct {
	Status     string `json:"status"`
	MatchID    string `json:"matchId,omitempty"`
	OpponentID string `json:"opponentId,omitempty"`
}

// Matchmaker is the process-wide pairing coordinator. One instance exists
// per process; every queue, active-match, and featured operation serializes
// through its mutex so a suspending call inside one operation cannot
// interleave with another.
type Matchmaker struct {
	mu sync.Mutex

	cfg      *config.Config
	store    Storage
	registry *match.Registry
	rdb      *redis.Client

	queue          []QueueEntry
	active         map[string]ActiveMatchEntry // agentID -> entry
	recentOpponent map[string]string           // agentID -> last opponent

	buffers map[string][]AgentEvent    // agentID -> bounded FIFO
	waiters map[string]chan AgentEvent // agentID -> single-shot waiter

	featuredID    string
	featuredQueue []string
	cache         *FeaturedSnapshot
}

func New(cfg *config.Config, st Storage, registry *match.Registry, rdb *redis.Client) *Matchmaker {
	return &Matchmaker{
		cfg:            cfg,
		store:          st,
		registry:       registry,
		rdb:            rdb,
		active:         make(map[string]ActiveMatchEntry),
		recentOpponent: make(map[string]string),
		buffers:        make(map[string][]AgentEvent),
		waiters:        make(map[string]chan AgentEvent),
	}
}

// Join places an agent into the ranked queue, or pairs it immediately when
// an eligible partner is waiting.
func (m *Matchmaker) Join(ctx context.Context, agentID string) (JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if res, ok := m.activeMatchLocked(ctx, agentID); ok {
		return res, nil
	}

	m.pruneQueueLocked()

	for _, e := range m.queue {
		if e.AgentID == agentID {
			return JoinResult{Status: StatusWaiting, MatchID: e.MatchID}, nil
		}
	}

	rating, err := m.store.GetRating(ctx, agentID, m.cfg.EloStartRating)
	if err != nil {
		log.Printf("[MATCHMAKER] rating lookup for %s failed: %v", agentID, err)
		rating = m.cfg.EloStartRating
	}

	partner, found := m.selectPartnerLocked(agentID, rating)
	if !found {
		entry := QueueEntry{
			AgentID:      agentID,
			MatchID:      uuid.NewString(),
			Rating:       rating,
			EnqueuedAtMs: time.Now().UnixMilli(),
		}
		m.queue = append(m.queue, entry)
		log.Printf("[MATCHMAKER] %s queued (rating=%d queue_len=%d)", agentID, rating, len(m.queue))
		return JoinResult{Status: StatusWaiting, MatchID: entry.MatchID}, nil
	}

	// Pair found: the waiting partner's minted matchId becomes the match id,
	// so the id the partner saw while waiting is the match they play.
	m.removeFromQueueLocked(partner.AgentID)
	matchID := partner.MatchID
	players := [2]string{partner.AgentID, agentID}
	seed := rand.Int63()

	if err := m.initWithRetry(matchID, players, seed); err != nil {
		log.Printf("[MATCHMAKER] init %s failed, requeueing %s: %v", matchID, partner.AgentID, err)
		m.queue = append([]QueueEntry{partner}, m.queue...)
		return JoinResult{}, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	if err := m.store.InsertMatchActive(ctx, matchID); err != nil {
		log.Printf("[MATCHMAKER] persist match %s failed: %v", matchID, err)
	}
	if err := m.store.InsertMatchPlayers(ctx, matchID, players, [2]int{partner.Rating, rating}, [2]*string{nil, nil}); err != nil {
		log.Printf("[MATCHMAKER] persist players for %s failed: %v", matchID, err)
	}

	now := time.Now().UnixMilli()
	m.active[partner.AgentID] = ActiveMatchEntry{MatchID: matchID, OpponentID: agentID, SetAtMs: now}
	m.active[agentID] = ActiveMatchEntry{MatchID: matchID, OpponentID: partner.AgentID, SetAtMs: now}
	m.recentOpponent[partner.AgentID] = agentID
	m.recentOpponent[agentID] = partner.AgentID

	m.deliverLocked(partner.AgentID, newMatchFound(matchID, agentID))
	m.deliverLocked(agentID, newMatchFound(matchID, partner.AgentID))

	m.enqueueFeaturedLocked(matchID)

	log.Printf("[MATCHMAKER] paired %s vs %s (match=%s)", partner.AgentID, agentID, matchID)
	return JoinResult{Status: StatusReady, MatchID: matchID, OpponentID: partner.AgentID}, nil
}

// Status reports the agent's queue state without mutating it beyond the
// usual prune and stale-active cleanup.
func (m *Matchmaker) Status(ctx context.Context, agentID string) (JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if res, ok := m.activeMatchLocked(ctx, agentID); ok {
		return res, nil
	}

	m.pruneQueueLocked()

	for _, e := range m.queue {
		if e.AgentID == agentID {
			return JoinResult{Status: StatusWaiting, MatchID: e.MatchID}, nil
		}
	}
	return JoinResult{Status: StatusIdle}, nil
}

// Leave removes the agent from the queue. An agent holding an active match
// cannot leave; it must finish the match.
func (m *Matchmaker) Leave(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.activeMatchLocked(ctx, agentID); ok {
		return ErrAlreadyMatched
	}
	m.removeFromQueueLocked(agentID)
	return nil
}

// activeMatchLocked validates the agent's ActiveMatchEntry against the
// store, clearing it when the referenced match has ended.
func (m *Matchmaker) activeMatchLocked(ctx context.Context, agentID string) (JoinResult, bool) {
	entry, ok := m.active[agentID]
	if !ok {
		return JoinResult{}, false
	}
	row, err := m.store.GetMatch(ctx, entry.MatchID)
	if err != nil {
		log.Printf("[MATCHMAKER] active-match lookup %s failed: %v", entry.MatchID, err)
	}
	if row == nil || row.Status != "active" {
		delete(m.active, agentID)
		return JoinResult{}, false
	}
	return JoinResult{Status: StatusReady, MatchID: entry.MatchID, OpponentID: entry.OpponentID}, true
}

// pruneQueueLocked drops entries past the queue TTL or malformed.
func (m *Matchmaker) pruneQueueLocked() {
	cutoff := time.Now().Add(-m.cfg.QueueTTL).UnixMilli()
	kept := m.queue[:0]
	for _, e := range m.queue {
		if e.AgentID == "" || e.MatchID == "" || e.EnqueuedAtMs < cutoff {
			log.Printf("[MATCHMAKER] pruning queue entry agent=%s (enqueued=%d)", e.AgentID, e.EnqueuedAtMs)
			continue
		}
		kept = append(kept, e)
	}
	m.queue = kept
}

func (m *Matchmaker) removeFromQueueLocked(agentID string) {
	for i, e := range m.queue {
		if e.AgentID == agentID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// selectPartnerLocked picks the best eligible opponent: rating window
// first, rematch avoidance when it leaves candidates, then closest rating,
// earliest enqueue, lowest agent id.
func (m *Matchmaker) selectPartnerLocked(agentID string, rating int) (QueueEntry, bool) {
	var eligible []QueueEntry
	for _, e := range m.queue {
		if e.AgentID == agentID {
			continue
		}
		if abs(e.Rating-rating) > m.cfg.EloRange {
			continue
		}
		eligible = append(eligible, e)
	}
	if len(eligible) == 0 {
		return QueueEntry{}, false
	}

	// Rematch avoidance: use the filtered set only when it is non-empty
	if last, ok := m.recentOpponent[agentID]; ok {
		var filtered []QueueEntry
		for _, e := range eligible {
			if e.AgentID == last {
				continue
			}
			if m.recentOpponent[e.AgentID] == agentID {
				continue
			}
			filtered = append(filtered, e)
		}
		if len(filtered) > 0 {
			eligible = filtered
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		di, dj := abs(eligible[i].Rating-rating), abs(eligible[j].Rating-rating)
		if di != dj {
			return di < dj
		}
		if eligible[i].EnqueuedAtMs != eligible[j].EnqueuedAtMs {
			return eligible[i].EnqueuedAtMs < eligible[j].EnqueuedAtMs
		}
		return eligible[i].AgentID < eligible[j].AgentID
	})
	return eligible[0], true
}

// initWithRetry calls the target actor's Init, retrying transient failures
// with small linear backoff.
func (m *Matchmaker) initWithRetry(matchID string, players [2]string, seed int64) error {
	var err error
	for attempt := 0; attempt <= 2; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		_, err = m.registry.Get(matchID).Init(players, seed)
		if err == nil {
			return nil
		}
		log.Printf("[MATCHMAKER] init attempt %d for %s failed: %v", attempt+1, matchID, err)
	}
	return err
}

// QueueLen reports the current queue depth.
func (m *Matchmaker) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
