package match

import (
	"context"
	"log"
	"sync"
	"time"
)

// Registry routes requests to per-match actors by matchId. An actor is
// created on first touch and rehydrates its durable state before serving
// its first operation.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*Actor
	deps   Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		actors: make(map[string]*Actor),
		deps:   deps,
	}
}

// SetNotifier wires the featured-rotation callback after the matchmaker
// exists (the matchmaker depends on the registry, not the reverse).
func (r *Registry) SetNotifier(n FeaturedNotifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps.Notifier = n
	for _, a := range r.actors {
		a.deps.Notifier = n
	}
}

// Get returns the actor for a match, creating and rehydrating it if
// needed. Every caller holding the same matchId reaches the same actor.
func (r *Registry) Get(matchID string) *Actor {
	r.mu.RLock()
	a, ok := r.actors[matchID]
	r.mu.RUnlock()
	if ok {
		return a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok = r.actors[matchID]; ok {
		return a
	}

	a = newActor(matchID, r.deps)
	// Rehydration runs as the actor's first mailbox item, so it is
	// serialized ahead of any operation routed to the new actor.
	a.mailbox <- func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		blob, err := r.deps.Store.LoadMatchState(ctx, matchID)
		if err != nil {
			log.Printf("[MATCH] %s: rehydrate load failed: %v", matchID, err)
			return
		}
		if blob == nil {
			return
		}
		if err := a.restore(blob); err != nil {
			log.Printf("[MATCH] %s: rehydrate decode failed: %v", matchID, err)
			return
		}
		log.Printf("[MATCH] %s: rehydrated (version=%d status=%s)", matchID, a.state.StateVersion, a.state.Status)
		if a.state.Status == StatusActive {
			a.enforceTurnTimeout()
			a.armWake()
		}
	}
	r.actors[matchID] = a
	return a
}

// Peek returns the actor only if it already exists.
func (r *Registry) Peek(matchID string) (*Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[matchID]
	return a, ok
}

// Len reports how many actors are live in this process.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}
