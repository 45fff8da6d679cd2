package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fightclaw/server/internal/match"
	"github.com/fightclaw/server/internal/middleware"
)

const streamBufferSize = 16

// keepAliveInterval spaces SSE comment frames so intermediaries keep the
// connection open.
const keepAliveInterval = 15 * time.Second

// StreamMatch is the participant SSE stream. Only a seated agent may
// attach; the current state and, when applicable, your_turn are replayed
// immediately.
func StreamMatch(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchID(c)
		if !ok {
			return
		}
		actor, _, ok := lookupMatch(env, c, id)
		if !ok {
			return
		}

		agent := middleware.Agent(c)
		sub := &match.Subscriber{
			ID:      uuid.NewString(),
			AgentID: agent.ID,
			Ch:      make(chan match.Frame, streamBufferSize),
		}
		if err := actor.Attach(sub, true); err != nil {
			respondError(c, http.StatusForbidden, "forbidden", "not a participant")
			return
		}
		serveSSE(c, actor, sub)
	}
}

// SpectateMatch is the public SSE stream. Gated: public once the match is
// featured or ended, admin-key otherwise.
func SpectateMatch(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchID(c)
		if !ok {
			return
		}

		row, err := env.Store.GetMatch(c.Request.Context(), id)
		if err != nil {
			respondError(c, http.StatusServiceUnavailable, "service_unavailable", "store unavailable")
			return
		}
		if !spectateAllowed(env, c, id, row) {
			respondError(c, http.StatusForbidden, "forbidden", "match is not public")
			return
		}

		actor := env.Registry.Get(id)
		sub := &match.Subscriber{
			ID: uuid.NewString(),
			Ch: make(chan match.Frame, streamBufferSize),
		}
		if err := actor.Attach(sub, false); err != nil {
			respondError(c, http.StatusForbidden, "forbidden", "spectate unavailable")
			return
		}
		serveSSE(c, actor, sub)
	}
}

// serveSSE pumps frames to the client until it disconnects or the actor
// drops the subscriber. Detach on exit covers the client-abort path; a
// slow consumer is dropped by the actor's write timeout instead.
func serveSSE(c *gin.Context, actor *match.Actor, sub *match.Subscriber) {
	defer actor.Detach(sub.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case f, open := <-sub.Ch:
			if !open {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", f.Event, f.Data)
			c.Writer.Flush()
		case <-keepAlive.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
