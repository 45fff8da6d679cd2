package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fightclaw/server/internal/match"
	"github.com/fightclaw/server/internal/middleware"
	"github.com/fightclaw/server/internal/models"
)

// matchID validates the path parameter. Match ids are minted as UUIDs.
func matchID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_match_id", "match id must be a uuid")
		return "", false
	}
	return id, true
}

// lookupMatch resolves a match to its actor without creating one for ids
// the store has never seen.
func lookupMatch(env *Env, c *gin.Context, id string) (*match.Actor, *models.Match, bool) {
	if a, ok := env.Registry.Peek(id); ok {
		row, err := env.Store.GetMatch(c.Request.Context(), id)
		if err != nil {
			log.Printf("[API] match lookup %s failed: %v", id, err)
		}
		return a, row, true
	}

	row, err := env.Store.GetMatch(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "service_unavailable", "store unavailable")
		return nil, nil, false
	}
	if row == nil {
		respondError(c, http.StatusNotFound, "not_found", "unknown match")
		return nil, nil, false
	}
	return env.Registry.Get(id), row, true
}

// SubmitMove applies one move submission to the match actor. The actor's
// response bytes are written verbatim so duplicate moveIds replay
// byte-identical bodies.
func SubmitMove(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchID(c)
		if !ok {
			return
		}

		var req match.MoveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid_move_payload", "malformed move body")
			return
		}
		if _, err := uuid.Parse(req.MoveID); err != nil {
			respondError(c, http.StatusBadRequest, "invalid_move_payload", "moveId must be a uuid")
			return
		}
		if len(req.Move) == 0 {
			respondError(c, http.StatusBadRequest, "invalid_move_payload", "move is required")
			return
		}

		actor, _, ok := lookupMatch(env, c, id)
		if !ok {
			return
		}

		agent := middleware.Agent(c)
		forwardRunnerTelemetry(env, c, id, agent.ID)

		resp := actor.Move(agent.ID, req)
		respondRaw(c, resp.Status, resp.Body)
	}
}

// forwardRunnerTelemetry copies the runner telemetry headers into
// match_players. First non-null wins at the SQL layer; failures only log.
func forwardRunnerTelemetry(env *Env, c *gin.Context, matchID, agentID string) {
	if c.GetString(middleware.ContextRunnerID) == "" {
		return
	}
	provider := headerPtr(c, "x-fc-model-provider")
	model := headerPtr(c, "x-fc-model-id")
	prompt := headerPtr(c, "x-fc-prompt-version-id")
	if provider == nil && model == nil && prompt == nil {
		return
	}
	if err := env.Store.UpdateMatchPlayerTelemetry(context.WithoutCancel(c.Request.Context()), matchID, agentID, provider, model, prompt); err != nil {
		log.Printf("[API] telemetry forward for %s/%s failed: %v", matchID, agentID, err)
	}
}

func headerPtr(c *gin.Context, name string) *string {
	if v := c.GetHeader(name); v != "" {
		return &v
	}
	return nil
}

type finishRequest struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason"`
}

// FinishMatch ends a match as an admin-attributed forfeit against agentId.
func FinishMatch(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchID(c)
		if !ok {
			return
		}

		var req finishRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.AgentID == "" {
			respondError(c, http.StatusBadRequest, "invalid_finish_payload", "agentId is required")
			return
		}

		actor, _, ok := lookupMatch(env, c, id)
		if !ok {
			return
		}
		resp := actor.Finish(req.AgentID, req.Reason)
		respondRaw(c, resp.Status, resp.Body)
	}
}

// MatchState returns a public snapshot of the match.
func MatchState(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchID(c)
		if !ok {
			return
		}
		actor, _, ok := lookupMatch(env, c, id)
		if !ok {
			return
		}

		st := actor.State()
		if st == nil {
			respondError(c, http.StatusNotFound, "not_found", "match has no state")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"matchId":   id,
			"state":     st,
			"requestId": middleware.GetRequestID(c),
		})
	}
}

type matchEventOut struct {
	ID        int64           `json:"id"`
	Turn      int             `json:"turn"`
	TS        int64           `json:"ts"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// MatchLog pages through the append-only match history. Gated like
// spectate: public once the match is featured or ended, admin otherwise.
func MatchLog(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchID(c)
		if !ok {
			return
		}
		_, row, ok := lookupMatch(env, c, id)
		if !ok {
			return
		}
		if !spectateAllowed(env, c, id, row) {
			respondError(c, http.StatusForbidden, "forbidden", "match is not public")
			return
		}

		afterID, _ := strconv.ParseInt(c.Query("afterId"), 10, 64)
		limit, _ := strconv.Atoi(c.Query("limit"))

		events, err := env.Store.ReadMatchEvents(c.Request.Context(), id, afterID, limit)
		if err != nil {
			respondError(c, http.StatusServiceUnavailable, "service_unavailable", "store unavailable")
			return
		}

		out := make([]matchEventOut, 0, len(events))
		for _, e := range events {
			out = append(out, matchEventOut{
				ID:        e.ID,
				Turn:      e.Turn,
				TS:        e.TS.UnixMilli(),
				EventType: e.EventType,
				Payload:   json.RawMessage(e.PayloadJSON),
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":        true,
			"matchId":   id,
			"events":    out,
			"requestId": middleware.GetRequestID(c),
		})
	}
}

// spectateAllowed implements the public-when-featured-or-ended rule.
func spectateAllowed(env *Env, c *gin.Context, id string, row *models.Match) bool {
	if row != nil && row.Status == "ended" {
		return true
	}
	if snap := env.Matchmaker.Featured(c.Request.Context()); snap.MatchID != nil && *snap.MatchID == id {
		return true
	}
	return middleware.AdminAuthorized(c, env.Cfg)
}
