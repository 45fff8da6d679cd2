package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fightclaw/server/internal/config"
	"github.com/fightclaw/server/internal/engine"
	"github.com/fightclaw/server/internal/models"
)

// Wire-stable error codes
const (
	CodeMatchNotInitialized = "match_not_initialized"
	CodeVersionMismatch     = "version_mismatch"
	CodeNotYourTurn         = "not_your_turn"
	CodeMatchEnded          = "match_ended"
	CodeForbidden           = "forbidden"
	CodeInvalidMoveSchema   = "invalid_move_schema"
	CodeIllegalMove         = "illegal_move"
	CodeInvalidMove         = "invalid_move"
)

// FeaturedNotifier receives end-of-match notifications so the featured
// rotation can advance. Implemented by the matchmaker.
type FeaturedNotifier interface {
	FeaturedEnded(matchID string)
}

// Storage is the slice of the persistence adapter the match runtime uses.
// *store.Store satisfies it; tests substitute an in-memory fake.
type Storage interface {
	SaveMatchState(ctx context.Context, matchID string, stateJSON []byte) error
	LoadMatchState(ctx context.Context, matchID string) ([]byte, error)
	AppendMatchEvent(ctx context.Context, matchID string, turn int, eventType string, payloadJSON []byte) error
	GetMatchResult(ctx context.Context, matchID string) (*models.MatchResult, error)
	InsertMatchResult(ctx context.Context, matchID string, winnerAgentID, loserAgentID *string, reason string) (bool, error)
	UpdateMatchEnded(ctx context.Context, matchID string, endedAt time.Time, winnerAgentID *string, endReason string, finalStateVersion uint64) error
	UpsertLeaderboardStart(ctx context.Context, agentID string, startRating int) error
	GetRating(ctx context.Context, agentID string, startRating int) (int, error)
	ApplyRatingDelta(ctx context.Context, agentID string, newRating, winsDelta, lossesDelta int) error
}

// Deps carries everything an actor needs from the outside world.
type Deps struct {
	Store    Storage
	Cfg      *config.Config
	RDB      *redis.Client
	Notifier FeaturedNotifier
}

// MoveRequest is the wire payload of a move submission.
type MoveRequest struct {
	MoveID          string          `json:"moveId"`
	ExpectedVersion uint64          `json:"expectedVersion"`
	Move            json.RawMessage `json:"move"`
}

// MoveResponse carries the HTTP status and the exact body bytes. Cached
// responses are replayed verbatim: duplicate submissions of the same
// moveId always return byte-identical responses.
type MoveResponse struct {
	Status int
	Body   []byte
}

// Actor owns one match. All operations are serialized through its mailbox
// goroutine; MatchState needs no lock.
type Actor struct {
	matchID string
	deps    Deps

	mailbox chan func()

	// Everything below is owned by the mailbox goroutine
	state *MatchState
	idem  *idemCache
	subs  *subscriberSet
	wake  *time.Timer
}

func newActor(matchID string, deps Deps) *Actor {
	a := &Actor{
		matchID: matchID,
		deps:    deps,
		mailbox: make(chan func(), 64),
		idem:    newIdemCache(deps.Cfg.IdempotencyMax),
		subs:    newSubscriberSet(deps.Cfg.SSEWriteTimeout),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	for f := range a.mailbox {
		f()
	}
}

// call runs f on the actor goroutine and waits for it to finish.
func (a *Actor) call(f func()) {
	done := make(chan struct{})
	a.mailbox <- func() {
		defer close(done)
		f()
	}
	<-done
}

func (a *Actor) MatchID() string {
	return a.matchID
}

// Init creates the initial state for a match. Idempotent: a second call
// returns the current state (after lazy turn-timeout enforcement).
func (a *Actor) Init(players [2]string, seed int64) (st *MatchState, err error) {
	a.call(func() {
		if a.state != nil {
			a.enforceTurnTimeout()
			st = a.copyState()
			return
		}

		now := time.Now()
		game := engine.InitialState(seed, players)
		expiry := now.Add(a.deps.Cfg.TurnTimeout).UnixMilli()
		a.state = &MatchState{
			MatchID:         a.matchID,
			StateVersion:    0,
			Status:          StatusActive,
			CreatedAt:       now,
			UpdatedAt:       now,
			TurnExpiresAtMs: &expiry,
			Players:         players,
			Game:            game,
			Seed:            seed,
		}

		if perr := a.persist(); perr != nil {
			// Init must not hand out a match the store never saw
			a.state = nil
			err = fmt.Errorf("persist initial state: %w", perr)
			return
		}
		a.armWake()

		a.appendEvent("match_started", map[string]any{
			"players": players,
			"seed":    seed,
			"ts":      now.UnixMilli(),
		})

		a.broadcastState()
		a.sendYourTurn()
		st = a.copyState()
	})
	return st, err
}

// State returns a snapshot of the current state, nil when uninitialized.
// Reads enforce the turn deadline so an expired turn is observed as ended.
func (a *Actor) State() (st *MatchState) {
	a.call(func() {
		if a.state == nil {
			return
		}
		a.enforceTurnTimeout()
		st = a.copyState()
	})
	return st
}

// EnforceTimeout is the scheduled-wake entry point. It is advisory: the
// same enforcement runs opportunistically on every operation.
func (a *Actor) EnforceTimeout() {
	a.call(func() {
		a.enforceTurnTimeout()
	})
}

// Move applies one move submission through the full precondition chain.
// The first failure wins and is cached under moveId.
func (a *Actor) Move(agentID string, req MoveRequest) (resp MoveResponse) {
	a.call(func() {
		// 1. Duplicate submission: replay the cached response verbatim
		if rec, ok := a.idem.get(req.MoveID); ok {
			resp = MoveResponse{Status: rec.HTTPStatus, Body: rec.Body}
			return
		}

		resp = a.moveLocked(agentID, req)

		a.idem.put(idemRecord{
			MoveID:       req.MoveID,
			HTTPStatus:   resp.Status,
			Body:         resp.Body,
			StateVersion: a.currentVersion(),
		}, a.currentVersion())
		if a.state != nil {
			if err := a.persist(); err != nil {
				log.Printf("[MATCH] %s: persist after move failed: %v", a.matchID, err)
			}
		}
	})
	return resp
}

func (a *Actor) moveLocked(agentID string, req MoveRequest) MoveResponse {
	// 2. No state
	if a.state == nil {
		return errorResponse(http.StatusConflict, CodeMatchNotInitialized, "match not initialized", 0)
	}

	// 3. Turn-timeout enforcement; a timeout forfeit makes later checks see ended
	a.enforceTurnTimeout()

	// 4. Already over
	if a.state.Status == StatusEnded {
		return errorResponse(http.StatusConflict, CodeMatchEnded, "match already ended", a.state.StateVersion)
	}

	// 5. Optimistic concurrency
	if req.ExpectedVersion != a.state.StateVersion {
		return errorResponse(http.StatusConflict, CodeVersionMismatch, "state version mismatch", a.state.StateVersion)
	}

	// 6. Schema validation; violation forfeits the submitter
	mv, serr := engine.ParseMove(req.Move)
	if serr != nil {
		if a.state.isPlayer(agentID) {
			return a.forfeitLocked(agentID, CodeInvalidMoveSchema)
		}
		return errorResponse(http.StatusForbidden, CodeForbidden, "not a participant", a.state.StateVersion)
	}

	// 7. Participant check
	if !a.state.isPlayer(agentID) {
		return errorResponse(http.StatusForbidden, CodeForbidden, "not a participant", a.state.StateVersion)
	}

	// 8. Turn discipline
	if engine.CurrentPlayer(a.state.Game) != agentID {
		return errorResponse(http.StatusConflict, CodeNotYourTurn, "not your turn", a.state.StateVersion)
	}

	// 9. Legality: the move must be one the engine enumerated
	if !moveIsLegal(a.state.Game, mv) {
		return a.forfeitLocked(agentID, CodeIllegalMove)
	}

	// 10. Engine application
	res := engine.ApplyMove(a.state.Game, mv)
	if !res.OK {
		return a.forfeitLocked(agentID, CodeInvalidMove)
	}

	// 11. Success: advance the authoritative state
	now := time.Now()
	prevActive := a.state.Game.ActiveSide
	a.state.Game = res.State
	a.state.StateVersion++
	a.state.UpdatedAt = now
	a.state.LastMove = &mv

	term := engine.IsTerminal(res.State)
	if term.Ended {
		a.endLocked(now, term.Winner, term.Draw, term.Reason)
	} else if res.State.ActiveSide != prevActive {
		expiry := now.Add(a.deps.Cfg.TurnTimeout).UnixMilli()
		a.state.TurnExpiresAtMs = &expiry
		a.armWake()
	}

	a.appendEvent("move_applied", map[string]any{
		"payloadVersion": 2,
		"agentId":        agentID,
		"moveId":         req.MoveID,
		"move":           mv,
		"stateVersion":   a.state.StateVersion,
		"engineEvents":   res.Events,
		"ts":             now.UnixMilli(),
	})

	a.broadcastState()
	a.subs.broadcast(newFrame(EventEngineEvents, map[string]any{
		"eventVersion": EventVersion,
		"matchId":      a.matchID,
		"stateVersion": a.state.StateVersion,
		"agentId":      agentID,
		"moveId":       req.MoveID,
		"move":         mv,
		"engineEvents": res.Events,
		"ts":           now.UnixMilli(),
	}))

	if a.state.Status == StatusEnded {
		a.broadcastEnded()
		a.startFinalize()
	} else {
		a.sendYourTurn()
	}

	body := mustJSON(map[string]any{
		"ok":           true,
		"matchId":      a.matchID,
		"stateVersion": a.state.StateVersion,
		"state":        a.copyState(),
		"engineEvents": res.Events,
	})
	return MoveResponse{Status: http.StatusOK, Body: body}
}

// Finish ends a match on behalf of agentID (admin-attributed forfeit).
func (a *Actor) Finish(agentID string, reason string) (resp MoveResponse) {
	if reason == "" {
		reason = ReasonForfeit
	}
	a.call(func() {
		if a.state == nil {
			resp = errorResponse(http.StatusConflict, CodeMatchNotInitialized, "match not initialized", 0)
			return
		}
		a.enforceTurnTimeout()
		if a.state.Status == StatusEnded {
			resp = MoveResponse{Status: http.StatusOK, Body: mustJSON(map[string]any{
				"ok":    true,
				"state": a.copyState(),
			})}
			return
		}
		if !a.state.isPlayer(agentID) {
			resp = errorResponse(http.StatusForbidden, CodeForbidden, "not a participant", a.state.StateVersion)
			return
		}
		resp = a.forfeitLocked(agentID, reason)
		if err := a.persist(); err != nil {
			log.Printf("[MATCH] %s: persist after finish failed: %v", a.matchID, err)
		}
	})
	return resp
}

// forfeitLocked ends the match against agentID. No-op on an already-ended
// match. Runs on the actor goroutine.
func (a *Actor) forfeitLocked(agentID, reasonCode string) MoveResponse {
	if a.state.Status == StatusEnded {
		return errorResponse(http.StatusConflict, CodeMatchEnded, "match already ended", a.state.StateVersion)
	}

	now := time.Now()
	winner := a.state.opponent(agentID)
	a.state.StateVersion++
	a.state.UpdatedAt = now
	a.state.WinnerAgentID = &winner
	loser := agentID
	a.state.LoserAgentID = &loser
	a.state.EndReason = reasonCode
	a.state.Status = StatusEnded
	a.state.EndedAt = &now
	a.state.TurnExpiresAtMs = nil
	a.disarmWake()

	a.appendEvent("forfeit", map[string]any{
		"agentId":      agentID,
		"reasonCode":   reasonCode,
		"stateVersion": a.state.StateVersion,
		"ts":           now.UnixMilli(),
	})

	a.broadcastState()
	a.broadcastEnded()
	a.startFinalize()

	body := mustJSON(map[string]any{
		"ok":            false,
		"error":         "move forfeits the match",
		"code":          reasonCode,
		"reasonCode":    reasonCode,
		"forfeited":     true,
		"matchStatus":   StatusEnded,
		"matchId":       a.matchID,
		"winnerAgentId": winner,
		"stateVersion":  a.state.StateVersion,
	})
	return MoveResponse{Status: http.StatusBadRequest, Body: body}
}

// endLocked records a terminal engine outcome (not a forfeit).
func (a *Actor) endLocked(now time.Time, winnerAgentID string, draw bool, reason string) {
	a.state.Status = StatusEnded
	a.state.EndedAt = &now
	a.state.EndReason = reason
	a.state.TurnExpiresAtMs = nil
	a.disarmWake()

	if !draw && winnerAgentID != "" {
		winner := winnerAgentID
		loser := a.state.opponent(winnerAgentID)
		a.state.WinnerAgentID = &winner
		a.state.LoserAgentID = &loser
	}
}

// enforceTurnTimeout synthesizes a missing deadline and forfeits the
// active side once the deadline passes. Runs on the actor goroutine; both
// the scheduled wake and every request path funnel through here.
func (a *Actor) enforceTurnTimeout() {
	if a.state == nil || a.state.Status != StatusActive {
		return
	}

	if a.state.TurnExpiresAtMs == nil || *a.state.TurnExpiresAtMs <= 0 {
		expiry := a.state.UpdatedAt.Add(a.deps.Cfg.TurnTimeout).UnixMilli()
		a.state.TurnExpiresAtMs = &expiry
		if err := a.persist(); err != nil {
			log.Printf("[MATCH] %s: persist synthesized deadline failed: %v", a.matchID, err)
		}
		a.armWake()
		return
	}

	if time.Now().UnixMilli() >= *a.state.TurnExpiresAtMs {
		active := engine.CurrentPlayer(a.state.Game)
		log.Printf("[MATCH] %s: turn timeout, forfeiting %s", a.matchID, active)
		a.forfeitLocked(active, ReasonTurnTimeout)
		if err := a.persist(); err != nil {
			log.Printf("[MATCH] %s: persist after timeout forfeit failed: %v", a.matchID, err)
		}
	}
}

// Attach adds a stream subscriber. Participant streams require a seat;
// spectator streams attach freely. The current state is replayed on
// attach, plus your_turn for the active participant or game_ended when the
// match is already over.
func (a *Actor) Attach(sub *Subscriber, participant bool) (err error) {
	a.call(func() {
		if participant {
			if a.state == nil || !a.state.isPlayer(sub.AgentID) {
				err = fmt.Errorf("agent %s is not a participant", sub.AgentID)
				return
			}
		}
		if a.state != nil {
			a.enforceTurnTimeout()
		}
		a.subs.add(sub)

		st := a.copyState()
		a.subs.send(sub, newFrame(EventState, map[string]any{
			"eventVersion": EventVersion,
			"matchId":      a.matchID,
			"state":        st,
		}))
		if st == nil {
			return
		}
		if participant && st.Status == StatusActive && engine.CurrentPlayer(st.Game) == sub.AgentID {
			a.subs.send(sub, newFrame(EventYourTurn, map[string]any{
				"eventVersion": EventVersion,
				"matchId":      a.matchID,
				"stateVersion": st.StateVersion,
			}))
		}
		if !participant && st.Status == StatusEnded {
			a.subs.send(sub, a.endedFrame(EventGameEnded))
		}
	})
	return err
}

// Detach removes a subscriber (client abort or stream close).
func (a *Actor) Detach(subID string) {
	a.call(func() {
		a.subs.remove(subID)
	})
}

// --- internals, all on the actor goroutine ---

func (a *Actor) currentVersion() uint64 {
	if a.state == nil {
		return 0
	}
	return a.state.StateVersion
}

func (a *Actor) copyState() *MatchState {
	if a.state == nil {
		return nil
	}
	cp := *a.state
	return &cp
}

// persist writes the durable state blob synchronously. Every transition
// persists before the actor acknowledges it.
func (a *Actor) persist() error {
	blob, err := json.Marshal(durableState{
		State:       a.state,
		Idempotency: a.idem.snapshot(),
	})
	if err != nil {
		return fmt.Errorf("marshal durable state: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.deps.Store.SaveMatchState(ctx, a.matchID, blob)
}

func (a *Actor) restore(blob []byte) error {
	var ds durableState
	if err := json.Unmarshal(blob, &ds); err != nil {
		return fmt.Errorf("unmarshal durable state: %w", err)
	}
	a.state = ds.State
	a.idem.restore(ds.Idempotency)
	return nil
}

func (a *Actor) appendEvent(eventType string, payload map[string]any) {
	data := mustJSON(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	turn := 0
	if a.state != nil {
		turn = a.state.Game.Turn
	}
	if err := a.deps.Store.AppendMatchEvent(ctx, a.matchID, turn, eventType, data); err != nil {
		log.Printf("[MATCH] %s: append %s event failed: %v", a.matchID, eventType, err)
	}
}

func (a *Actor) broadcastState() {
	a.subs.broadcast(newFrame(EventState, map[string]any{
		"eventVersion": EventVersion,
		"matchId":      a.matchID,
		"state":        a.copyState(),
	}))
}

func (a *Actor) sendYourTurn() {
	if a.state == nil || a.state.Status != StatusActive {
		return
	}
	active := engine.CurrentPlayer(a.state.Game)
	a.subs.sendToAgent(active, newFrame(EventYourTurn, map[string]any{
		"eventVersion": EventVersion,
		"matchId":      a.matchID,
		"stateVersion": a.state.StateVersion,
	}))
}

func (a *Actor) endedFrame(name string) Frame {
	var winner, loser any
	if a.state.WinnerAgentID != nil {
		winner = *a.state.WinnerAgentID
	}
	if a.state.LoserAgentID != nil {
		loser = *a.state.LoserAgentID
	}
	return newFrame(name, map[string]any{
		"eventVersion":  EventVersion,
		"matchId":       a.matchID,
		"winnerAgentId": winner,
		"loserAgentId":  loser,
		"reason":        a.state.EndReason,
		"reasonCode":    a.state.EndReason,
	})
}

// broadcastEnded emits both the canonical match_ended and its legacy
// game_ended alias; spectators expect either name.
func (a *Actor) broadcastEnded() {
	a.subs.broadcast(a.endedFrame(EventMatchEnded))
	a.subs.broadcast(a.endedFrame(EventGameEnded))
}

func (a *Actor) armWake() {
	a.disarmWake()
	if a.state == nil || a.state.TurnExpiresAtMs == nil {
		return
	}
	d := time.Until(time.UnixMilli(*a.state.TurnExpiresAtMs))
	if d < 0 {
		d = 0
	}
	a.wake = time.AfterFunc(d, func() {
		a.EnforceTimeout()
	})
	a.armDeadline(*a.state.TurnExpiresAtMs)
}

func (a *Actor) disarmWake() {
	if a.wake != nil {
		a.wake.Stop()
		a.wake = nil
	}
	a.disarmDeadline()
}

// moveIsLegal checks membership in the engine's enumeration.
func moveIsLegal(g engine.GameState, mv engine.Move) bool {
	for _, legal := range engine.ListLegalMoves(g) {
		if legal == mv {
			return true
		}
	}
	return false
}

func errorResponse(status int, code, message string, stateVersion uint64) MoveResponse {
	return MoveResponse{
		Status: status,
		Body: mustJSON(map[string]any{
			"ok":           false,
			"error":        message,
			"code":         code,
			"stateVersion": stateVersion,
		}),
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[MATCH] marshal response failed: %v", err)
		return []byte(`{"ok":false,"error":"internal error","code":"internal_error"}`)
	}
	return data
}
