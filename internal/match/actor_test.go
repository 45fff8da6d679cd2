package match

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fightclaw/server/internal/config"
	"github.com/fightclaw/server/internal/engine"
	"github.com/fightclaw/server/internal/models"
)

// fakeStorage is an in-memory Storage for actor tests.
type fakeStorage struct {
	mu          sync.Mutex
	states      map[string][]byte
	events      []string
	results     map[string]*models.MatchResult
	ratings     map[string]int
	wins        map[string]int
	losses      map[string]int
	endedCalls int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		states:  make(map[string][]byte),
		results: make(map[string]*models.MatchResult),
		ratings: make(map[string]int),
		wins:    make(map[string]int),
		losses:  make(map[string]int),
	}
}

func (f *fakeStorage) SaveMatchState(_ context.Context, matchID string, stateJSON []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(stateJSON))
	copy(cp, stateJSON)
	f.states[matchID] = cp
	return nil
}

func (f *fakeStorage) LoadMatchState(_ context.Context, matchID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[matchID], nil
}

func (f *fakeStorage) AppendMatchEvent(_ context.Context, _ string, _ int, eventType string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeStorage) GetMatchResult(_ context.Context, matchID string) (*models.MatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[matchID], nil
}

func (f *fakeStorage) InsertMatchResult(_ context.Context, matchID string, winnerAgentID, loserAgentID *string, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.results[matchID]; ok {
		return false, nil
	}
	r := &models.MatchResult{MatchID: matchID, Reason: reason}
	if winnerAgentID != nil {
		r.WinnerAgentID.String, r.WinnerAgentID.Valid = *winnerAgentID, true
	}
	if loserAgentID != nil {
		r.LoserAgentID.String, r.LoserAgentID.Valid = *loserAgentID, true
	}
	f.results[matchID] = r
	return true, nil
}

func (f *fakeStorage) UpdateMatchEnded(_ context.Context, _ string, _ time.Time, _ *string, _ string, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endedCalls++
	return nil
}

func (f *fakeStorage) UpsertLeaderboardStart(_ context.Context, agentID string, startRating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ratings[agentID]; !ok {
		f.ratings[agentID] = startRating
	}
	return nil
}

func (f *fakeStorage) GetRating(_ context.Context, agentID string, startRating int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.ratings[agentID]; ok {
		return r, nil
	}
	return startRating, nil
}

func (f *fakeStorage) ApplyRatingDelta(_ context.Context, agentID string, newRating, winsDelta, lossesDelta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings[agentID] = newRating
	f.wins[agentID] += winsDelta
	f.losses[agentID] += lossesDelta
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		EloStartRating:   1500,
		EloKFactor:       32,
		EloRange:         200,
		QueueTTL:         10 * time.Minute,
		TurnTimeout:      time.Minute,
		IdempotencyMax:   200,
		EventBufferMax:   25,
		SSEWriteTimeout:  time.Second,
		FeaturedCacheTTL: 10 * time.Second,
		LongPollDefault:  time.Second,
		TestMode:         true,
	}
}

func newTestActor(t *testing.T, fs *fakeStorage, cfg *config.Config) *Actor {
	t.Helper()
	return newActor("11111111-1111-4111-8111-111111111111", Deps{Store: fs, Cfg: cfg})
}

var testPlayers = [2]string{"agent-a", "agent-b"}

func mustInit(t *testing.T, a *Actor) *MatchState {
	t.Helper()
	st, err := a.Init(testPlayers, 42)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return st
}

func legalMoveRequest(t *testing.T, st *MatchState, moveID string) MoveRequest {
	t.Helper()
	moves := engine.ListLegalMoves(st.Game)
	if len(moves) == 0 {
		t.Fatal("no legal moves for active state")
	}
	raw, err := json.Marshal(moves[0])
	if err != nil {
		t.Fatalf("marshal move: %v", err)
	}
	return MoveRequest{MoveID: moveID, ExpectedVersion: st.StateVersion, Move: raw}
}

func decodeBody(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode body %s: %v", body, err)
	}
	return out
}

func TestInitIdempotent(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())

	st1 := mustInit(t, a)
	if st1.StateVersion != 0 || st1.Status != StatusActive {
		t.Fatalf("unexpected initial state: version=%d status=%s", st1.StateVersion, st1.Status)
	}
	if st1.TurnExpiresAtMs == nil {
		t.Fatal("initial state has no turn deadline")
	}

	st2, err := a.Init([2]string{"other-x", "other-y"}, 99)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if st2.StateVersion != st1.StateVersion || st2.Players != testPlayers || st2.Seed != 42 {
		t.Errorf("second init changed state: %+v", st2)
	}
}

func TestMoveAdvancesStateVersion(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())
	st := mustInit(t, a)

	resp := a.Move("agent-a", legalMoveRequest(t, st, "aaaaaaaa-0000-4000-8000-000000000001"))
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Status, resp.Body)
	}
	body := decodeBody(t, resp.Body)
	if body["stateVersion"].(float64) != 1 {
		t.Errorf("expected stateVersion 1, got %v", body["stateVersion"])
	}
	if cur := a.State(); cur.StateVersion != 1 {
		t.Errorf("actor state not advanced: %d", cur.StateVersion)
	}
}

func TestDuplicateMoveIDReplaysVerbatim(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())
	st := mustInit(t, a)

	req := legalMoveRequest(t, st, "aaaaaaaa-0000-4000-8000-000000000002")
	first := a.Move("agent-a", req)
	if first.Status != http.StatusOK {
		t.Fatalf("first submission failed: %d %s", first.Status, first.Body)
	}

	// Same moveId with a now-stale version and the other agent: the cached
	// response must replay untouched regardless of current state.
	second := a.Move("agent-b", MoveRequest{MoveID: req.MoveID, ExpectedVersion: 7, Move: []byte(`{"action":"end_turn"}`)})
	if second.Status != first.Status || !bytes.Equal(second.Body, first.Body) {
		t.Errorf("duplicate response differs:\n first=%d %s\nsecond=%d %s",
			first.Status, first.Body, second.Status, second.Body)
	}
	if cur := a.State(); cur.StateVersion != 1 {
		t.Errorf("duplicate submission mutated state: version=%d", cur.StateVersion)
	}
}

func TestVersionMismatch(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())
	st := mustInit(t, a)

	req := legalMoveRequest(t, st, "aaaaaaaa-0000-4000-8000-000000000003")
	req.ExpectedVersion = 5
	resp := a.Move("agent-a", req)
	if resp.Status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Status)
	}
	body := decodeBody(t, resp.Body)
	if body["code"] != CodeVersionMismatch {
		t.Errorf("expected %s, got %v", CodeVersionMismatch, body["code"])
	}
	if body["stateVersion"].(float64) != 0 {
		t.Errorf("expected current version 0 in body, got %v", body["stateVersion"])
	}
	if cur := a.State(); cur.StateVersion != 0 {
		t.Errorf("state mutated on version mismatch")
	}
}

func TestNotYourTurn(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())
	st := mustInit(t, a)

	resp := a.Move("agent-b", legalMoveRequest(t, st, "aaaaaaaa-0000-4000-8000-000000000004"))
	if resp.Status != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.Status, resp.Body)
	}
	if body := decodeBody(t, resp.Body); body["code"] != CodeNotYourTurn {
		t.Errorf("expected %s, got %v", CodeNotYourTurn, body["code"])
	}
}

func TestIllegalMoveForfeits(t *testing.T) {
	fs := newFakeStorage()
	a := newTestActor(t, fs, testConfig())
	mustInit(t, a)

	// Schema-valid but not in the legal enumeration
	resp := a.Move("agent-a", MoveRequest{
		MoveID:          "aaaaaaaa-0000-4000-8000-000000000005",
		ExpectedVersion: 0,
		Move:            []byte(`{"action":"move","unitId":"A1","to":"H8"}`),
	})
	if resp.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Status, resp.Body)
	}
	body := decodeBody(t, resp.Body)
	if body["forfeited"] != true || body["matchStatus"] != StatusEnded {
		t.Errorf("expected forfeit envelope, got %s", resp.Body)
	}
	if body["winnerAgentId"] != "agent-b" {
		t.Errorf("expected winner agent-b, got %v", body["winnerAgentId"])
	}

	st := a.State()
	if st.Status != StatusEnded || st.EndReason != CodeIllegalMove {
		t.Errorf("state not ended by illegal move: status=%s reason=%s", st.Status, st.EndReason)
	}

	// TEST_MODE finalization is synchronous
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.results[a.MatchID()] == nil {
		t.Error("match result not finalized")
	}
	if fs.ratings["agent-b"] != 1516 || fs.ratings["agent-a"] != 1484 {
		t.Errorf("ratings not applied: %v", fs.ratings)
	}
}

func TestSchemaViolationForfeitsParticipantOnly(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())
	mustInit(t, a)

	// Non-participant garbage is a 403, not a forfeit
	resp := a.Move("stranger", MoveRequest{
		MoveID:          "aaaaaaaa-0000-4000-8000-000000000006",
		ExpectedVersion: 0,
		Move:            []byte(`{"bogus":1}`),
	})
	if resp.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", resp.Status)
	}
	if st := a.State(); st.Status != StatusActive {
		t.Fatal("stranger garbage ended the match")
	}

	// Participant garbage forfeits
	resp = a.Move("agent-a", MoveRequest{
		MoveID:          "aaaaaaaa-0000-4000-8000-000000000007",
		ExpectedVersion: 0,
		Move:            []byte(`{"bogus":1}`),
	})
	if resp.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Status, resp.Body)
	}
	if body := decodeBody(t, resp.Body); body["code"] != CodeInvalidMoveSchema {
		t.Errorf("expected %s, got %v", CodeInvalidMoveSchema, body["code"])
	}
	if st := a.State(); st.EndReason != CodeInvalidMoveSchema {
		t.Errorf("expected schema-forfeit reason, got %s", st.EndReason)
	}
}

func TestMoveOnEndedMatch(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())
	st := mustInit(t, a)

	if resp := a.Finish("agent-a", ReasonForfeit); resp.Status != http.StatusBadRequest {
		t.Fatalf("finish forfeit: unexpected status %d", resp.Status)
	}

	resp := a.Move("agent-b", legalMoveRequest(t, st, "aaaaaaaa-0000-4000-8000-000000000008"))
	if resp.Status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Status)
	}
	if body := decodeBody(t, resp.Body); body["code"] != CodeMatchEnded {
		t.Errorf("expected %s, got %v", CodeMatchEnded, body["code"])
	}
}

func TestTurnTimeoutForfeitsActivePlayer(t *testing.T) {
	cfg := testConfig()
	cfg.TurnTimeout = 10 * time.Millisecond
	a := newTestActor(t, newFakeStorage(), cfg)
	mustInit(t, a)

	time.Sleep(50 * time.Millisecond)

	st := a.State()
	if st.Status != StatusEnded {
		t.Fatalf("expected ended after deadline, got %s", st.Status)
	}
	if st.EndReason != ReasonTurnTimeout {
		t.Errorf("expected %s, got %s", ReasonTurnTimeout, st.EndReason)
	}
	if st.WinnerAgentID == nil || *st.WinnerAgentID != "agent-b" {
		t.Errorf("expected agent-b to win the timeout, got %v", st.WinnerAgentID)
	}
}

func TestFinishSemantics(t *testing.T) {
	fs := newFakeStorage()
	a := newTestActor(t, fs, testConfig())
	mustInit(t, a)

	if resp := a.Finish("stranger", ""); resp.Status != http.StatusForbidden {
		t.Fatalf("stranger finish: expected 403, got %d", resp.Status)
	}

	resp := a.Finish("agent-b", "")
	if resp.Status != http.StatusBadRequest {
		t.Fatalf("finish: expected forfeit 400, got %d", resp.Status)
	}
	st := a.State()
	if st.Status != StatusEnded || st.EndReason != ReasonForfeit {
		t.Fatalf("finish did not forfeit: %s/%s", st.Status, st.EndReason)
	}
	if *st.WinnerAgentID != "agent-a" {
		t.Errorf("expected agent-a to win, got %s", *st.WinnerAgentID)
	}

	// Second finish observes the ended match, no second finalization
	resp = a.Finish("agent-a", "")
	if resp.Status != http.StatusOK {
		t.Fatalf("finish on ended: expected 200, got %d", resp.Status)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.wins["agent-a"] != 1 || fs.losses["agent-b"] != 1 {
		t.Errorf("tallies applied more than once: wins=%v losses=%v", fs.wins, fs.losses)
	}
}

func TestRegistryRehydration(t *testing.T) {
	fs := newFakeStorage()
	cfg := testConfig()

	reg1 := NewRegistry(Deps{Store: fs, Cfg: cfg})
	a1 := reg1.Get("22222222-2222-4222-8222-222222222222")
	st1, err := a1.Init(testPlayers, 7)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	req := legalMoveRequest(t, st1, "aaaaaaaa-0000-4000-8000-000000000009")
	first := a1.Move("agent-a", req)
	if first.Status != http.StatusOK {
		t.Fatalf("move: %d %s", first.Status, first.Body)
	}

	// Fresh registry over the same store simulates a process restart
	reg2 := NewRegistry(Deps{Store: fs, Cfg: cfg})
	a2 := reg2.Get("22222222-2222-4222-8222-222222222222")

	st2 := a2.State()
	if st2 == nil {
		t.Fatal("rehydrated actor has no state")
	}
	if st2.StateVersion != 1 || st2.Players != testPlayers {
		t.Errorf("rehydrated state differs: version=%d players=%v", st2.StateVersion, st2.Players)
	}

	// Idempotency survives reactivation
	replay := a2.Move("agent-a", req)
	if replay.Status != first.Status || !bytes.Equal(replay.Body, first.Body) {
		t.Errorf("replay after rehydration differs")
	}
}

func TestAttachReplaysStateAndYourTurn(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())
	mustInit(t, a)

	sub := &Subscriber{ID: "sub-1", AgentID: "agent-a", Ch: make(chan Frame, 8)}
	if err := a.Attach(sub, true); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer a.Detach(sub.ID)

	f := <-sub.Ch
	if f.Event != EventState {
		t.Fatalf("expected state frame first, got %s", f.Event)
	}
	f = <-sub.Ch
	if f.Event != EventYourTurn {
		t.Fatalf("expected your_turn for active agent, got %s", f.Event)
	}

	stranger := &Subscriber{ID: "sub-2", AgentID: "stranger", Ch: make(chan Frame, 8)}
	if err := a.Attach(stranger, true); err == nil {
		t.Error("non-participant attached as participant")
	}
}

func TestSpectatorAttachOnEndedMatch(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())
	mustInit(t, a)
	a.Finish("agent-a", ReasonForfeit)

	sub := &Subscriber{ID: "spec-1", Ch: make(chan Frame, 8)}
	if err := a.Attach(sub, false); err != nil {
		t.Fatalf("spectator attach: %v", err)
	}
	defer a.Detach(sub.ID)

	f := <-sub.Ch
	if f.Event != EventState {
		t.Fatalf("expected state frame, got %s", f.Event)
	}
	f = <-sub.Ch
	if f.Event != EventGameEnded {
		t.Fatalf("expected game_ended replay, got %s", f.Event)
	}
}

func TestIdemCacheEvictionProtection(t *testing.T) {
	c := newIdemCache(3)
	c.put(idemRecord{MoveID: "m1", StateVersion: 1}, 1)
	c.put(idemRecord{MoveID: "m2", StateVersion: 2}, 2)
	c.put(idemRecord{MoveID: "m3", StateVersion: 3}, 3)

	// m1 is outside the protection window (current-1 = 3) and goes first
	c.put(idemRecord{MoveID: "m4", StateVersion: 4}, 4)
	if _, ok := c.get("m1"); ok {
		t.Error("m1 should have been evicted")
	}
	for _, id := range []string{"m2", "m3", "m4"} {
		if _, ok := c.get(id); !ok {
			t.Errorf("%s missing after eviction", id)
		}
	}
	if c.len() != 3 {
		t.Errorf("cache over capacity: %d", c.len())
	}

	// All entries protected: the bound still holds, oldest goes
	c2 := newIdemCache(2)
	c2.put(idemRecord{MoveID: "p1", StateVersion: 9}, 9)
	c2.put(idemRecord{MoveID: "p2", StateVersion: 10}, 10)
	c2.put(idemRecord{MoveID: "p3", StateVersion: 10}, 10)
	if c2.len() != 2 {
		t.Errorf("cache over capacity with protected entries: %d", c2.len())
	}
	if _, ok := c2.get("p1"); ok {
		t.Error("oldest protected entry should be dropped at the bound")
	}
}

func TestStateVersionMonotone(t *testing.T) {
	a := newTestActor(t, newFakeStorage(), testConfig())
	st := mustInit(t, a)

	last := st.StateVersion
	players := map[string]bool{"agent-a": true, "agent-b": true}
	for i := 0; i < 30; i++ {
		cur := a.State()
		if cur.Status != StatusActive {
			break
		}
		active := engine.CurrentPlayer(cur.Game)
		if !players[active] {
			t.Fatalf("unknown active player %s", active)
		}
		moves := engine.ListLegalMoves(cur.Game)
		raw, _ := json.Marshal(moves[0])
		resp := a.Move(active, MoveRequest{
			MoveID:          newTestMoveID(i),
			ExpectedVersion: cur.StateVersion,
			Move:            raw,
		})
		if resp.Status != http.StatusOK {
			t.Fatalf("move %d failed: %d %s", i, resp.Status, resp.Body)
		}
		next := a.State().StateVersion
		if next <= last {
			t.Fatalf("stateVersion not monotone: %d -> %d", last, next)
		}
		last = next
	}
}

func newTestMoveID(i int) string {
	return "aaaaaaaa-0000-4000-8000-" + string([]byte{
		'1', '0', '0', '0', '0', '0',
		byte('0' + (i/100)%10), byte('0' + (i/10)%10), byte('0' + i%10),
		'0', '0', '0',
	})
}
