package engine

import (
	"encoding/json"
	"reflect"
	"testing"
)

var testPlayers = [2]string{"agent-a", "agent-b"}

func TestInitialStateDeterministic(t *testing.T) {
	s1 := InitialState(42, testPlayers)
	s2 := InitialState(42, testPlayers)
	if !reflect.DeepEqual(s1, s2) {
		t.Fatal("same seed produced different initial states")
	}

	s3 := InitialState(43, testPlayers)
	if reflect.DeepEqual(s1.Units, s3.Units) {
		t.Error("different seeds produced identical unit layouts")
	}
}

func TestInitialStateShape(t *testing.T) {
	st := InitialState(7, testPlayers)

	if st.ActiveSide != SideA {
		t.Errorf("expected side A to start, got %s", st.ActiveSide)
	}
	if st.ActionsRemaining != ActionsPerTurn {
		t.Errorf("expected %d actions, got %d", ActionsPerTurn, st.ActionsRemaining)
	}
	if len(st.Units) != UnitsPerSide*2 {
		t.Fatalf("expected %d units, got %d", UnitsPerSide*2, len(st.Units))
	}

	seen := map[string]bool{}
	for _, u := range st.Units {
		if seen[u.Cell] {
			t.Errorf("two units share cell %s", u.Cell)
		}
		seen[u.Cell] = true
		if u.HP <= 0 || u.HP != u.MaxHP {
			t.Errorf("unit %s has bad hp %d/%d", u.ID, u.HP, u.MaxHP)
		}
		if _, ok := archetypes[u.Type]; !ok {
			t.Errorf("unit %s has unknown type %q", u.ID, u.Type)
		}
	}
}

func TestCurrentPlayerTracksActiveSide(t *testing.T) {
	st := InitialState(1, testPlayers)
	if got := CurrentPlayer(st); got != "agent-a" {
		t.Errorf("expected agent-a, got %s", got)
	}

	res := ApplyMove(st, Move{Action: ActionEndTurn})
	if !res.OK {
		t.Fatalf("end_turn failed: %v", res.Err)
	}
	if got := CurrentPlayer(res.State); got != "agent-b" {
		t.Errorf("expected agent-b after end_turn, got %s", got)
	}
}

func TestListLegalMovesOrderedAndNonEmpty(t *testing.T) {
	st := InitialState(99, testPlayers)
	moves := ListLegalMoves(st)
	if len(moves) == 0 {
		t.Fatal("non-terminal state returned no legal moves")
	}
	if moves[len(moves)-1].Action != ActionEndTurn {
		t.Error("end_turn must be the final enumerated move")
	}
	for i := 1; i < len(moves)-1; i++ {
		if moves[i-1].Key() > moves[i].Key() {
			t.Fatalf("legal moves out of order at %d: %q > %q", i, moves[i-1].Key(), moves[i].Key())
		}
	}
	for _, m := range moves[:len(moves)-1] {
		if m.UnitID[0] != 'A' {
			t.Errorf("move enumerated for non-active side: %+v", m)
		}
	}
}

func TestEveryLegalMoveApplies(t *testing.T) {
	st := InitialState(5, testPlayers)
	for _, m := range ListLegalMoves(st) {
		res := ApplyMove(st, m)
		if !res.OK {
			t.Errorf("legal move %+v rejected: reason=%s err=%v", m, res.Reason, res.Err)
		}
	}
}

func TestApplyMoveDoesNotMutateInput(t *testing.T) {
	st := InitialState(5, testPlayers)
	before, _ := json.Marshal(st)

	moves := ListLegalMoves(st)
	ApplyMove(st, moves[0])

	after, _ := json.Marshal(st)
	if string(before) != string(after) {
		t.Error("ApplyMove mutated its input state")
	}
}

func TestMoveActionRelocatesUnit(t *testing.T) {
	st := InitialState(5, testPlayers)
	var mv Move
	for _, m := range ListLegalMoves(st) {
		if m.Action == ActionMove {
			mv = m
			break
		}
	}
	res := ApplyMove(st, mv)
	if !res.OK {
		t.Fatalf("move rejected: %v", res.Err)
	}
	u := unitByID(&res.State, mv.UnitID)
	if u == nil || u.Cell != mv.To {
		t.Errorf("unit %s not at %s after move", mv.UnitID, mv.To)
	}
	if res.State.ActionsRemaining != ActionsPerTurn-1 {
		t.Errorf("expected %d actions remaining, got %d", ActionsPerTurn-1, res.State.ActionsRemaining)
	}
	if len(res.Events) == 0 || res.Events[0].Type != EventUnitMoved {
		t.Errorf("expected unit_moved event, got %+v", res.Events)
	}
}

func TestIllegalMovesRejected(t *testing.T) {
	st := InitialState(5, testPlayers)

	cases := []struct {
		name   string
		move   Move
		reason string
	}{
		{"unknown unit", Move{Action: ActionAttack, UnitID: "nonexistent", Target: "Z99"}, ReasonIllegalMove},
		{"enemy unit", Move{Action: ActionMove, UnitID: "B1", To: "C5"}, ReasonIllegalMove},
		{"off-board destination", Move{Action: ActionMove, UnitID: "A1", To: "Z99"}, ReasonIllegalMove},
		{"out of range", Move{Action: ActionMove, UnitID: "A1", To: "A8"}, ReasonIllegalMove},
	}
	for _, tc := range cases {
		res := ApplyMove(st, tc.move)
		if res.OK {
			t.Errorf("%s: move accepted", tc.name)
			continue
		}
		if res.Reason != tc.reason {
			t.Errorf("%s: reason=%s want %s", tc.name, res.Reason, tc.reason)
		}
	}
}

func TestActionPoolExhaustionPassesTurn(t *testing.T) {
	st := InitialState(5, testPlayers)
	for i := 0; i < ActionsPerTurn; i++ {
		if st.ActiveSide != SideA {
			t.Fatalf("turn passed early after %d actions", i)
		}
		var mv Move
		for _, m := range ListLegalMoves(st) {
			if m.Action == ActionMove {
				mv = m
				break
			}
		}
		res := ApplyMove(st, mv)
		if !res.OK {
			t.Fatalf("action %d rejected: %v", i, res.Err)
		}
		st = res.State
	}
	if st.ActiveSide != SideB {
		t.Error("turn did not pass after exhausting the action pool")
	}
	if st.ActionsRemaining != ActionsPerTurn {
		t.Errorf("opponent pool not refilled: %d", st.ActionsRemaining)
	}
}

func TestEliminationTerminal(t *testing.T) {
	st := InitialState(5, testPlayers)
	// Knock out every B unit directly
	for i := range st.Units {
		if st.Units[i].Side == SideB {
			st.Units[i].HP = 0
		}
	}
	term := IsTerminal(st)
	if !term.Ended {
		t.Fatal("expected terminal state")
	}
	if term.Winner != "agent-a" {
		t.Errorf("expected agent-a as winner, got %q", term.Winner)
	}
	if term.Reason != "elimination" {
		t.Errorf("expected elimination reason, got %q", term.Reason)
	}

	res := ApplyMove(st, Move{Action: ActionEndTurn})
	if res.OK || res.Reason != ReasonTerminal {
		t.Errorf("move on terminal state must fail with terminal, got ok=%v reason=%s", res.OK, res.Reason)
	}
}

func TestTurnLimitTiebreak(t *testing.T) {
	st := InitialState(5, testPlayers)
	st.Turn = MaxTurns + 1
	for i := range st.Units {
		if st.Units[i].Side == SideB {
			st.Units[i].HP = 1
		}
	}
	term := IsTerminal(st)
	if !term.Ended || term.Winner != "agent-a" || term.Reason != "turn_limit" {
		t.Errorf("unexpected turn-limit outcome: %+v", term)
	}
}

func TestReplayReproducesStatesAndEvents(t *testing.T) {
	seed := int64(1234)
	st := InitialState(seed, testPlayers)

	var accepted []Move
	var states []GameState
	var eventLog [][]Event

	// Drive a deterministic short game: always take the first legal move
	for i := 0; i < 40 && !IsTerminal(st).Ended; i++ {
		m := ListLegalMoves(st)[0]
		res := ApplyMove(st, m)
		if !res.OK {
			t.Fatalf("move %d rejected: %v", i, res.Err)
		}
		accepted = append(accepted, m)
		states = append(states, res.State)
		eventLog = append(eventLog, res.Events)
		st = res.State
	}

	// Replay the accepted moves from the same seed
	replay := InitialState(seed, testPlayers)
	for i, m := range accepted {
		res := ApplyMove(replay, m)
		if !res.OK {
			t.Fatalf("replay move %d rejected: %v", i, res.Err)
		}
		if !reflect.DeepEqual(res.State, states[i]) {
			t.Fatalf("replay diverged at move %d", i)
		}
		if !reflect.DeepEqual(res.Events, eventLog[i]) {
			t.Fatalf("replay events diverged at move %d", i)
		}
		replay = res.State
	}
}

func TestEventsRoundTripSerialization(t *testing.T) {
	st := InitialState(9, testPlayers)
	var res Result
	for _, m := range ListLegalMoves(st) {
		if m.Action == ActionAttack {
			res = ApplyMove(st, m)
			break
		}
	}
	if res.Events == nil {
		// No attack available from the opening position for this seed; a
		// plain move still emits events
		res = ApplyMove(st, ListLegalMoves(st)[0])
	}

	raw, err := json.Marshal(res.Events)
	if err != nil {
		t.Fatalf("marshal events: %v", err)
	}
	var back []Event
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if !reflect.DeepEqual(res.Events, back) {
		t.Error("events did not round-trip in order")
	}
}
