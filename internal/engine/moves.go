package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Move actions
const (
	ActionMove    = "move"
	ActionAttack  = "attack"
	ActionEndTurn = "end_turn"
)

// Failure reasons for ApplyMove
const (
	ReasonInvalidSchema = "invalid_move_schema"
	ReasonIllegalMove   = "illegal_move"
	ReasonInvalidMove   = "invalid_move"
	ReasonTerminal      = "terminal"
)

// Move is the wire schema for a single action.
type Move struct {
	Action string `json:"action"`
	UnitID string `json:"unitId,omitempty"`
	To     string `json:"to,omitempty"`
	Target string `json:"target,omitempty"`
}

// Key gives the stable ordering tuple for legal-move enumeration.
func (m Move) Key() string {
	dest := m.To
	if m.Action == ActionAttack {
		dest = m.Target
	}
	return m.UnitID + "/" + dest
}

// Result is the outcome of ApplyMove.
type Result struct {
	OK     bool
	State  GameState
	Events []Event
	Reason string
	Err    error
}

// ParseMove schema-validates a raw move payload. Any failure here is an
// invalid_move_schema condition for the caller.
func ParseMove(raw json.RawMessage) (Move, error) {
	var m Move
	if len(raw) == 0 {
		return m, fmt.Errorf("empty move payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return m, fmt.Errorf("malformed move payload: %w", err)
	}

	switch m.Action {
	case ActionMove:
		if m.UnitID == "" || m.To == "" {
			return m, fmt.Errorf("move action requires unitId and to")
		}
		if m.Target != "" {
			return m, fmt.Errorf("move action does not take target")
		}
	case ActionAttack:
		if m.UnitID == "" || m.Target == "" {
			return m, fmt.Errorf("attack action requires unitId and target")
		}
		if m.To != "" {
			return m, fmt.Errorf("attack action does not take to")
		}
	case ActionEndTurn:
		if m.UnitID != "" || m.To != "" || m.Target != "" {
			return m, fmt.Errorf("end_turn takes no arguments")
		}
	default:
		return m, fmt.Errorf("unknown action %q", m.Action)
	}
	return m, nil
}

// ListLegalMoves enumerates every legal move for the active side, ordered
// by (unitId, destination) with end_turn appended last. Never empty for a
// non-terminal state: end_turn is always legal.
func ListLegalMoves(st GameState) []Move {
	if IsTerminal(st).Ended {
		return nil
	}

	var moves []Move
	for _, u := range livingUnits(&st, st.ActiveSide) {
		ux, uy, _ := parseCell(u.Cell)

		for y := 1; y <= BoardHeight; y++ {
			for x := 0; x < BoardWidth; x++ {
				cell := formatCell(x, y)
				if cell == u.Cell {
					continue
				}
				d := chebyshev(ux, uy, x, y)
				occupant := unitAt(&st, cell)
				if occupant == nil && d <= u.Move {
					moves = append(moves, Move{Action: ActionMove, UnitID: u.ID, To: cell})
				}
				if occupant != nil && occupant.Side != u.Side && d <= u.Range {
					moves = append(moves, Move{Action: ActionAttack, UnitID: u.ID, Target: cell})
				}
			}
		}
	}

	sort.Slice(moves, func(i, j int) bool { return moves[i].Key() < moves[j].Key() })
	moves = append(moves, Move{Action: ActionEndTurn})
	return moves
}

// ApplyMove applies one move to a state and returns the successor plus the
// events it produced. The input state is never mutated.
func ApplyMove(st GameState, m Move) Result {
	if IsTerminal(st).Ended {
		return Result{Reason: ReasonTerminal, Err: fmt.Errorf("game already over")}
	}

	next := clone(st)
	var events []Event

	switch m.Action {
	case ActionMove:
		u := unitByID(&next, m.UnitID)
		if u == nil || u.Side != next.ActiveSide {
			return Result{Reason: ReasonIllegalMove, Err: fmt.Errorf("no usable unit %q", m.UnitID)}
		}
		x, y, err := parseCell(m.To)
		if err != nil {
			return Result{Reason: ReasonIllegalMove, Err: fmt.Errorf("bad destination %q: %w", m.To, err)}
		}
		ux, uy, _ := parseCell(u.Cell)
		if chebyshev(ux, uy, x, y) > u.Move {
			return Result{Reason: ReasonIllegalMove, Err: fmt.Errorf("destination %s out of range for %s", m.To, u.ID)}
		}
		if unitAt(&next, m.To) != nil {
			return Result{Reason: ReasonInvalidMove, Err: fmt.Errorf("destination %s occupied", m.To)}
		}
		from := u.Cell
		u.Cell = m.To
		events = append(events, Event{Type: EventUnitMoved, Side: u.Side, UnitID: u.ID, From: from, To: m.To})

	case ActionAttack:
		u := unitByID(&next, m.UnitID)
		if u == nil || u.Side != next.ActiveSide {
			return Result{Reason: ReasonIllegalMove, Err: fmt.Errorf("no usable unit %q", m.UnitID)}
		}
		x, y, err := parseCell(m.Target)
		if err != nil {
			return Result{Reason: ReasonIllegalMove, Err: fmt.Errorf("bad target %q: %w", m.Target, err)}
		}
		ux, uy, _ := parseCell(u.Cell)
		if chebyshev(ux, uy, x, y) > u.Range {
			return Result{Reason: ReasonIllegalMove, Err: fmt.Errorf("target %s out of range for %s", m.Target, u.ID)}
		}
		victim := unitAt(&next, m.Target)
		if victim == nil || victim.Side == u.Side {
			return Result{Reason: ReasonInvalidMove, Err: fmt.Errorf("no enemy unit at %s", m.Target)}
		}

		var variance int
		next.RNG, variance = roll(next.RNG, 3)
		damage := u.Attack + variance
		victim.HP -= damage
		if victim.HP < 0 {
			victim.HP = 0
		}
		events = append(events, Event{
			Type:       EventUnitAttacked,
			Side:       u.Side,
			AttackerID: u.ID,
			TargetID:   victim.ID,
			Cell:       m.Target,
			Damage:     damage,
			HPAfter:    victim.HP,
		})
		if victim.HP == 0 {
			events = append(events, Event{Type: EventUnitDestroyed, Side: victim.Side, UnitID: victim.ID, Cell: m.Target})
		}

	case ActionEndTurn:
		// handled below via the shared pass path

	default:
		return Result{Reason: ReasonInvalidSchema, Err: fmt.Errorf("unknown action %q", m.Action)}
	}

	if m.Action == ActionEndTurn {
		events = append(events, passTurn(&next)...)
	} else {
		next.ActionsRemaining--
		if term := IsTerminal(next); term.Ended {
			events = append(events, Event{Type: EventGameOver, Winner: term.Winner, Reason: term.Reason})
			return Result{OK: true, State: next, Events: events}
		}
		if next.ActionsRemaining <= 0 {
			// Action pool exhausted: auto-pass exactly like end_turn
			events = append(events, passTurn(&next)...)
		}
	}

	if term := IsTerminal(next); term.Ended {
		events = append(events, Event{Type: EventGameOver, Winner: term.Winner, Reason: term.Reason})
	}

	return Result{OK: true, State: next, Events: events}
}

func passTurn(st *GameState) []Event {
	if st.ActiveSide == SideA {
		st.ActiveSide = SideB
	} else {
		st.ActiveSide = SideA
	}
	st.ActionsRemaining = ActionsPerTurn
	st.Turn++
	return []Event{{Type: EventTurnStarted, Side: st.ActiveSide, Turn: st.Turn}}
}

// parseCell converts "C4" into zero-based column and one-based row.
func parseCell(cell string) (int, int, error) {
	if len(cell) < 2 || len(cell) > 3 {
		return 0, 0, fmt.Errorf("malformed cell")
	}
	col := int(cell[0] - 'A')
	if col < 0 || col >= BoardWidth {
		return 0, 0, fmt.Errorf("column out of bounds")
	}
	row := 0
	for _, c := range cell[1:] {
		if c < '0' || c > '9' {
			return 0, 0, fmt.Errorf("malformed row")
		}
		row = row*10 + int(c-'0')
	}
	if row < 1 || row > BoardHeight {
		return 0, 0, fmt.Errorf("row out of bounds")
	}
	return col, row, nil
}

func formatCell(x, y int) string {
	return fmt.Sprintf("%c%d", 'A'+x, y)
}

func chebyshev(x1, y1, x2, y2 int) int {
	dx := x1 - x2
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y2
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
