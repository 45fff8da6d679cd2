package engine

import (
	"fmt"
	"sort"
)

// Side identifies one of the two seats in a match.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

const (
	BoardWidth  = 8
	BoardHeight = 8

	UnitsPerSide   = 4
	ActionsPerTurn = 3
	MaxTurns       = 100
)

// Unit archetypes. The seed picks each side's mix at init.
const (
	TypeWarrior  = "warrior"
	TypeArcher   = "archer"
	TypeGuardian = "guardian"
)

type archetype struct {
	hp     int
	attack int
	rng    int
	move   int
}

var archetypes = map[string]archetype{
	TypeWarrior:  {hp: 12, attack: 4, rng: 1, move: 2},
	TypeArcher:   {hp: 8, attack: 3, rng: 3, move: 2},
	TypeGuardian: {hp: 16, attack: 2, rng: 1, move: 1},
}

// archetypeOrder gives deterministic iteration for seeded rolls.
var archetypeOrder = []string{TypeWarrior, TypeArcher, TypeGuardian}

// Unit is one piece on the board.
type Unit struct {
	ID     string `json:"id"`
	Side   Side   `json:"side"`
	Type   string `json:"type"`
	Cell   string `json:"cell"`
	HP     int    `json:"hp"`
	MaxHP  int    `json:"maxHp"`
	Attack int    `json:"attack"`
	Range  int    `json:"range"`
	Move   int    `json:"move"`
}

// GameState is the full engine payload. It is a value: ApplyMove never
// mutates its input, it returns a fresh state.
type GameState struct {
	Seed             int64     `json:"seed"`
	Turn             int       `json:"turn"`
	ActiveSide       Side      `json:"activeSide"`
	ActionsRemaining int       `json:"actionsRemaining"`
	Players          [2]string `json:"players"`
	Units            []Unit    `json:"units"`
	RNG              uint64    `json:"rng"`
}

// TerminalStatus reports whether a state is terminal and who won.
type TerminalStatus struct {
	Ended  bool   `json:"ended"`
	Winner string `json:"winner,omitempty"` // agent id, empty on draw or when not ended
	Draw   bool   `json:"draw,omitempty"`
	Reason string `json:"reason,omitempty"` // elimination | turn_limit
}

// InitialState builds the deterministic starting position for a match.
// The same (seed, players) pair always yields the same state.
func InitialState(seed int64, players [2]string) GameState {
	rng := seedRNG(seed)

	st := GameState{
		Seed:             seed,
		Turn:             1,
		ActiveSide:       SideA,
		ActionsRemaining: ActionsPerTurn,
		Players:          players,
		Units:            make([]Unit, 0, UnitsPerSide*2),
	}

	cols := []string{"B", "D", "E", "G"}
	for _, side := range []Side{SideA, SideB} {
		order := make([]string, len(cols))
		copy(order, cols)
		// Seeded column shuffle per side
		for i := len(order) - 1; i > 0; i-- {
			var j int
			rng, j = roll(rng, i+1)
			order[i], order[j] = order[j], order[i]
		}
		for i := 0; i < UnitsPerSide; i++ {
			var pick int
			rng, pick = roll(rng, len(archetypeOrder))
			typ := archetypeOrder[pick]
			arch := archetypes[typ]

			row := 1 + i%2
			if side == SideB {
				row = BoardHeight - i%2
			}
			st.Units = append(st.Units, Unit{
				ID:     fmt.Sprintf("%s%d", side, i+1),
				Side:   side,
				Type:   typ,
				Cell:   fmt.Sprintf("%s%d", order[i], row),
				HP:     arch.hp,
				MaxHP:  arch.hp,
				Attack: arch.attack,
				Range:  arch.rng,
				Move:   arch.move,
			})
		}
	}

	st.RNG = rng
	return st
}

// CurrentPlayer returns the agent id of the side whose turn it is.
func CurrentPlayer(st GameState) string {
	if st.ActiveSide == SideB {
		return st.Players[1]
	}
	return st.Players[0]
}

// IsTerminal evaluates the end-of-game condition for a state.
func IsTerminal(st GameState) TerminalStatus {
	hpA, hpB := 0, 0
	aliveA, aliveB := 0, 0
	for _, u := range st.Units {
		if u.HP <= 0 {
			continue
		}
		if u.Side == SideA {
			aliveA++
			hpA += u.HP
		} else {
			aliveB++
			hpB += u.HP
		}
	}

	switch {
	case aliveA == 0 && aliveB == 0:
		return TerminalStatus{Ended: true, Draw: true, Reason: "elimination"}
	case aliveA == 0:
		return TerminalStatus{Ended: true, Winner: st.Players[1], Reason: "elimination"}
	case aliveB == 0:
		return TerminalStatus{Ended: true, Winner: st.Players[0], Reason: "elimination"}
	}

	if st.Turn > MaxTurns {
		switch {
		case hpA > hpB:
			return TerminalStatus{Ended: true, Winner: st.Players[0], Reason: "turn_limit"}
		case hpB > hpA:
			return TerminalStatus{Ended: true, Winner: st.Players[1], Reason: "turn_limit"}
		default:
			return TerminalStatus{Ended: true, Draw: true, Reason: "turn_limit"}
		}
	}

	return TerminalStatus{}
}

// clone returns a deep copy so callers can treat states as values.
func clone(st GameState) GameState {
	out := st
	out.Units = make([]Unit, len(st.Units))
	copy(out.Units, st.Units)
	return out
}

// unitByID finds a living unit. Dead units stay in the slice with HP<=0
// so replays keep a stable unit roster.
func unitByID(st *GameState, id string) *Unit {
	for i := range st.Units {
		if st.Units[i].ID == id && st.Units[i].HP > 0 {
			return &st.Units[i]
		}
	}
	return nil
}

func unitAt(st *GameState, cell string) *Unit {
	for i := range st.Units {
		if st.Units[i].Cell == cell && st.Units[i].HP > 0 {
			return &st.Units[i]
		}
	}
	return nil
}

// livingUnits returns the active side's living units sorted by id.
func livingUnits(st *GameState, side Side) []*Unit {
	var out []*Unit
	for i := range st.Units {
		if st.Units[i].Side == side && st.Units[i].HP > 0 {
			out = append(out, &st.Units[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// seedRNG maps a match seed onto a non-zero xorshift64 state.
func seedRNG(seed int64) uint64 {
	x := uint64(seed)
	if x == 0 {
		x = 0x9E3779B97F4A7C15
	}
	return x
}

// nextRNG advances the xorshift64 state.
func nextRNG(x uint64) uint64 {
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	return x
}

// roll advances the RNG and returns a value in [0, n).
func roll(x uint64, n int) (uint64, int) {
	x = nextRNG(x)
	return x, int(x % uint64(n))
}
