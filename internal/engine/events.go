package engine

// Event is one observable combat outcome. Events are the only public
// record of what a move did; they serialize in emission order.
type Event struct {
	Type       string `json:"type"`
	Side       Side   `json:"side,omitempty"`
	Turn       int    `json:"turn,omitempty"`
	UnitID     string `json:"unitId,omitempty"`
	AttackerID string `json:"attackerId,omitempty"`
	TargetID   string `json:"targetId,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Cell       string `json:"cell,omitempty"`
	Damage     int    `json:"damage,omitempty"`
	HPAfter    int    `json:"hpAfter,omitempty"`
	Winner     string `json:"winner,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

const (
	EventTurnStarted   = "turn_started"
	EventUnitMoved     = "unit_moved"
	EventUnitAttacked  = "unit_attacked"
	EventUnitDestroyed = "unit_destroyed"
	EventGameOver      = "game_over"
)
