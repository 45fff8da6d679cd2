package matchmaker

import (
	"context"
	"time"
)

// AgentEvent is one buffered lifecycle event for long-poll delivery.
type AgentEvent struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

func newMatchFound(matchID, opponentID string) AgentEvent {
	return AgentEvent{
		Event: "match_found",
		Payload: map[string]any{
			"eventVersion": 1,
			"matchId":      matchID,
			"opponentId":   opponentID,
		},
	}
}

// NoEvents is the long-poll timeout sentinel.
func NoEvents() AgentEvent {
	return AgentEvent{
		Event:   "no_events",
		Payload: map[string]any{"eventVersion": 1},
	}
}

// deliverLocked hands an event to the agent. A registered waiter gets it
// directly, bypassing the buffer; otherwise it is buffered with the oldest
// entry dropped on overflow. Caller holds m.mu.
func (m *Matchmaker) deliverLocked(agentID string, ev AgentEvent) {
	if ch, ok := m.waiters[agentID]; ok {
		delete(m.waiters, agentID)
		ch <- ev // single-shot, buffered
		return
	}

	buf := append(m.buffers[agentID], ev)
	if len(buf) > m.cfg.EventBufferMax {
		buf = buf[len(buf)-m.cfg.EventBufferMax:]
	}
	m.buffers[agentID] = buf
}

// WaitForEvent long-polls one lifecycle event for the agent. The head of
// the buffer is served immediately when present; otherwise a single-shot
// waiter is registered and the call blocks until an event arrives, the
// timeout elapses, or the request context is cancelled.
func (m *Matchmaker) WaitForEvent(ctx context.Context, agentID string, timeout time.Duration) AgentEvent {
	if timeout <= 0 {
		timeout = m.cfg.LongPollDefault
	}

	m.mu.Lock()
	if buf := m.buffers[agentID]; len(buf) > 0 {
		ev := buf[0]
		m.buffers[agentID] = buf[1:]
		m.mu.Unlock()
		return ev
	}

	ch := make(chan AgentEvent, 1)
	if old, ok := m.waiters[agentID]; ok {
		// A second poll for the same agent supersedes the first; the old
		// waiter resolves with the sentinel.
		old <- NoEvents()
	}
	m.waiters[agentID] = ch
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or aborted: race-free removal. If delivery won the race,
	// the event is already in the channel and must not be lost.
	m.mu.Lock()
	if cur, ok := m.waiters[agentID]; ok && cur == ch {
		delete(m.waiters, agentID)
	}
	m.mu.Unlock()

	select {
	case ev := <-ch:
		return ev
	default:
		return NoEvents()
	}
}

// BufferLen reports the agent's pending event count.
func (m *Matchmaker) BufferLen(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers[agentID])
}
