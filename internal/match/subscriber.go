package match

import (
	"encoding/json"
	"log"
	"time"
)

// Outbound stream event names
const (
	EventMatchFound   = "match_found"
	EventYourTurn     = "your_turn"
	EventState        = "state"
	EventEngineEvents = "engine_events"
	EventMatchEnded   = "match_ended"
	EventGameEnded    = "game_ended"
	EventNoEvents     = "no_events"
)

// EventVersion stamps every outbound frame.
const EventVersion = 1

// Frame is one serialized stream event, ready for SSE or WebSocket write.
type Frame struct {
	Event string
	Data  []byte
}

func newFrame(event string, payload map[string]any) Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[STREAM] marshal %s frame failed: %v", event, err)
		data = []byte("{}")
	}
	return Frame{Event: event, Data: data}
}

// Subscriber is one attached stream consumer. AgentID is empty for
// spectators.
type Subscriber struct {
	ID      string
	AgentID string
	Ch      chan Frame
}

// subscriberSet tracks a match's attached streams. Owned by the actor
// goroutine; no locking needed.
type subscriberSet struct {
	subs         map[string]*Subscriber
	writeTimeout time.Duration
}

func newSubscriberSet(writeTimeout time.Duration) *subscriberSet {
	return &subscriberSet{
		subs:         make(map[string]*Subscriber),
		writeTimeout: writeTimeout,
	}
}

func (s *subscriberSet) add(sub *Subscriber) {
	s.subs[sub.ID] = sub
}

func (s *subscriberSet) remove(id string) {
	if sub, ok := s.subs[id]; ok {
		close(sub.Ch)
		delete(s.subs, id)
	}
}

// send writes one frame to one subscriber with a hard timeout. A timeout
// or full buffer drops the subscriber; state progression never waits on a
// dead consumer beyond the write deadline.
func (s *subscriberSet) send(sub *Subscriber, f Frame) {
	select {
	case sub.Ch <- f:
	case <-time.After(s.writeTimeout):
		log.Printf("[STREAM] dropping slow subscriber %s (write timeout)", sub.ID)
		s.remove(sub.ID)
	}
}

// broadcast delivers a frame to every subscriber. Failures are isolated
// per subscriber.
func (s *subscriberSet) broadcast(f Frame) {
	for _, sub := range s.snapshot() {
		s.send(sub, f)
	}
}

// sendToAgent delivers a frame only to subscribers authenticated as agentID.
func (s *subscriberSet) sendToAgent(agentID string, f Frame) {
	for _, sub := range s.snapshot() {
		if sub.AgentID == agentID {
			s.send(sub, f)
		}
	}
}

// snapshot copies the subscriber list so removal during iteration is safe.
func (s *subscriberSet) snapshot() []*Subscriber {
	out := make([]*Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

func (s *subscriberSet) len() int {
	return len(s.subs)
}
