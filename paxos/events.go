package paxos

import (
	"sync"
	"time"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/messages"
)

// EventType enumerates the entries of the append-only event stream consumed
// by the external metrics collaborator.
type EventType string

const (
	EventPrepareSent  EventType = "prepare_sent"
	EventPromiseRecv  EventType = "promise_recv"
	EventNackRecv     EventType = "nack_recv"
	EventAcceptSent   EventType = "accept_sent"
	EventAcceptedRecv EventType = "accepted_recv"
	EventDecided      EventType = "decided"
	EventRetry        EventType = "retry"
	EventTimeout      EventType = "timeout"

	// Messenger-level events, for send/delivery/drop timestamps.
	EventMsgSent       EventType = "msg_sent"
	EventMsgDelivered  EventType = "msg_delivered"
	EventMsgDropped    EventType = "msg_dropped"
	EventMsgDuplicated EventType = "msg_duplicated"
)

// Event is one entry of the stream. Kind is only meaningful for the
// messenger-level events, where it carries the kind of the message involved.
type Event struct {
	Slot uint64        `json:"slot"`
	Node string        `json:"node"`
	Role string        `json:"role"`
	Type EventType     `json:"type"`
	Kind messages.Kind `json:"kind,omitempty"`
	At   time.Time     `json:"at"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(e Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Record(Event) {}

// MemorySink appends events to an in-memory slice. It is what the simulation
// driver hands to the metrics collaborator at the end of a trial.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of the stream recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Count returns how many events of the given type have been recorded.
func (s *MemorySink) Count(t EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func record(sink Sink, slot uint64, node, role string, t EventType, kind messages.Kind) {
	if sink == nil {
		return
	}
	sink.Record(Event{Slot: slot, Node: node, Role: role, Type: t, Kind: kind, At: time.Now()})
}
