package paxos

import (
	"context"
	"log"
	"sync"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/messages"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/proposal"
)

// voteKey groups Accepted observations: a decision needs a quorum of
// acceptors voting for the same (proposal ID, value) pair.
type voteKey struct {
	id proposal.ID
	v  string
}

// Learner aggregates Accepted notifications into decisions. It counts votes
// per slot grouped by (ID, value), deduplicating acceptors, and emits a
// Decided exactly once per slot; later observations for a decided slot are
// absorbed without effect. A Decided received directly from a proposer that
// already confirmed quorum short-circuits the counting.
type Learner struct {
	id     string
	quorum int
	sink   Sink
	net    Messenger

	mu       sync.Mutex
	votes    map[uint64]map[voteKey]map[string]bool
	decided  map[uint64]string
	maxSlot  uint64
	contig   uint64
	lastKind messages.Kind
	waiters  map[uint64]chan struct{}

	// OnDecided, when set before any message arrives, is invoked once per
	// decided slot, outside the learner's lock.
	OnDecided func(slot uint64, v string)
}

// NewLearner creates a learner. net may be nil for learners that never
// answer seek requests.
func NewLearner(id string, quorum int, net Messenger, sink Sink) *Learner {
	if sink == nil {
		sink = NopSink{}
	}
	return &Learner{
		id:      id,
		quorum:  quorum,
		net:     net,
		sink:    sink,
		votes:   make(map[uint64]map[voteKey]map[string]bool),
		decided: make(map[uint64]string),
		waiters: make(map[uint64]chan struct{}),
	}
}

func (l *Learner) ID() string {
	return l.id
}

// Receive dispatches an incoming message.
func (l *Learner) Receive(msg messages.Message) {
	switch msg.Kind {
	case messages.Accepted:
		l.observeAccepted(msg)
	case messages.Decided:
		l.observeDecided(msg.Slot, msg.V)
	case messages.Seek:
		l.answerSeek(msg)
	default:
	}

	l.mu.Lock()
	l.lastKind = msg.Kind
	l.mu.Unlock()
}

func (l *Learner) observeAccepted(msg messages.Message) {
	l.mu.Lock()

	if _, done := l.decided[msg.Slot]; done {
		l.mu.Unlock()
		return
	}

	key := voteKey{id: msg.Proposal.ID, v: msg.Proposal.V}
	if l.votes[msg.Slot] == nil {
		l.votes[msg.Slot] = make(map[voteKey]map[string]bool)
	}
	if l.votes[msg.Slot][key] == nil {
		l.votes[msg.Slot][key] = make(map[string]bool)
	}
	l.votes[msg.Slot][key][msg.From] = true

	if len(l.votes[msg.Slot][key]) < l.quorum {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.observeDecided(msg.Slot, msg.Proposal.V)
}

// observeDecided records the decision for a slot, exactly once. A second
// decision for the same slot can only ever agree with the first; a
// disagreement means someone is not following the algorithm and is loudly
// refused.
func (l *Learner) observeDecided(slot uint64, v string) {
	l.mu.Lock()

	if prev, done := l.decided[slot]; done {
		l.mu.Unlock()
		if prev != v {
			log.Printf("!!!WARNING!!! [LEARNER %s] -> Being told to decide '%s' for slot %d but '%s' was already decided. Are you following the algorithm?", l.id, v, slot, prev)
		}
		return
	}

	l.decided[slot] = v
	if slot > l.maxSlot {
		l.maxSlot = slot
	}
	for {
		if _, ok := l.decided[l.contig+1]; !ok {
			break
		}
		l.contig++
	}
	delete(l.votes, slot)
	if ch, ok := l.waiters[slot]; ok {
		close(ch)
		delete(l.waiters, slot)
	}
	cb := l.OnDecided
	l.mu.Unlock()

	log.Printf("[LEARNER %s] -> Decided '%s' for slot %d.", l.id, v, slot)
	record(l.sink, slot, l.id, "learner", EventDecided, messages.Decided)
	if cb != nil {
		cb(slot, v)
	}
}

// answerSeek replies with a Decided message for every decided slot above
// the seeker's last known one, so a node that fell behind can catch up.
func (l *Learner) answerSeek(msg messages.Message) {
	if l.net == nil {
		return
	}

	l.mu.Lock()
	var known []messages.Message
	for slot, v := range l.decided {
		if slot > msg.LastSlot {
			known = append(known, messages.Message{
				Kind: messages.Decided,
				From: l.id,
				To:   msg.From,
				Slot: slot,
				V:    v,
			})
		}
	}
	l.mu.Unlock()

	if len(known) == 0 {
		return
	}
	log.Printf("[LEARNER %s] -> Answering seek from %s with %d decided value(s).", l.id, msg.From, len(known))
	for _, m := range known {
		l.net.Send(m)
	}
}

// DecidedValue returns the decision for a slot, if one was reached.
func (l *Learner) DecidedValue(slot uint64) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.decided[slot]
	return v, ok
}

// MaxDecidedSlot returns the highest slot with a known decision, 0 when
// none.
func (l *Learner) MaxDecidedSlot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxSlot
}

// ContiguousDecidedSlot returns the highest slot up to which every decision
// is known. It lags behind MaxDecidedSlot when decisions arrived out of
// order, which is exactly what the seeker needs: the slots in between are
// the missing ones.
func (l *Learner) ContiguousDecidedSlot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contig
}

// WaitDecided blocks until the slot is decided or the context expires.
func (l *Learner) WaitDecided(ctx context.Context, slot uint64) (string, error) {
	l.mu.Lock()
	if v, ok := l.decided[slot]; ok {
		l.mu.Unlock()
		return v, nil
	}
	ch, ok := l.waiters[slot]
	if !ok {
		ch = make(chan struct{})
		l.waiters[slot] = ch
	}
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-ch:
		l.mu.Lock()
		v := l.decided[slot]
		l.mu.Unlock()
		return v, nil
	}
}

// Snapshot implements Snapshotter.
func (l *Learner) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := "listening"
	if len(l.decided) > 0 {
		state = "decided"
	}
	return Snapshot{
		NodeID:       l.id,
		Role:         "learner",
		CurrentRound: l.maxSlot,
		State:        state,
		LastMessage:  l.lastKind.String(),
	}
}
