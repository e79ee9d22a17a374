/*

An acceptor can receive two kinds of requests from proposers: prepare
requests and accept requests. An acceptor can ignore any request without
compromising safety, so we only need to say when it is allowed to respond.
(1) It can respond to a prepare request numbered n iff it has not already
responded to a prepare request numbered higher than n.
(2) It can respond to an accept request numbered n iff it has not promised
not to, i.e. iff it has not responded to a prepare request numbered
higher than n.

An acceptor therefore needs to remember only the highest-numbered proposal
it has ever accepted and the number of the highest-numbered prepare request
to which it has responded. Because the safety argument must hold regardless
of failures, this information is written to the store before any reply
becomes observable; an acceptor that cannot persist stops answering rather
than answer from volatile state.

*/

// Package paxos implements the main components of the Paxos distributed consensus algorithm.
package paxos

import (
	"log"
	"sync"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/messages"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/proposal"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/store"
)

// Acceptor is the durable voting state machine. One Acceptor instance
// exclusively owns its store; no other actor reads or writes it directly,
// everything goes through message replies. Message handling is serialized
// by a mutex so that promised-id comparisons are race free.
type Acceptor struct {
	id   string
	st   store.Store
	net  Messenger
	sink Sink

	// learners receive a copy of every Accepted reply so they can count
	// votes without the proposer's help.
	learners []string

	mu       sync.Mutex
	failed   bool
	lastProm proposal.ID
	lastKind messages.Kind
}

// NewAcceptor creates an acceptor backed by the given store.
func NewAcceptor(id string, st store.Store, net Messenger, sink Sink) *Acceptor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Acceptor{id: id, st: st, net: net, sink: sink}
}

// SetLearners sets the learner ids notified on every accepted proposal.
func (a *Acceptor) SetLearners(ids []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.learners = append([]string(nil), ids...)
}

func (a *Acceptor) ID() string {
	return a.id
}

// Receive dispatches an incoming message. Kinds an acceptor does not handle
// are ignored: the protocol tolerates loss, so it tolerates discards too.
func (a *Acceptor) Receive(msg messages.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failed {
		// Persistence is gone; refusing to answer is the only safe move.
		return
	}

	a.lastKind = msg.Kind

	switch msg.Kind {
	case messages.Prepare:
		a.onPrepare(msg)
	case messages.Accept:
		a.onAccept(msg)
	default:
	}
}

// onPrepare answers a prepare request: a promise when the incoming ID is
// strictly higher than anything promised so far, a nack otherwise. The
// promise carries the currently accepted proposal (possibly null) so the
// proposer can detect a prior commitment.
func (a *Acceptor) onPrepare(msg messages.Message) {
	st, ok, err := a.st.Load(msg.Slot)
	if err != nil {
		log.Printf("[ACCEPTOR %s] -> Could not load state for slot %d, refusing to answer. Here's the error: %v", a.id, msg.Slot, err)
		return
	}

	if ok && !msg.ID.IsGreaterThan(st.PromisedID) {
		log.Printf("[ACCEPTOR %s] -> Proposal %s is not strictly higher than the current highest promise %s for slot %d; sending back a nack.", a.id, msg.ID, st.PromisedID, msg.Slot)
		a.net.Send(messages.Message{
			Kind:     messages.Nack,
			From:     a.id,
			To:       msg.From,
			Slot:     msg.Slot,
			ID:       msg.ID,
			Promised: st.PromisedID,
			Reason:   "superseded by a higher promise",
		})
		return
	}

	st.PromisedID = msg.ID
	if err := a.st.Save(msg.Slot, st); err != nil {
		a.failed = true
		log.Printf("[ACCEPTOR %s] -> Refusing prepare request, could not persist the new promise. No further requests will be answered. Here's the error: %v", a.id, err)
		return
	}

	a.lastProm = st.PromisedID
	log.Printf("[ACCEPTOR %s] -> Proposal %s is the highest for slot %d; sending back a promise.", a.id, msg.ID, msg.Slot)
	a.net.Send(messages.Message{
		Kind:  messages.Promise,
		From:  a.id,
		To:    msg.From,
		Slot:  msg.Slot,
		ID:    msg.ID,
		Prior: st.Accepted,
	})
}

// onAccept answers an accept request: accepted when the incoming ID is
// higher than or equal to the current promise, a nack otherwise. The >=
// (not only >) is what lets the accept that follows a promise with the
// same number go through.
func (a *Acceptor) onAccept(msg messages.Message) {
	st, ok, err := a.st.Load(msg.Slot)
	if err != nil {
		log.Printf("[ACCEPTOR %s] -> Could not load state for slot %d, refusing to answer. Here's the error: %v", a.id, msg.Slot, err)
		return
	}

	if ok && !msg.Proposal.ID.IsGEThan(st.PromisedID) {
		log.Printf("[ACCEPTOR %s] -> Proposal %s is not higher than (or equal to) the current highest promise %s for slot %d; sending back a nack.", a.id, msg.Proposal.ID, st.PromisedID, msg.Slot)
		a.net.Send(messages.Message{
			Kind:     messages.Nack,
			From:     a.id,
			To:       msg.From,
			Slot:     msg.Slot,
			ID:       msg.Proposal.ID,
			Promised: st.PromisedID,
			Reason:   "superseded by a higher promise",
		})
		return
	}

	st.PromisedID = msg.Proposal.ID
	st.Accepted = msg.Proposal
	if err := a.st.Save(msg.Slot, st); err != nil {
		a.failed = true
		log.Printf("[ACCEPTOR %s] -> Declining accept request, could not persist the accepted proposal. No further requests will be answered. Here's the error: %v", a.id, err)
		return
	}

	a.lastProm = st.PromisedID
	log.Printf("[ACCEPTOR %s] -> Accepted proposal %s for slot %d; notifying the proposer and %d learner(s).", a.id, msg.Proposal.ID, msg.Slot, len(a.learners))

	accepted := messages.Message{
		Kind:     messages.Accepted,
		From:     a.id,
		To:       msg.From,
		Slot:     msg.Slot,
		ID:       msg.Proposal.ID,
		Proposal: msg.Proposal,
	}
	a.net.Send(accepted)
	for _, l := range a.learners {
		if l == msg.From {
			continue
		}
		m := accepted
		m.To = l
		a.net.Send(m)
	}
}

// Snapshot implements Snapshotter.
func (a *Acceptor) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := "up"
	if a.failed {
		state = "failed"
	}
	return Snapshot{
		NodeID:       a.id,
		Role:         "acceptor",
		CurrentRound: a.lastProm.Round,
		State:        state,
		LastMessage:  a.lastKind.String(),
	}
}
