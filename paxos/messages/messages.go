// Package messages exposes the structures exchanged between the paxos roles.
// These structures are marshalled (to json) before being sent to remote nodes
// by the HTTP transport; the in-process simulator passes them around as-is.
package messages

import (
	"github.com/ezgisenak/Paxos-Tendermint/paxos/proposal"
)

// Kind is the closed set of message kinds. Dispatch on Kind is exhaustive in
// every role, so adding a kind is a compile-time checked change.
type Kind uint

const (
	Empty Kind = iota
	Prepare
	Promise
	Nack
	Accept
	Accepted
	Decided
	Seek
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Prepare:
		return "prepare"
	case Promise:
		return "promise"
	case Nack:
		return "nack"
	case Accept:
		return "accept"
	case Accepted:
		return "accepted"
	case Decided:
		return "decided"
	case Seek:
		return "seek"
	}
	return "INVALID"
}

// Message is the single wire structure for all kinds. Which fields are
// meaningful depends on Kind:
//
//	Prepare:  ID
//	Promise:  ID, Prior (the acceptor's accepted proposal, possibly null)
//	Nack:     ID, Promised (the acceptor's current promise), Reason
//	Accept:   Proposal
//	Accepted: ID, Proposal
//	Decided:  V
//	Seek:     LastSlot (highest slot the sender has a decision for)
type Message struct {
	Kind Kind   `json:"kind"`
	From string `json:"from"` // From is the sender's node id.
	To   string `json:"to"`   // To is the destination node id.
	Slot uint64 `json:"slot"` // Slot identifies the protocol instance the message belongs to.

	ID       proposal.ID       `json:"id"`
	Proposal proposal.Proposal `json:"proposal"`
	Prior    proposal.Proposal `json:"prior"`
	Promised proposal.ID       `json:"promised"`
	V        string            `json:"v,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	LastSlot uint64            `json:"last_slot,omitempty"`
}
