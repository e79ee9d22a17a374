// Package proposal exposes the ProposalID and Proposal types and their ordering methods.
package proposal

import "fmt"

// ID is the unique, totally ordered identifier of a proposal attempt.
// An ID is the pair (round, proposer UID). Rounds are compared first and the
// UID breaks ties. Since every proposer has a unique UID and only ever emits
// strictly increasing rounds for itself, no two proposers can ever produce
// the same ID.
// The zero ID (round 0, empty UID) is the null ID: lower than any real one.
type ID struct {
	Round uint64 `json:"round"` // Round is the attempt counter, chosen locally by the proposer. 0 is the null round.
	UID   string `json:"uid"`   // UID is the proposer's unique identifier. "" is the null UID.
}

// IsZero reports whether the ID is the null ID.
func (id ID) IsZero() bool {
	return id.Round == 0 && id.UID == ""
}

// IsGreaterThan overrides the ">" operator for ID values.
func (id ID) IsGreaterThan(other ID) bool {
	return id.Round > other.Round || (id.Round == other.Round && id.UID > other.UID)
}

// IsGEThan overrides the ">=" operator for ID values.
func (id ID) IsGEThan(other ID) bool {
	return id.IsGreaterThan(other) || id == other
}

func (id ID) String() string {
	return fmt.Sprintf("(%d,%s)", id.Round, id.UID)
}

// Proposal couples an ID with the value being proposed.
// The value is application supplied and never inspected by the protocol.
type Proposal struct {
	ID ID     `json:"id"`
	V  string `json:"v"` // V is the value being proposed. "" is the null value.
}

// IsZero reports whether the proposal is the null proposal.
func (p Proposal) IsZero() bool {
	return p.ID.IsZero() && p.V == ""
}
