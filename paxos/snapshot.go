package paxos

// Snapshot is the periodic read-only view of one node consumed by the
// external visualization collaborator.
type Snapshot struct {
	NodeID       string `json:"node_id"`
	Role         string `json:"role"`
	CurrentRound uint64 `json:"current_round"`
	State        string `json:"state"`
	LastMessage  string `json:"last_message_type"`
}

// Snapshotter is implemented by every role.
type Snapshotter interface {
	Snapshot() Snapshot
}
