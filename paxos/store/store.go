// Package store implements the durable acceptor state needed by this
// implementation of the Paxos algorithm. Three backends are available:
// an in-memory one used by the simulation driver, a sqlite one and a redis
// one for deployments that must survive process restarts.
package store

import (
	"errors"
	"fmt"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/config"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/proposal"
)

// ErrUnavailable is returned by Save when the backend cannot persist.
// An acceptor receiving it must stop answering rather than reply from
// volatile state.
var ErrUnavailable = errors.New("store: persistence unavailable")

// State is the per-slot durable record of one acceptor: the highest ID ever
// promised and the highest-ID proposal ever accepted (null when none).
type State struct {
	PromisedID proposal.ID       `json:"promised_id"`
	Accepted   proposal.Proposal `json:"accepted"`
}

// Store persists acceptor state per slot. A Save must be visible to any
// later Load even across a crash of the owning process (the memory backend
// relaxes this for simulation purposes).
type Store interface {
	// Load returns the state recorded for the slot. The boolean is false
	// when the slot has never been written.
	Load(slot uint64) (State, bool, error)
	// Save overwrites the state recorded for the slot. The write completes
	// before Save returns.
	Save(slot uint64, st State) error
	Close() error
}

// Open creates the store selected by c.DB_TYPE for the given acceptor id.
func Open(c *config.Conf, acceptorID string) (Store, error) {
	switch c.DB_TYPE {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(c.DB_PATH, acceptorID)
	case "redis":
		return OpenRedis(c.REDIS_ADDR, acceptorID)
	default:
		return nil, fmt.Errorf("store: unknown db_type %q", c.DB_TYPE)
	}
}
