package paxos

import (
	"context"
	"fmt"
	"sync"
)

// Coordinator assigns monotonically increasing slot numbers and runs one
// proposer per slot against a shared acceptor membership. Slots are fully
// independent instances: Submit may be called concurrently, pipelining
// several slots before earlier ones decide.
type Coordinator struct {
	uid  string
	net  Network
	sink Sink
	opts ProposerOpts

	mu       sync.Mutex
	nextSlot uint64
}

// NewCoordinator creates a coordinator. uid is the base identifier from
// which per-slot proposer UIDs are derived; firstSlot is where numbering
// starts (usually 1).
func NewCoordinator(uid string, firstSlot uint64, net Network, sink Sink, opts ProposerOpts) *Coordinator {
	return &Coordinator{
		uid:      uid,
		net:      net,
		sink:     sink,
		opts:     opts,
		nextSlot: firstSlot,
	}
}

// Submit assigns the next slot to the value and drives it to a decision.
// It returns the slot together with the decided value, which may differ
// from the submitted one when a concurrent proposer got there first.
func (c *Coordinator) Submit(ctx context.Context, value string) (uint64, string, error) {
	c.mu.Lock()
	slot := c.nextSlot
	c.nextSlot++
	c.mu.Unlock()

	opts := c.opts
	opts.Seed = c.opts.Seed + int64(slot)
	p := NewProposer(fmt.Sprintf("%s/slot-%d", c.uid, slot), slot, c.net, c.sink, opts)
	c.net.Register(p)
	defer c.net.Unregister(p.ID())

	decided, err := p.Propose(ctx, value)
	if err != nil {
		return slot, "", err
	}
	return slot, decided, nil
}

// NextSlot returns the slot the next Submit will use.
func (c *Coordinator) NextSlot() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSlot
}
