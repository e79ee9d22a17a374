package paxos

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCoordinatorAssignsMonotoneSlots(t *testing.T) {
	c := newCluster(3, Link{}, 11)
	defer c.net.Stop()

	coord := NewCoordinator("N0", 1, c.net, c.sink, c.opts())

	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("cmd-%d", i)
		slot, v, err := coord.Submit(context.Background(), want)
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if slot != uint64(i+1) {
			t.Fatalf("slot = %d, want %d", slot, i+1)
		}
		if v != want {
			t.Fatalf("slot %d decided %q, want %q", slot, v, want)
		}
	}
	if coord.NextSlot() != 4 {
		t.Errorf("NextSlot = %d, want 4", coord.NextSlot())
	}
}

// Slots are independent instances: values decided in one slot never leak
// into another, even when submissions run concurrently.
func TestCoordinatorSlotsAreIndependent(t *testing.T) {
	c := newCluster(3, Link{DelayMax: 2 * time.Millisecond}, 11)
	defer c.net.Stop()

	coord := NewCoordinator("N0", 1, c.net, c.sink, c.opts())

	const n = 4
	type res struct {
		slot uint64
		v    string
		err  error
	}
	results := make([]res, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slot, v, err := coord.Submit(context.Background(), fmt.Sprintf("cmd-%d", i))
			results[i] = res{slot, v, err}
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]string)
	for i, r := range results {
		if r.err != nil {
			t.Fatalf("Submit %d: %v", i, r.err)
		}
		if prev, dup := seen[r.slot]; dup {
			t.Fatalf("slot %d assigned twice (%q and %q)", r.slot, prev, r.v)
		}
		seen[r.slot] = r.v
		if r.v != fmt.Sprintf("cmd-%d", i) {
			t.Fatalf("submission %d got value %q from another slot", i, r.v)
		}
	}

	// the learner agrees slot by slot
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for slot, want := range seen {
		got, err := c.ln.WaitDecided(ctx, slot)
		if err != nil || got != want {
			t.Fatalf("learner slot %d: %q, %v; want %q", slot, got, err, want)
		}
	}
}
