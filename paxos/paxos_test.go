package paxos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/messages"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/proposal"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/store"
)

// cluster wires n acceptors and one learner on a simulated network.
type cluster struct {
	net    *SimNet
	sink   *MemorySink
	accIDs []string
	accs   []*Acceptor
	stores []*store.Memory
	ln     *Learner
}

func newCluster(n int, link Link, seed int64) *cluster {
	sink := NewMemorySink()
	c := &cluster{
		net:  NewSimNet(link, seed, sink),
		sink: sink,
	}

	c.ln = NewLearner("L0", n/2+1, c.net, sink)
	c.net.Register(c.ln)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("A%d", i)
		st := store.NewMemory()
		acc := NewAcceptor(id, st, c.net, sink)
		acc.SetLearners([]string{"L0"})
		c.net.Register(acc)
		c.accIDs = append(c.accIDs, id)
		c.accs = append(c.accs, acc)
		c.stores = append(c.stores, st)
	}
	return c
}

func (c *cluster) opts() ProposerOpts {
	return ProposerOpts{
		Acceptors:   c.accIDs,
		Learners:    []string{"L0"},
		Quorum:      len(c.accIDs)/2 + 1,
		Deadline:    300 * time.Millisecond,
		MaxRetries:  8,
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  60 * time.Millisecond,
		Seed:        1,
	}
}

func (c *cluster) proposer(id string, slot uint64) *Proposer {
	opts := c.opts()
	opts.Seed = int64(len(id)) + int64(slot)
	p := NewProposer(id, slot, c.net, c.sink, opts)
	c.net.Register(p)
	return p
}

// Scenario: five acceptors, no loss, one proposer: the first round decides
// and the learner observes it.
func TestSingleProposerNoLoss(t *testing.T) {
	c := newCluster(5, Link{}, 7)
	defer c.net.Stop()

	p := c.proposer("P1", 1)
	v, err := p.Propose(context.Background(), "X")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if v != "X" {
		t.Fatalf("decided %q, want X", v)
	}
	if p.Retries() != 0 {
		t.Errorf("a lossless single-proposer run must not retry, got %d", p.Retries())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lv, err := c.ln.WaitDecided(ctx, 1)
	if err != nil || lv != "X" {
		t.Fatalf("learner decided %q, %v; want X", lv, err)
	}

	if c.sink.Count(EventPrepareSent) == 0 || c.sink.Count(EventDecided) == 0 {
		t.Error("the event stream misses prepare_sent or decided entries")
	}
	for _, e := range c.sink.Events() {
		if e.Slot != 1 || e.At.IsZero() {
			t.Fatalf("malformed event %+v", e)
		}
	}

	// the proposer snapshot reflects the terminal state
	if snap := p.Snapshot(); snap.State != "decided" || snap.Role != "proposer" {
		t.Errorf("unexpected proposer snapshot %+v", snap)
	}

	// every registered node exposes a snapshot through the network
	if ids := c.net.NodeIDs(); len(ids) != 7 {
		t.Errorf("registered %d nodes, want 5 acceptors + learner + proposer", len(ids))
	}
	roles := map[string]int{}
	for _, s := range c.net.Snapshots() {
		roles[s.Role]++
	}
	if roles["acceptor"] != 5 || roles["learner"] != 1 || roles["proposer"] != 1 {
		t.Errorf("snapshot roles %v", roles)
	}
}

// Scenario: an acceptor already accepted (round 1, "X"); a later proposer
// with its own candidate must adopt "X", never its own value.
func TestAdoptionOfPriorAcceptedValue(t *testing.T) {
	c := newCluster(3, Link{}, 7)
	defer c.net.Stop()

	// A0 accepted (1,P1,"X") from a proposer that then stalled before
	// reaching a quorum. The replies go to the unregistered "P1" and are
	// dropped, which is exactly the stall we want.
	firstID := proposal.ID{Round: 1, UID: "P1"}
	c.accs[0].Receive(messages.Message{Kind: messages.Prepare, From: "P1", To: "A0", Slot: 1, ID: firstID})
	c.accs[0].Receive(messages.Message{Kind: messages.Accept, From: "P1", To: "A0", Slot: 1,
		Proposal: proposal.Proposal{ID: firstID, V: "X"}})

	p2 := c.proposer("P2", 1)
	v, err := p2.Propose(context.Background(), "Y")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if v != "X" {
		t.Fatalf("proposer decided its own candidate %q; it must adopt the prior accepted X", v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if lv, err := c.ln.WaitDecided(ctx, 1); err != nil || lv != "X" {
		t.Fatalf("learner decided %q, %v; want X", lv, err)
	}
}

// Scenario: one of five acceptors permanently partitioned; the quorum of
// four decides; once the partitioned acceptor rejoins, an old-round accept
// is nacked and catching up never contradicts the decided value.
func TestPartitionedAcceptorStaysConsistent(t *testing.T) {
	c := newCluster(5, Link{}, 7)
	defer c.net.Stop()

	c.net.Partition("A4")

	p := c.proposer("P1", 1)
	v, err := p.Propose(context.Background(), "X")
	if err != nil {
		t.Fatalf("Propose with 4/5 acceptors: %v", err)
	}
	if v != "X" {
		t.Fatalf("decided %q, want X", v)
	}
	if _, ok, _ := c.stores[4].Load(1); ok {
		t.Fatal("the partitioned acceptor must not have voted")
	}

	c.net.Heal("A4")

	// the winning round reaches A4 late; it promises it
	winID := proposal.ID{Round: 1, UID: "P1"}
	c.accs[4].Receive(messages.Message{Kind: messages.Prepare, From: "probe", To: "A4", Slot: 1,
		ID: proposal.ID{Round: 2, UID: "probe"}})

	// an accept for an abandoned lower round must be rejected
	old := proposal.Proposal{ID: winID, V: "stale"}
	before, _, _ := c.stores[4].Load(1)
	c.accs[4].Receive(messages.Message{Kind: messages.Accept, From: "probe", To: "A4", Slot: 1, Proposal: old})
	after, _, _ := c.stores[4].Load(1)
	if !after.Accepted.IsZero() {
		t.Fatalf("old-round accept mutated the rejoined acceptor: %+v", after)
	}
	if after.PromisedID != before.PromisedID {
		t.Fatalf("promised id changed on a rejected accept")
	}

	// catching up with the decided value keeps it internally consistent
	c.accs[4].Receive(messages.Message{Kind: messages.Accept, From: "probe", To: "A4", Slot: 1,
		Proposal: proposal.Proposal{ID: proposal.ID{Round: 2, UID: "probe"}, V: v}})
	final, _, _ := c.stores[4].Load(1)
	if final.Accepted.V != v {
		t.Fatalf("rejoined acceptor holds %q, contradicting the decided %q", final.Accepted.V, v)
	}
}

// Scenario: an acceptor whose persistence is gone latches into silence; it
// never votes, and the quorum must still be reachable through the remaining
// acceptors.
func TestPersistenceFailureLatchesAcceptor(t *testing.T) {
	sink := NewMemorySink()
	net := NewSimNet(Link{}, 7, sink)
	defer net.Stop()

	ln := NewLearner("L0", 2, net, sink)
	net.Register(ln)

	flaky := store.NewMemory()
	flaky.FailWrites(true)
	ids := []string{"A0", "A1", "A2"}
	stores := []store.Store{flaky, store.NewMemory(), store.NewMemory()}
	for i, id := range ids {
		acc := NewAcceptor(id, stores[i], net, sink)
		acc.SetLearners([]string{"L0"})
		net.Register(acc)
	}

	p := NewProposer("P1", 1, net, sink, ProposerOpts{
		Acceptors:   ids,
		Learners:    []string{"L0"},
		Quorum:      2,
		Deadline:    300 * time.Millisecond,
		MaxRetries:  4,
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
		Seed:        3,
	})
	net.Register(p)

	v, err := p.Propose(context.Background(), "X")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if v != "X" {
		t.Fatalf("decided %q, want X", v)
	}

	// A0 never persisted anything, so it never voted
	if _, ok, _ := flaky.Load(1); ok {
		t.Fatal("the failing acceptor answered from unpersisted state")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if lv, err := ln.WaitDecided(ctx, 1); err != nil || lv != "X" {
		t.Fatalf("learner decided %q, %v; want X", lv, err)
	}
}

// Safety under contention: concurrent proposers over a lossy, duplicating,
// reordering network may retry as much as they want, but everybody who
// decides must decide the same value.
func TestConcurrentProposersAgree(t *testing.T) {
	link := Link{
		DelayMin: 0,
		DelayMax: 3 * time.Millisecond,
		DropRate: 0.2,
		DupRate:  0.15,
	}
	c := newCluster(5, link, 42)
	defer c.net.Stop()

	const proposers = 3
	results := make([]string, proposers)
	errs := make([]error, proposers)

	var wg sync.WaitGroup
	for i := 0; i < proposers; i++ {
		p := c.proposer(fmt.Sprintf("P%d", i), 1)
		wg.Add(1)
		go func(i int, p *Proposer) {
			defer wg.Done()
			results[i], errs[i] = p.Propose(context.Background(), fmt.Sprintf("value-%d", i))
		}(i, p)
	}
	wg.Wait()

	var decided string
	ok := 0
	for i := 0; i < proposers; i++ {
		if errs[i] != nil {
			if !errors.Is(errs[i], ErrQuorumUnavailable) {
				t.Fatalf("proposer %d failed with %v, want only liveness failures", i, errs[i])
			}
			continue
		}
		ok++
		if decided == "" {
			decided = results[i]
		} else if results[i] != decided {
			t.Fatalf("two proposers decided different values: %q vs %q", decided, results[i])
		}
	}
	if ok == 0 {
		t.Fatal("no proposer decided; with this retry budget at least one should")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	lv, err := c.ln.WaitDecided(ctx, 1)
	if err != nil {
		t.Fatalf("learner never observed the decision: %v", err)
	}
	if lv != decided {
		t.Fatalf("learner decided %q but the proposers decided %q", lv, decided)
	}
}

// Liveness failure: with every acceptor unreachable the proposer must give
// up after its retry budget and surface QuorumUnavailable, not hang.
func TestQuorumUnavailableSurfaces(t *testing.T) {
	c := newCluster(3, Link{DropRate: 1.0}, 7)
	defer c.net.Stop()

	opts := c.opts()
	opts.Deadline = 30 * time.Millisecond
	opts.MaxRetries = 2
	opts.BackoffBase = time.Millisecond
	opts.BackoffMax = 5 * time.Millisecond
	p := NewProposer("P1", 1, c.net, c.sink, opts)
	c.net.Register(p)

	_, err := p.Propose(context.Background(), "X")
	if !errors.Is(err, ErrQuorumUnavailable) {
		t.Fatalf("Propose = %v, want ErrQuorumUnavailable", err)
	}
	if p.Retries() != 2 {
		t.Errorf("retries = %d, want the full budget of 2", p.Retries())
	}
	if c.sink.Count(EventTimeout) == 0 || c.sink.Count(EventRetry) == 0 {
		t.Error("timeout/retry events missing from the stream")
	}
}

func waitForPrepares(t *testing.T, net *captureNet, n int) []messages.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ms := net.ofKind(messages.Prepare); len(ms) >= n {
			return ms
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("saw %d prepares, want %d", len(net.ofKind(messages.Prepare)), n)
	return nil
}

// A nack carries the acceptor's current promise; the abandoned round must
// be followed by one numbered past it, never by a blind increment.
func TestProposerBumpsRoundPastNackedPromise(t *testing.T) {
	net := &captureNet{}
	p := NewProposer("P1", 1, net, nil, ProposerOpts{
		Acceptors:   []string{"A0"},
		Quorum:      1,
		Deadline:    time.Second,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		Seed:        1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := p.Propose(ctx, "x")
		done <- err
	}()

	first := waitForPrepares(t, net, 1)[0]
	if first.ID.Round != 1 {
		t.Fatalf("first prepare carries round %d, want 1", first.ID.Round)
	}

	p.Receive(messages.Message{Kind: messages.Nack, From: "A0", To: "P1", Slot: 1,
		ID: first.ID, Promised: proposal.ID{Round: 7, UID: "P9"}})

	second := waitForPrepares(t, net, 2)[1]
	if second.ID.Round <= 7 {
		t.Fatalf("round after the nack is %d, it must jump past the promised round 7", second.ID.Round)
	}
	if snap := p.Snapshot(); snap.CurrentRound <= 7 {
		t.Errorf("snapshot round = %d, want past 7", snap.CurrentRound)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Propose = %v, want context.Canceled", err)
	}
}

// A cancelled context aborts the instance promptly.
func TestProposeHonorsContext(t *testing.T) {
	c := newCluster(3, Link{DropRate: 1.0}, 7)
	defer c.net.Stop()

	p := c.proposer("P1", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Propose(ctx, "X")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Propose = %v, want context.DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation took too long")
	}
}

// Seeking: a learner that missed all the traffic catches up from a peer.
func TestSeekerCatchesUp(t *testing.T) {
	sink := NewMemorySink()
	net := NewSimNet(Link{}, 7, sink)
	defer net.Stop()

	l0 := NewLearner("L0", 1, net, sink)
	l1 := NewLearner("L1", 1, net, sink)
	net.Register(l0)
	net.Register(l1)

	l0.Receive(messages.Message{Kind: messages.Decided, From: "P1", Slot: 1, V: "one"})
	l0.Receive(messages.Message{Kind: messages.Decided, From: "P1", Slot: 2, V: "two"})

	s := NewSeeker(l1, net, []string{"L0"}, 1.0, time.Hour, 7)
	s.SendSeek()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if v, err := l1.WaitDecided(ctx, 2); err != nil || v != "two" {
		t.Fatalf("seeker catch-up got %q, %v; want two", v, err)
	}
	if v, err := l1.WaitDecided(ctx, 1); err != nil || v != "one" {
		t.Fatalf("seeker catch-up got %q, %v; want one", v, err)
	}
}

// A learner that learned a late slot directly still recovers the earlier
// slots it missed: seeking anchors on the contiguous watermark, not on the
// highest decided slot.
func TestSeekerRecoversMissedSlots(t *testing.T) {
	sink := NewMemorySink()
	net := NewSimNet(Link{}, 7, sink)
	defer net.Stop()

	l0 := NewLearner("L0", 1, net, sink)
	l1 := NewLearner("L1", 1, net, sink)
	net.Register(l0)
	net.Register(l1)

	for slot := uint64(1); slot <= 5; slot++ {
		l0.Receive(messages.Message{Kind: messages.Decided, From: "P1", Slot: slot, V: fmt.Sprintf("v%d", slot)})
	}

	// L1 only ever heard about slot 5
	l1.Receive(messages.Message{Kind: messages.Decided, From: "P1", Slot: 5, V: "v5"})

	s := NewSeeker(l1, net, []string{"L0"}, 1.0, time.Hour, 7)
	s.SendSeek()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for slot := uint64(1); slot <= 4; slot++ {
		want := fmt.Sprintf("v%d", slot)
		if v, err := l1.WaitDecided(ctx, slot); err != nil || v != want {
			t.Fatalf("slot %d after seeking: %q, %v; want %q", slot, v, err, want)
		}
	}
}
