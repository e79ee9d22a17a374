package paxos

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/messages"
)

// Node is anything the messenger can deliver to. Every role implements it.
type Node interface {
	ID() string
	Receive(msg messages.Message)
}

// Messenger delivers messages asynchronously. Send never blocks on the
// destination and never reports delivery: the protocol has to tolerate loss
// anyway, so a transport that cannot deliver simply stays quiet.
type Messenger interface {
	Send(msg messages.Message)
}

// Network is a messenger that also owns the set of reachable nodes.
// Both the in-process simulator and the HTTP transport implement it.
type Network interface {
	Messenger
	Register(n Node)
	Unregister(id string)
}

// Link describes the behaviour of one directed link of the simulated
// network: a uniform delay distribution plus independent drop and
// duplication probabilities.
type Link struct {
	DelayMin time.Duration
	DelayMax time.Duration
	DropRate float64
	DupRate  float64
}

// SimNet is the simulated network. Messages are delivered on their own
// goroutines after a randomized delay, so nothing guarantees ordering
// between two messages on the same link; this is deliberate, the protocol
// must survive reordering.
type SimNet struct {
	mu          sync.Mutex
	nodes       map[string]Node
	def         Link
	links       map[string]Link
	partitioned map[string]bool
	rng         *rand.Rand
	sink        Sink
	wg          sync.WaitGroup
	closed      bool
}

// NewSimNet creates a simulated network with the given default link
// behaviour. The seed makes a trial reproducible.
func NewSimNet(def Link, seed int64, sink Sink) *SimNet {
	if sink == nil {
		sink = NopSink{}
	}
	return &SimNet{
		nodes:       make(map[string]Node),
		def:         def,
		links:       make(map[string]Link),
		partitioned: make(map[string]bool),
		rng:         rand.New(rand.NewSource(seed)),
		sink:        sink,
	}
}

// Register adds a node to the network. A node registered twice under the
// same id is replaced.
func (n *SimNet) Register(node Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[node.ID()] = node
}

// Unregister removes a node; messages already in flight towards it are
// silently dropped on delivery.
func (n *SimNet) Unregister(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, id)
}

// SetLink overrides the behaviour of the directed link from -> to.
func (n *SimNet) SetLink(from, to string, l Link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links[from+"->"+to] = l
}

// Partition cuts a node away from the network: every message from or to it
// is dropped until Heal is called.
func (n *SimNet) Partition(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[id] = true
}

// Heal reconnects a partitioned node.
func (n *SimNet) Heal(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, id)
}

// Send delivers the message to its destination after the link's delay,
// possibly dropping or duplicating it. The message value is immutable once
// handed to Send; nodes never share mutable state through the network.
func (n *SimNet) Send(msg messages.Message) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}

	record(n.sink, msg.Slot, msg.From, "messenger", EventMsgSent, msg.Kind)

	if n.partitioned[msg.From] || n.partitioned[msg.To] {
		record(n.sink, msg.Slot, msg.From, "messenger", EventMsgDropped, msg.Kind)
		n.mu.Unlock()
		return
	}

	link, ok := n.links[msg.From+"->"+msg.To]
	if !ok {
		link = n.def
	}

	if link.DropRate > 0 && n.rng.Float64() < link.DropRate {
		record(n.sink, msg.Slot, msg.From, "messenger", EventMsgDropped, msg.Kind)
		n.mu.Unlock()
		return
	}

	copies := 1
	if link.DupRate > 0 && n.rng.Float64() < link.DupRate {
		copies = 2
		record(n.sink, msg.Slot, msg.From, "messenger", EventMsgDuplicated, msg.Kind)
	}

	delays := make([]time.Duration, copies)
	for i := range delays {
		delays[i] = link.DelayMin
		if span := link.DelayMax - link.DelayMin; span > 0 {
			delays[i] += time.Duration(n.rng.Int63n(int64(span)))
		}
	}
	n.mu.Unlock()

	for _, d := range delays {
		n.wg.Add(1)
		go n.deliver(msg, d)
	}
}

func (n *SimNet) deliver(msg messages.Message, delay time.Duration) {
	defer n.wg.Done()
	if delay > 0 {
		time.Sleep(delay)
	}

	n.mu.Lock()
	node, ok := n.nodes[msg.To]
	closed := n.closed
	cut := n.partitioned[msg.To]
	n.mu.Unlock()

	if closed || cut {
		return
	}
	if !ok {
		log.Printf("[MESSENGER] -> Node %s is not registered, dropping %s message.", msg.To, msg.Kind)
		return
	}

	record(n.sink, msg.Slot, msg.To, "messenger", EventMsgDelivered, msg.Kind)
	node.Receive(msg)
}

// NodeIDs returns the ids of the currently registered nodes.
func (n *SimNet) NodeIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Snapshots collects the read-only state of every registered node that
// exposes one, for the visualization collaborator.
func (n *SimNet) Snapshots() []Snapshot {
	n.mu.Lock()
	nodes := make([]Node, 0, len(n.nodes))
	for _, node := range n.nodes {
		nodes = append(nodes, node)
	}
	n.mu.Unlock()

	var out []Snapshot
	for _, node := range nodes {
		if s, ok := node.(Snapshotter); ok {
			out = append(out, s.Snapshot())
		}
	}
	return out
}

// Stop refuses new sends and waits for the in-flight deliveries to settle.
func (n *SimNet) Stop() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}
