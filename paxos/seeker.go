// The seeker works together with the learner in order to achieve eventual
// consistency: a node that was partitioned away, or that simply lost the
// Decided traffic for some slots, periodically "seeks" the decisions it is
// missing from its peers. While the seeker needs the learner to know what
// is already decided, the learner does not need to know about the seeker's
// existence. To avoid flooding the network, peers are chosen with a given
// probability on every pass; the procedure is periodical, so eventually
// every decided value is learned everywhere.

package paxos

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/messages"
)

// Seeker periodically asks a random subset of peers for decided values the
// bound learner does not have yet.
type Seeker struct {
	learner  *Learner
	net      Messenger
	peers    []string
	prNodes  float64
	interval time.Duration

	mu   sync.Mutex
	rng  *rand.Rand
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSeeker binds a seeker to a learner. peers are the learner ids of the
// other nodes; prNodes is the probability of choosing each peer as a target
// of one seek pass.
func NewSeeker(l *Learner, net Messenger, peers []string, prNodes float64, interval time.Duration, seed int64) *Seeker {
	return &Seeker{
		learner:  l,
		net:      net,
		peers:    append([]string(nil), peers...),
		prNodes:  prNodes,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		done:     make(chan struct{}),
	}
}

// extractRandomPeers selects (with the configured probability) a subset of
// peers. This is useful when we dont want to flood the network.
func (s *Seeker) extractRandomPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var peers []string
	for _, p := range s.peers {
		if s.rng.Float64() < s.prNodes {
			peers = append(peers, p)
		}
	}
	return peers
}

// SendSeek performs one seeking pass: it tells the chosen peers the highest
// slot up to which this node knows every decision, and the peers answer with
// Decided messages for everything above it. Anchoring on the contiguous slot
// rather than the highest one means gaps left by out-of-order learning get
// re-requested too.
func (s *Seeker) SendSeek() {
	last := s.learner.ContiguousDecidedSlot()
	peers := s.extractRandomPeers()
	if len(peers) == 0 {
		return
	}

	log.Printf("[SEEKER %s] -> Seeking decisions above slot %d from %d peer(s).", s.learner.ID(), last, len(peers))
	for _, p := range peers {
		s.net.Send(messages.Message{
			Kind:     messages.Seek,
			From:     s.learner.ID(),
			To:       p,
			LastSlot: last,
		})
	}
}

// Start launches the periodic seeking procedure.
func (s *Seeker) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.SendSeek()
			}
		}
	}()
}

// Stop ends the periodic seeking procedure.
func (s *Seeker) Stop() {
	close(s.done)
	s.wg.Wait()
}
