/*

A proposer drives two phases per round.

Phase 1: choose a proposal numbered n, higher than any number this proposer
has used or observed before, and ask every acceptor to respond with (a) a
promise never again to accept a proposal numbered less than n and (b) the
proposal with the highest number less than n that it has accepted, if any.

Phase 2: once promises arrive from a majority of acceptors, issue an accept
request with number n and value v, where v is the value of the highest
numbered proposal among the responses, or any value selected by the
proposer if the responders reported none. That adoption rule is the whole
safety argument: a value chosen by an earlier round survives every later
round.

A round that times out or gets nacked is abandoned: the round number is
bumped past the highest one observed, the proposer backs off a randomized
amount and retries, up to a configurable number of retries after which the
instance is reported as a liveness failure. Replies tagged with an
abandoned round are discarded, never acted upon.

*/

package paxos

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/messages"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/proposal"
)

// ErrQuorumUnavailable is returned by Propose when no quorum could be
// assembled within the configured number of rounds. It is a liveness
// failure, never a safety violation: the driver can keep running further
// trials.
var ErrQuorumUnavailable = errors.New("paxos: quorum unavailable")

// ProposerOpts carries the knobs of a proposer. The zero value is not
// usable; the driver fills it from the loaded configuration.
type ProposerOpts struct {
	Acceptors   []string // ids of the acceptors of this instance's membership
	Learners    []string // ids of the learners notified on decision
	Quorum      int      // strict majority of len(Acceptors) unless overridden
	Deadline    time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Seed        int64
}

// Proposer drives rounds of the protocol for a single slot. A proposer
// never issues two prepares for the same slot concurrently: Propose runs
// the whole instance to completion on the calling goroutine, which keeps
// its proposal IDs monotonic without any shared counter. Multiple
// independent proposers may run against the same slot; correctness is
// preserved by the protocol, not by mutual exclusion among them.
type Proposer struct {
	id   string
	slot uint64
	net  Messenger
	sink Sink
	opts ProposerOpts
	rng  *rand.Rand

	inbox chan messages.Message

	mu       sync.Mutex
	round    uint64
	state    string
	lastKind messages.Kind
	retries  int
}

// NewProposer creates a proposer for one slot. The id doubles as the UID
// component of every proposal ID it emits, so it must be unique across the
// proposers of the deployment.
func NewProposer(id string, slot uint64, net Messenger, sink Sink, opts ProposerOpts) *Proposer {
	if sink == nil {
		sink = NopSink{}
	}
	if opts.Quorum == 0 {
		opts.Quorum = len(opts.Acceptors)/2 + 1
	}
	if opts.Deadline == 0 {
		opts.Deadline = 2 * time.Second
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = 50 * time.Millisecond
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 2 * time.Second
	}
	return &Proposer{
		id:    id,
		slot:  slot,
		net:   net,
		sink:  sink,
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
		inbox: make(chan messages.Message, 256),
		state: "idle",
	}
}

func (p *Proposer) ID() string {
	return p.id
}

// Receive queues a reply for the round loop. A full inbox drops the
// message; the network is lossy anyway and the round loop re-requests
// whatever it misses.
func (p *Proposer) Receive(msg messages.Message) {
	p.mu.Lock()
	p.lastKind = msg.Kind
	p.mu.Unlock()

	select {
	case p.inbox <- msg:
	default:
	}
}

// Retries returns how many rounds were abandoned so far.
func (p *Proposer) Retries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retries
}

// phaseOutcome is what one quorum wait came back with.
type phaseOutcome struct {
	ok      bool              // quorum assembled
	nacked  bool              // at least one nack for the current round
	highest uint64            // highest round observed in nacks, for the bump
	prior   proposal.Proposal // highest prior accepted proposal (phase 1 only)
}

// Propose runs the full instance: rounds of prepare/accept until the value
// is decided or the retry budget is exhausted. It returns the decided value,
// which is not necessarily the candidate: a prior commitment reported by a
// promise overrides it.
func (p *Proposer) Propose(ctx context.Context, candidate string) (string, error) {
	var highestSeen uint64

	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		if highestSeen > p.round {
			p.round = highestSeen
		}
		p.round++
		id := proposal.ID{Round: p.round, UID: p.id}
		p.state = "preparing"
		p.mu.Unlock()

		// Phase 1: prepare.
		log.Printf("[PROPOSER %s] -> Starting prepare for slot %d with proposal %s.", p.id, p.slot, id)
		p.drainInbox()
		for _, acc := range p.opts.Acceptors {
			p.net.Send(messages.Message{Kind: messages.Prepare, From: p.id, To: acc, Slot: p.slot, ID: id})
		}
		record(p.sink, p.slot, p.id, "proposer", EventPrepareSent, messages.Prepare)

		out, err := p.await(ctx, id, messages.Promise)
		if err != nil {
			return "", err
		}
		if out.highest > highestSeen {
			highestSeen = out.highest
		}

		if out.ok {
			// Adoption rule: a prior accepted proposal reported by any
			// promise overrides our own candidate.
			value := candidate
			if !out.prior.IsZero() {
				log.Printf("[PROPOSER %s] -> A promise carried prior accepted proposal %s; adopting its value over our candidate.", p.id, out.prior.ID)
				value = out.prior.V
			}

			// Phase 2: accept.
			p.mu.Lock()
			p.state = "accepting"
			p.mu.Unlock()

			prop := proposal.Proposal{ID: id, V: value}
			log.Printf("[PROPOSER %s] -> Quorum of promises reached for slot %d; sending accept with proposal %s.", p.id, p.slot, id)
			for _, acc := range p.opts.Acceptors {
				p.net.Send(messages.Message{Kind: messages.Accept, From: p.id, To: acc, Slot: p.slot, Proposal: prop})
			}
			record(p.sink, p.slot, p.id, "proposer", EventAcceptSent, messages.Accept)

			out, err = p.await(ctx, id, messages.Accepted)
			if err != nil {
				return "", err
			}
			if out.highest > highestSeen {
				highestSeen = out.highest
			}

			if out.ok {
				p.mu.Lock()
				p.state = "decided"
				p.mu.Unlock()

				log.Printf("[PROPOSER %s] -> Quorum of accepts reached for slot %d; value decided.", p.id, p.slot)
				record(p.sink, p.slot, p.id, "proposer", EventDecided, messages.Decided)
				for _, l := range p.opts.Learners {
					p.net.Send(messages.Message{Kind: messages.Decided, From: p.id, To: l, Slot: p.slot, V: value})
				}
				return value, nil
			}
		}

		// Round abandoned, either by timeout or by nack.
		if attempt >= p.opts.MaxRetries {
			p.mu.Lock()
			p.state = "failed"
			p.mu.Unlock()
			log.Printf("[PROPOSER %s] -> Giving up on slot %d after %d abandoned rounds; progress is not possible.", p.id, p.slot, attempt+1)
			return "", fmt.Errorf("%w: slot %d after %d rounds", ErrQuorumUnavailable, p.slot, attempt+1)
		}

		p.mu.Lock()
		p.retries++
		p.mu.Unlock()
		record(p.sink, p.slot, p.id, "proposer", EventRetry, messages.Empty)

		backoff := p.backoff(attempt)
		log.Printf("[PROPOSER %s] -> Round %s abandoned for slot %d; retrying in %s.", p.id, id, p.slot, backoff)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// await collects replies of the wanted kind for the given proposal ID until
// quorum, nack, deadline or cancellation. Replies tagged with any other ID
// belong to an abandoned round and are discarded. Duplicate replies from
// the same acceptor count once.
func (p *Proposer) await(ctx context.Context, id proposal.ID, want messages.Kind) (phaseOutcome, error) {
	var out phaseOutcome
	seen := make(map[string]bool)

	timer := time.NewTimer(p.opts.Deadline)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()

		case <-timer.C:
			record(p.sink, p.slot, p.id, "proposer", EventTimeout, want)
			log.Printf("[PROPOSER %s] -> Deadline expired waiting for %s replies on slot %d (%d/%d).", p.id, want, p.slot, len(seen), p.opts.Quorum)
			return out, nil

		case m := <-p.inbox:
			if m.Slot != p.slot {
				continue
			}
			switch m.Kind {
			case want:
				if m.ID != id {
					// Stale reply from an abandoned round.
					continue
				}
				if seen[m.From] {
					continue
				}
				seen[m.From] = true
				if want == messages.Promise {
					record(p.sink, p.slot, p.id, "proposer", EventPromiseRecv, m.Kind)
					if !m.Prior.IsZero() && m.Prior.ID.IsGreaterThan(out.prior.ID) {
						out.prior = m.Prior
					}
				} else {
					record(p.sink, p.slot, p.id, "proposer", EventAcceptedRecv, m.Kind)
				}
				if len(seen) >= p.opts.Quorum {
					out.ok = true
					return out, nil
				}

			case messages.Nack:
				if m.ID != id {
					continue
				}
				record(p.sink, p.slot, p.id, "proposer", EventNackRecv, m.Kind)
				out.nacked = true
				if m.Promised.Round > out.highest {
					out.highest = m.Promised.Round
				}
				log.Printf("[PROPOSER %s] -> Nack for %s on slot %d, a higher promise (%s) exists elsewhere; abandoning the round.", p.id, id, p.slot, m.Promised)
				return out, nil

			default:
				// Promise replies arriving during phase 2 and similar
				// leftovers from the previous phase.
			}
		}
	}
}

// backoff returns a randomized exponential delay for the given attempt.
func (p *Proposer) backoff(attempt int) time.Duration {
	d := p.opts.BackoffBase << uint(attempt)
	if d > p.opts.BackoffMax || d <= 0 {
		d = p.opts.BackoffMax
	}
	// Full jitter: anywhere between the base and the computed ceiling.
	span := int64(d - p.opts.BackoffBase)
	if span <= 0 {
		return p.opts.BackoffBase
	}
	p.mu.Lock()
	j := p.rng.Int63n(span)
	p.mu.Unlock()
	return p.opts.BackoffBase + time.Duration(j)
}

// drainInbox throws away whatever accumulated between rounds so a fresh
// phase does not wade through stale traffic.
func (p *Proposer) drainInbox() {
	for {
		select {
		case <-p.inbox:
		default:
			return
		}
	}
}

// Snapshot implements Snapshotter.
func (p *Proposer) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		NodeID:       p.id,
		Role:         "proposer",
		CurrentRound: p.round,
		State:        p.state,
		LastMessage:  p.lastKind.String(),
	}
}
