package paxos

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/config"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/store"
)

// TrialResult is what the experiment driver reports per trial: either a
// decided value with its elapsed time and retry count, or a liveness
// failure. A failed trial never stops the run.
type TrialResult struct {
	Trial   int
	Slot    uint64
	Decided bool
	Value   string
	Elapsed time.Duration
	Retries int
	Err     error
}

// Report aggregates a whole run for the external plotting collaborator.
type Report struct {
	Trials        int
	Successes     int
	TotalRetries  int
	MeanLatency   time.Duration
	MessagesSent  int
	MessagesLost  int
	MessagesDuped int
}

// Simulation owns one experiment configuration. Each trial stands up a
// fresh simulated network with the configured acceptor, proposer and
// learner counts, injects one candidate value per proposer and records the
// outcome.
type Simulation struct {
	conf *config.Conf
	seed int64
}

// NewSimulation creates a simulation from a loaded configuration. The seed
// makes the whole run reproducible.
func NewSimulation(c *config.Conf, seed int64) *Simulation {
	return &Simulation{conf: c, seed: seed}
}

// RunTrial runs one trial on its own slot and network. The returned sink
// holds the trial's full event stream for the metrics collaborator.
func (s *Simulation) RunTrial(ctx context.Context, trial int) (TrialResult, *MemorySink) {
	c := s.conf
	sink := NewMemorySink()
	res := TrialResult{Trial: trial, Slot: uint64(trial + 1)}

	link := Link{
		DelayMin: c.DelayMin(),
		DelayMax: c.DelayMax(),
		DropRate: c.DROP_RATE,
		DupRate:  c.DUP_RATE,
	}
	net := NewSimNet(link, s.seed+int64(trial)*7919, sink)
	defer net.Stop()

	// Learners first, so acceptors can be pointed at them.
	learnerIDs := make([]string, c.LEARNERS)
	learners := make([]*Learner, c.LEARNERS)
	for i := range learners {
		learnerIDs[i] = fmt.Sprintf("L%d", i)
		learners[i] = NewLearner(learnerIDs[i], c.QUORUM, net, sink)
		net.Register(learners[i])
	}

	acceptorIDs := make([]string, c.ACCEPTORS)
	for i := range acceptorIDs {
		acceptorIDs[i] = fmt.Sprintf("A%d", i)
		st, err := store.Open(c, acceptorIDs[i])
		if err != nil {
			res.Err = fmt.Errorf("trial %d: %w", trial, err)
			return res, sink
		}
		defer st.Close()
		acc := NewAcceptor(acceptorIDs[i], st, net, sink)
		acc.SetLearners(learnerIDs)
		net.Register(acc)
	}

	// Competing proposers, each with its own candidate value.
	proposers := make([]*Proposer, c.PROPOSERS)
	for i := range proposers {
		opts := ProposerOpts{
			Acceptors:   acceptorIDs,
			Learners:    learnerIDs,
			Quorum:      c.QUORUM,
			Deadline:    c.RoundDeadline(),
			MaxRetries:  c.MAX_RETRIES,
			BackoffBase: c.BackoffBase(),
			BackoffMax:  c.BackoffMax(),
			Seed:        s.seed + int64(trial)*100 + int64(i),
		}
		proposers[i] = NewProposer(fmt.Sprintf("P%d", i), res.Slot, net, sink, opts)
		net.Register(proposers[i])
	}

	start := time.Now()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		decided string
		elapsed time.Duration
	)
	for i, p := range proposers {
		wg.Add(1)
		go func(i int, p *Proposer) {
			defer wg.Done()
			v, err := p.Propose(ctx, fmt.Sprintf("value-%d@P%d", trial, i))
			if err != nil {
				return
			}
			mu.Lock()
			if decided == "" {
				decided = v
				elapsed = time.Since(start)
			} else if decided != v {
				log.Printf("!!!WARNING!!! [DRIVER] -> Two proposers decided different values ('%s' vs '%s') for slot %d. This must never happen.", decided, v, res.Slot)
			}
			mu.Unlock()
		}(i, p)
	}
	wg.Wait()

	for _, p := range proposers {
		res.Retries += p.Retries()
	}

	if decided == "" {
		res.Err = fmt.Errorf("trial %d: %w", trial, ErrQuorumUnavailable)
		return res, sink
	}

	// The learners must converge on the same value the proposer confirmed.
	waitCtx, cancel := context.WithTimeout(ctx, c.RoundDeadline())
	defer cancel()
	for _, l := range learners {
		v, err := l.WaitDecided(waitCtx, res.Slot)
		if err != nil {
			log.Printf("[DRIVER] -> Learner %s did not observe the decision for slot %d in time.", l.ID(), res.Slot)
			continue
		}
		if v != decided {
			log.Printf("!!!WARNING!!! [DRIVER] -> Learner %s decided '%s' but the proposer confirmed '%s' for slot %d.", l.ID(), v, decided, res.Slot)
		}
	}

	res.Decided = true
	res.Value = decided
	res.Elapsed = elapsed
	return res, sink
}

// Run executes the configured number of trials and aggregates a report.
func (s *Simulation) Run(ctx context.Context) ([]TrialResult, Report) {
	var (
		results []TrialResult
		rep     Report
		total   time.Duration
	)
	for trial := 0; trial < s.conf.TRIALS; trial++ {
		res, sink := s.RunTrial(ctx, trial)
		results = append(results, res)

		rep.Trials++
		rep.TotalRetries += res.Retries
		rep.MessagesSent += sink.Count(EventMsgSent)
		rep.MessagesLost += sink.Count(EventMsgDropped)
		rep.MessagesDuped += sink.Count(EventMsgDuplicated)
		if res.Decided {
			rep.Successes++
			total += res.Elapsed
		}

		if ctx.Err() != nil {
			break
		}
	}
	if rep.Successes > 0 {
		rep.MeanLatency = total / time.Duration(rep.Successes)
	}
	return results, rep
}
