package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/ezgisenak/Paxos-Tendermint/paxos"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/config"
)

func init() {

	rand.Seed(time.Now().UTC().UnixNano())
	configPath := "./config.yaml"

	// config path can be specified as an argument from command line
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// initialize config variables
	config.CONF.LoadConfigFile(configPath)
	config.CONF.FillEmptyFields()
}

func main() {

	c := &config.CONF

	log.Printf("[DRIVER] -> Running %d trial(s): %d acceptor(s), %d proposer(s), %d learner(s), quorum %d.",
		c.TRIALS, c.ACCEPTORS, c.PROPOSERS, c.LEARNERS, c.QUORUM)
	log.Printf("[DRIVER] -> Network: delay %s..%s, drop %.2f, dup %.2f; round deadline %s, max retries %d.",
		c.DelayMin(), c.DelayMax(), c.DROP_RATE, c.DUP_RATE, c.RoundDeadline(), c.MAX_RETRIES)

	sim := paxos.NewSimulation(c, time.Now().UnixNano())
	results, report := sim.Run(context.Background())

	for _, res := range results {
		if res.Decided {
			log.Printf("[DRIVER] -> Trial %d (slot %d): decided '%s' in %s with %d retr{y,ies}.",
				res.Trial, res.Slot, res.Value, res.Elapsed, res.Retries)
		} else {
			log.Printf("[DRIVER] -> Trial %d (slot %d): liveness failure after %d retr{y,ies}: %v.",
				res.Trial, res.Slot, res.Retries, res.Err)
		}
	}

	log.Printf("[DRIVER] -> %d/%d trial(s) decided; mean latency %s; %d total retries; %d message(s) sent, %d dropped, %d duplicated.",
		report.Successes, report.Trials, report.MeanLatency, report.TotalRetries,
		report.MessagesSent, report.MessagesLost, report.MessagesDuped)

	if report.Successes < report.Trials {
		os.Exit(1)
	}
}
