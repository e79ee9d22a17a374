package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ezgisenak/Paxos-Tendermint/paxos"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/config"
	"github.com/ezgisenak/Paxos-Tendermint/paxos/store"
)

// One process hosts one acceptor, one learner and an on-demand proposer,
// all registered on the HTTP transport. Node ids on the wire are derived
// from the configured node ids: "<id>" is the acceptor, "<id>.learner" the
// learner and "<id>.proposer" the proposer, and every derived id routes to
// the same base URL.

var (
	net      *paxos.HTTPNet
	acceptor *paxos.Acceptor
	learner  *paxos.Learner
	accStore store.Store

	proposeMu sync.Mutex // one proposal at a time per node
	propOpts  paxos.ProposerOpts
)

func welcomeHandler(w http.ResponseWriter, _ *http.Request) {
	paxos.EnableCors(&w)
	paxos.AddContentTypeJson(&w)
	_, _ = fmt.Fprintf(w, "{ \"message\": \"%s\" }", "GoLang implementation of the Paxos Algorithm.")
}

func infoHandler(w http.ResponseWriter, _ *http.Request) {
	paxos.EnableCors(&w)
	paxos.AddContentTypeJson(&w)
	_, _ = fmt.Fprintf(w, "{ \"message\": \"golang@%s@%s\" }", config.CONF.NODE_ID, config.CONF.DB_TYPE)
}

// proposeHandler handles GET requests on /propose.
// This route provides a way to trigger a full instance for a slot.
func proposeHandler(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	slot, _ := strconv.ParseUint(r.Form.Get("slot"), 10, 64)
	v := r.Form.Get("v")
	if v == "" {
		v = config.CONF.V_DEFAULT
	}

	paxos.EnableCors(&w)
	paxos.AddContentTypeJson(&w)

	proposeMu.Lock()
	defer proposeMu.Unlock()

	p := paxos.NewProposer(config.CONF.NODE_ID+".proposer", slot, net, paxos.NopSink{}, propOpts)
	net.Register(p)
	defer net.Unregister(p.ID())

	ctx, cancel := context.WithTimeout(r.Context(), 5*config.CONF.RoundDeadline()*time.Duration(config.CONF.MAX_RETRIES+1))
	defer cancel()

	decided, err := p.Propose(ctx, v)
	if err != nil {
		_, _ = fmt.Fprintf(w, "{ \"message\": \"%s\" }", err.Error())
		return
	}
	_, _ = fmt.Fprintf(w, "{ \"slot\": %d, \"decided\": \"%s\" }", slot, decided)
}

// decidedHandler handles GET requests on /decided.
// This route provides a way to retrieve any decided value.
func decidedHandler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	slot, _ := strconv.ParseUint(r.Form.Get("slot"), 10, 64)

	paxos.EnableCors(&w)
	paxos.AddContentTypeJson(&w)

	v, ok := learner.DecidedValue(slot)
	if !ok {
		_, _ = fmt.Fprintf(w, "{ \"slot\": %d, \"decided\": null }", slot)
		return
	}
	_, _ = fmt.Fprintf(w, "{ \"slot\": %d, \"decided\": \"%s\" }", slot, v)
}

// snapshotHandler handles GET requests on /snapshot.
// This route provides the read-only node state consumed by the visualizer.
func snapshotHandler(w http.ResponseWriter, _ *http.Request) {
	paxos.EnableCors(&w)
	paxos.AddContentTypeJson(&w)
	_, _ = fmt.Fprint(w, paxos.ToJson([]paxos.Snapshot{acceptor.Snapshot(), learner.Snapshot()}))
}

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

	// every derived role id of a peer routes to the peer's base URL
	peers := make(map[string]string, 3*len(c.NODES))
	var acceptors, learners, learnerPeers []string
	for id, url := range c.NODES {
		peers[id] = url
		peers[id+".learner"] = url
		peers[id+".proposer"] = url
		acceptors = append(acceptors, id)
		learners = append(learners, id+".learner")
		if id != c.NODE_ID {
			learnerPeers = append(learnerPeers, id+".learner")
		}
	}
	if err := c.ValidateQuorum(len(acceptors)); err != nil {
		log.Fatalf("[MAIN] -> Refusing to start: %v", err)
	}

	net = paxos.NewHTTPNet(peers, c.RoundDeadline(), paxos.NopSink{})

	var err error
	accStore, err = store.Open(c, c.NODE_ID)
	if err != nil {
		log.Fatalf("[MAIN] -> Could not open the acceptor store: %v", err)
	}
	defer accStore.Close()

	acceptor = paxos.NewAcceptor(c.NODE_ID, accStore, net, paxos.NopSink{})
	acceptor.SetLearners(learners)
	net.Register(acceptor)

	learner = paxos.NewLearner(c.NODE_ID+".learner", c.QUORUM, net, paxos.NopSink{})
	net.Register(learner)

	propOpts = paxos.ProposerOpts{
		Acceptors:   acceptors,
		Learners:    learners,
		Quorum:      c.QUORUM,
		Deadline:    c.RoundDeadline(),
		MaxRetries:  c.MAX_RETRIES,
		BackoffBase: c.BackoffBase(),
		BackoffMax:  c.BackoffMax(),
		Seed:        rand.Int63(),
	}

	if c.SEEK_ACTIVE {
		log.Printf("[MAIN] -> Seeking is active for this node. Seek interval is set to %s.", c.SeekInterval())
		seeker := paxos.NewSeeker(learner, net, learnerPeers, c.PR_NODES, c.SeekInterval(), rand.Int63())
		seeker.Start()
		defer seeker.Stop()
	}

	http.HandleFunc("/", welcomeHandler)
	http.HandleFunc("/info", infoHandler)
	http.HandleFunc("/paxos/receive", net.Handler())
	http.HandleFunc("/propose", proposeHandler)
	http.HandleFunc("/decided", decidedHandler)
	http.HandleFunc("/snapshot", snapshotHandler)

	log.Printf("[MAIN] -> Serving paxos on port %d.", c.PORT)
	log.Fatal(http.ListenAndServe(":"+strconv.Itoa(c.PORT), nil))
}
