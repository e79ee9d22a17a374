// Package config exposes the variables loaded through a .yaml file used by
// the simulation driver and the networked node binary.
package config

import (
	"fmt"
	"io/ioutil"
	"log"
	"math/rand"
	"time"

	"gopkg.in/yaml.v2"
)

// CONF is the Conf object which holds all the variables.
var CONF Conf

// Conf describes the knobs of a simulation run or of a networked node.
// Durations are expressed in milliseconds in the .yaml file.
type Conf struct {
	NODE_ID   string `yaml:"node_id"`   // NODE_ID is the identifier of this node, supposed to be unique across the deployment.
	V_DEFAULT string `yaml:"v_default"` // V_DEFAULT is the value proposed when the client did not supply one.

	ACCEPTORS int `yaml:"acceptors"` // ACCEPTORS is the number of acceptors created by the simulation driver.
	PROPOSERS int `yaml:"proposers"` // PROPOSERS is the number of competing proposers per trial.
	LEARNERS  int `yaml:"learners"`  // LEARNERS is the number of learners per trial.
	TRIALS    int `yaml:"trials"`    // TRIALS is the number of independent trials run by the driver.
	QUORUM    int `yaml:"quorum"`    // QUORUM is computed as a strict majority of ACCEPTORS when left empty.

	DELAY_MIN_MS int     `yaml:"delay_min_ms"` // DELAY_MIN_MS is the lower bound of the per-link delivery delay.
	DELAY_MAX_MS int     `yaml:"delay_max_ms"` // DELAY_MAX_MS is the upper bound of the per-link delivery delay.
	DROP_RATE    float64 `yaml:"drop_rate"`    // DROP_RATE is the independent probability of dropping a message.
	DUP_RATE     float64 `yaml:"dup_rate"`     // DUP_RATE is the independent probability of duplicating a message.

	ROUND_DEADLINE_MS int `yaml:"round_deadline_ms"` // ROUND_DEADLINE_MS bounds each quorum wait of a proposer.
	MAX_RETRIES       int `yaml:"max_retries"`       // MAX_RETRIES bounds the rounds attempted before reporting a liveness failure.
	BACKOFF_BASE_MS   int `yaml:"backoff_base_ms"`   // BACKOFF_BASE_MS is the base of the randomized exponential backoff.
	BACKOFF_MAX_MS    int `yaml:"backoff_max_ms"`    // BACKOFF_MAX_MS caps the backoff.

	SEEK_ACTIVE  bool    `yaml:"seek_active"`  // SEEK_ACTIVE enables the periodic seeking procedure on learners.
	SEEK_MS      int     `yaml:"seek_ms"`      // SEEK_MS is the interval between two seeking procedures.
	PR_NODES     float64 `yaml:"pr_nodes"`     // PR_NODES is the probability of choosing a peer as a target of a seek request.

	DB_TYPE    string `yaml:"db_type"`    // DB_TYPE selects the acceptor state backend: "memory", "sqlite" or "redis".
	DB_PATH    string `yaml:"db_path"`    // DB_PATH locates the sqlite database file.
	REDIS_ADDR string `yaml:"redis_addr"` // REDIS_ADDR locates the redis server.

	PORT  int               `yaml:"port"`  // PORT is the TCP port the networked node listens on.
	NODES map[string]string `yaml:"nodes"` // NODES maps peer node ids to their base URLs for the HTTP transport.
}

// RoundDeadline returns ROUND_DEADLINE_MS as a time.Duration.
func (c *Conf) RoundDeadline() time.Duration {
	return time.Duration(c.ROUND_DEADLINE_MS) * time.Millisecond
}

// BackoffBase returns BACKOFF_BASE_MS as a time.Duration.
func (c *Conf) BackoffBase() time.Duration {
	return time.Duration(c.BACKOFF_BASE_MS) * time.Millisecond
}

// BackoffMax returns BACKOFF_MAX_MS as a time.Duration.
func (c *Conf) BackoffMax() time.Duration {
	return time.Duration(c.BACKOFF_MAX_MS) * time.Millisecond
}

// DelayMin returns DELAY_MIN_MS as a time.Duration.
func (c *Conf) DelayMin() time.Duration {
	return time.Duration(c.DELAY_MIN_MS) * time.Millisecond
}

// DelayMax returns DELAY_MAX_MS as a time.Duration.
func (c *Conf) DelayMax() time.Duration {
	return time.Duration(c.DELAY_MAX_MS) * time.Millisecond
}

// SeekInterval returns SEEK_MS as a time.Duration.
func (c *Conf) SeekInterval() time.Duration {
	return time.Duration(c.SEEK_MS) * time.Millisecond
}

// LoadConfigFile loads the config '.yaml' file onto the callee Conf object.
func (c *Conf) LoadConfigFile(fn string) {
	yamlFile, err := ioutil.ReadFile(fn)
	if err != nil {
		log.Fatalf("yamlFile.Get err %v ", err)
	}
	err = yaml.Unmarshal(yamlFile, c)
	if err != nil {
		log.Fatalf("Unmarshal: %v", err)
	}
}

// FillEmptyFields fills in those fields that were left empty in the .yaml
// file or those which need a run-time computation. Any field not initialized
// here has to be initialized by the user in the '.yaml' file.
func (c *Conf) FillEmptyFields() {

	if c.NODE_ID == "" {
		c.NODE_ID = fmt.Sprintf("node-%d", rand.Intn(10000))
	}

	if c.V_DEFAULT == "" {
		c.V_DEFAULT = fmt.Sprintf("paxos@%s", c.NODE_ID)
	}

	if c.ACCEPTORS == 0 {
		// a deployment yaml describes its membership through NODES
		if len(c.NODES) > 0 {
			c.ACCEPTORS = len(c.NODES)
		} else {
			c.ACCEPTORS = 3
		}
	}

	if c.PROPOSERS == 0 {
		c.PROPOSERS = 1
	}

	if c.LEARNERS == 0 {
		c.LEARNERS = 1
	}

	if c.TRIALS == 0 {
		c.TRIALS = 1
	}

	if c.QUORUM == 0 {
		c.QUORUM = c.ACCEPTORS/2 + 1
	}

	if c.ROUND_DEADLINE_MS == 0 {
		c.ROUND_DEADLINE_MS = 2000
	}

	if c.MAX_RETRIES == 0 {
		c.MAX_RETRIES = 3
	}

	if c.BACKOFF_BASE_MS == 0 {
		c.BACKOFF_BASE_MS = 50
	}

	if c.BACKOFF_MAX_MS == 0 {
		c.BACKOFF_MAX_MS = 2000
	}

	if c.SEEK_MS == 0 {
		c.SEEK_MS = 5000
	}

	if c.PR_NODES == 0 {
		c.PR_NODES = 0.5
	}

	if c.DB_TYPE == "" {
		c.DB_TYPE = "memory"
	}

	if c.REDIS_ADDR == "" {
		c.REDIS_ADDR = "localhost:6379"
	}
}

// ValidateQuorum refuses a quorum that cannot intersect with itself across
// a membership of the given size: two disjoint sets of acceptors must never
// both reach quorum, so anything at or below half the membership is unsafe.
func (c *Conf) ValidateQuorum(members int) error {
	if c.QUORUM <= members/2 {
		return fmt.Errorf("config: quorum %d of %d acceptor(s) is not a strict majority", c.QUORUM, members)
	}
	if c.QUORUM > members {
		return fmt.Errorf("config: quorum %d exceeds the %d configured acceptor(s)", c.QUORUM, members)
	}
	return nil
}
