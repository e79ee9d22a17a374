package store

import (
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v7"
)

// Redis persists acceptor state on a redis server. Rows are keyed by
// "acceptor:<id>:slot:<n>" so several acceptors may share one server.
type Redis struct {
	client   *redis.Client
	acceptor string
}

// OpenRedis connects to the redis server at addr for the given acceptor id.
func OpenRedis(addr, acceptorID string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "",
		DB:       0,
	})
	if _, err := client.Ping().Result(); err != nil {
		return nil, fmt.Errorf("store: redis server did not PONG back to our PING: %w", err)
	}
	return &Redis{client: client, acceptor: acceptorID}, nil
}

func (r *Redis) key(slot uint64) string {
	return fmt.Sprintf("acceptor:%s:slot:%d", r.acceptor, slot)
}

func (r *Redis) Load(slot uint64) (State, bool, error) {
	raw, err := r.client.Get(r.key(slot)).Result()
	if err == redis.Nil {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("store: loading slot %d: %w", slot, err)
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, false, fmt.Errorf("store: decoding slot %d: %w", slot, err)
	}
	return st, true, nil
}

func (r *Redis) Save(slot uint64, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := r.client.Set(r.key(slot), raw, 0).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
