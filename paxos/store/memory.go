package store

import "sync"

// Memory is the in-process backend used by the simulation driver. It also
// supports injecting persistence failures so that trials can exercise an
// acceptor that loses its disk mid-instance.
type Memory struct {
	mu      sync.Mutex
	states  map[uint64]State
	failing bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[uint64]State)}
}

// FailWrites makes every subsequent Save return ErrUnavailable (or stop
// doing so when called with false). Loads keep working: a crashed disk can
// still be read from the last persisted state.
func (m *Memory) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = fail
}

func (m *Memory) Load(slot uint64) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[slot]
	return st, ok, nil
}

func (m *Memory) Save(slot uint64, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return ErrUnavailable
	}
	m.states[slot] = st
	return nil
}

func (m *Memory) Close() error {
	return nil
}
