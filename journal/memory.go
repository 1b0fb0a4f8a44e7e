package journal

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/rustyeddy/marketsync/market"
)

// Memory is a Journal that lives only as long as the process.
type Memory struct {
	mu     sync.Mutex
	states map[string]market.SyncState
	runs   []Run
}

var _ Journal = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{states: make(map[string]market.SyncState)}
}

func (m *Memory) Get(_ context.Context, e market.Entity) (*market.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[e.Key()]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *Memory) Put(_ context.Context, st market.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Entity.Key()] = st
	return nil
}

func (m *Memory) List(_ context.Context) ([]market.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]market.SyncState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b market.SyncState) int {
		return strings.Compare(a.Entity.Key(), b.Entity.Key())
	})
	return out, nil
}

func (m *Memory) RecordRun(_ context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Outcomes = slices.Clone(r.Outcomes)
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) LastRun(_ context.Context) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil, nil
	}
	r := m.runs[len(m.runs)-1]
	return &r, nil
}

// Runs returns every recorded run in order.
func (m *Memory) Runs() []Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.runs)
}

func (m *Memory) Close() error { return nil }
