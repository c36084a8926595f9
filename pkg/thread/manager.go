package thread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"myagent/pkg/protocol"
)

// AgentFactory builds a fresh Agent for the named agent type ("claude" for
// the subprocess agent, anything else for the native AiAgent).
type AgentFactory func(agentType string) (Agent, error)

// Manager owns the set of live threads, keyed by ThreadId.
type Manager struct {
	mu      sync.RWMutex
	threads map[protocol.ThreadId]*AgentThread
	factory AgentFactory
}

// NewManager builds an empty Manager using factory to construct agents.
func NewManager(factory AgentFactory) *Manager {
	return &Manager{
		threads: make(map[protocol.ThreadId]*AgentThread),
		factory: factory,
	}
}

// CreateThread allocates a ThreadId, builds the agent for agentType, and
// spawns its background task.
func (m *Manager) CreateThread(ctx context.Context, agentType string) (protocol.ThreadId, *AgentThread, error) {
	agent, err := m.factory(agentType)
	if err != nil {
		return "", nil, fmt.Errorf("create %s thread: %w", agentType, err)
	}

	id := protocol.NewThreadId()
	t := Spawn(ctx, id, agent)

	m.mu.Lock()
	m.threads[id] = t
	m.mu.Unlock()

	return id, t, nil
}

// GetThread looks up a live thread by id.
func (m *Manager) GetThread(id protocol.ThreadId) (*AgentThread, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	return t, ok
}

// RemoveThread drops a thread from the manager's index without touching
// its goroutine; callers should only do this after the thread has finished
// or been explicitly abandoned.
func (m *Manager) RemoveThread(id protocol.ThreadId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, id)
}

// Count returns the number of tracked threads.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

// GCIdle evicts threads whose agent has finished and which have seen no SQ
// or EQ activity for longer than maxIdle, returning the evicted ids.
func (m *Manager) GCIdle(maxIdle time.Duration) []protocol.ThreadId {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []protocol.ThreadId
	for id, t := range m.threads {
		if t.Done() && t.IdleSince() > maxIdle {
			delete(m.threads, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// RunGC sweeps for idle, finished threads on interval until ctx is
// cancelled. Callers typically pass a 1-hour idle window.
func (m *Manager) RunGC(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.GCIdle(maxIdle)
		}
	}
}
