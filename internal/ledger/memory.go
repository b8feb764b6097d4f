package ledger

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	done      chan struct{}
	result    []byte
	completed bool
	expires   time.Time
}

// sweepInterval bounds how often Claim scans for expired entries.
const sweepInterval = time.Minute

// Memory is a process-local Ledger. Completed entries expire after ttl and are
// swept from the map as claims arrive.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	entries   map[string]*memoryEntry
	lastSweep time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
	}
}

func (m *Memory) Claim(_ context.Context, key string) (bool, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= sweepInterval {
		m.sweepLocked(now)
	}

	if e, ok := m.entries[key]; ok {
		switch {
		case m.expired(e, now):
			delete(m.entries, key)
		case e.completed:
			return false, e.result, nil
		default:
			return false, nil, ErrInFlight
		}
	}

	m.entries[key] = &memoryEntry{done: make(chan struct{})}
	return true, nil, nil
}

func (m *Memory) Complete(_ context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &memoryEntry{done: make(chan struct{})}
		m.entries[key] = e
	}
	if e.completed {
		return nil
	}
	e.result = append([]byte(nil), result...)
	e.completed = true
	e.expires = m.now().Add(m.ttl)
	close(e.done)
	return nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.completed {
		return nil
	}
	delete(m.entries, key)
	close(e.done)
	return nil
}

func (m *Memory) Wait(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return nil, ErrReleased
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !e.completed {
		return nil, ErrReleased
	}
	return e.result, nil
}

func (m *Memory) expired(e *memoryEntry, now time.Time) bool {
	return e.completed && m.ttl > 0 && now.After(e.expires)
}

// sweepLocked drops expired results. In-flight claims are never swept.
func (m *Memory) sweepLocked(now time.Time) {
	for key, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, key)
		}
	}
	m.lastSweep = now
}

// Len reports the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
