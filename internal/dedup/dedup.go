// Package dedup provides time-windowed set membership used to suppress
// redelivered platform events and rapid repeated user actions.
//
// The in-memory window is a single-process mechanism. Deployments running
// more than one process must use a shared backend (SQL or DynamoDB).
package dedup

import (
	"context"
	"sync"
	"time"
)

// Window is a time-windowed set.
type Window interface {
	// Seen records key and reports whether it had already been recorded
	// within the given window.
	Seen(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Compile-time check that MemoryWindow implements Window.
var _ Window = (*MemoryWindow)(nil)

// MemoryWindow is an in-process Window. Expired entries are purged lazily on every lookup,
// so memory stays bounded by traffic rate times window length.
type MemoryWindow struct {
	mu      sync.Mutex
	entries map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryWindow returns an empty in-memory window.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{
		entries: make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

// Seen implements Window. It never returns an error.
func (m *MemoryWindow) Seen(_ context.Context, key string, window time.Duration) (bool, error) {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, ts := range m.entries {
		if now.Sub(ts) > window {
			delete(m.entries, k)
		}
	}

	if _, ok := m.entries[key]; ok {
		return true, nil
	}
	m.entries[key] = now
	return false, nil
}

// Len returns the number of entries currently held.
func (m *MemoryWindow) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
