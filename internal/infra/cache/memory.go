package cache

import (
	"context"
	"sync"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/session"
)

// pruneEvery bounds how many writes pass between sweeps of expired ids.
const pruneEvery = 64

type memoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	writes  int
	now     func() time.Time
}

// NewMemoryRevocationStore is a process-local store for single-instance
// deployments and tests. Expired ids are pruned lazily.
func NewMemoryRevocationStore(now func() time.Time) session.RevocationStore {
	if now == nil {
		now = time.Now
	}
	return &memoryRevocations{revoked: make(map[string]time.Time), now: now}
}

func (m *memoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store(tokenID, until, m.now())
	return nil
}

// Consume marks tokenID revoked and reports whether it already was, as one
// step under the lock.
func (m *memoryRevocations) Consume(_ context.Context, tokenID string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.revoked[tokenID]; ok && exp.After(now) {
		return true, nil
	}
	m.store(tokenID, until, now)
	return false, nil
}

// store must be called with mu held.
func (m *memoryRevocations) store(tokenID string, until, now time.Time) {
	if !until.After(now) {
		return
	}
	m.revoked[tokenID] = until

	m.writes++
	if m.writes >= pruneEvery {
		m.writes = 0
		for id, exp := range m.revoked {
			if !exp.After(now) {
				delete(m.revoked, id)
			}
		}
	}
}

func (m *memoryRevocations) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.revoked)
}
