package accountstore

import (
	"context"
	"strings"
	"sync"

	"github.com/astro-web3/projecthub-auth/internal/domain/session"
)

type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]session.Account
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]session.Account), nextID: 1}
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*session.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return nil, session.ErrAccountNotFound
	}
	return &a, nil
}

// Seed adds accounts whose email is not present yet. Accounts without an ID
// get the next free one.
func (s *MemoryStore) Seed(_ context.Context, accounts []session.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range accounts {
		a.Email = strings.ToLower(a.Email)
		if _, exists := s.accounts[a.Email]; exists {
			continue
		}
		if a.ID == 0 {
			a.ID = s.nextID
		}
		if a.ID >= s.nextID {
			s.nextID = a.ID + 1
		}
		s.accounts[a.Email] = a
	}
	return nil
}
