package sharing

import (
	"context"
	"sync"
)

// MemoryStore keeps shares in process. It is used when no Redis is configured, so
// snapshots do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	shares map[string]ShareSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shares: map[string]ShareSession{}}
}

func (m *MemoryStore) Save(_ context.Context, share ShareSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[share.AccountID] = share.clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, accountID string) (ShareSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	share, ok := m.shares[accountID]
	if !ok {
		return ShareSession{}, false, nil
	}
	return share.clone(), true, nil
}
