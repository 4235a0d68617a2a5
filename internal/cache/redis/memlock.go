package redis

import (
	"context"
	"sync"

	"github.com/intercomswap/swapd/internal/domain"
)

// MemLockManager is the in-process stand-in used when no Redis is
// configured (simnet, single-process deployments, tests).
type MemLockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMemLockManager returns an empty in-process lock manager.
func NewMemLockManager() *MemLockManager {
	return &MemLockManager{locks: make(map[string]*sync.Mutex)}
}

// Acquire locks key, blocking until the holder releases it.
func (m *MemLockManager) Acquire(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	var once sync.Once
	return func() { once.Do(l.Unlock) }, nil
}

var _ domain.LockManager = (*MemLockManager)(nil)
