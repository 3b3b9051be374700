package memory

import (
	"context"
	"sync"
	"time"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// LockManager implements domain.LockManager in process. TTLs are honored so
// a crashed holder cannot wedge the sandbox's background jobs forever.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> expiry
}

// NewLockManager creates an empty in-process lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]time.Time)}
}

// Acquire takes the named lock, returning domain.ErrLockHeld while another
// unexpired holder owns it. The release func is idempotent.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if expiry, ok := lm.locks[key]; ok && time.Now().Before(expiry) {
		return nil, domain.ErrLockHeld
	}
	lm.locks[key] = time.Now().Add(ttl)

	released := false
	release := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(lm.locks, key)
	}
	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
