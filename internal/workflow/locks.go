package workflow

import "sync"

// fingerprintLocks serializes work per source fingerprint so two jobs for the
// identical source never run concurrently. Locks are in-process only; the
// unique fingerprint index in the store guards against duplicate rows.
type fingerprintLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newFingerprintLocks() *fingerprintLocks {
	return &fingerprintLocks{held: make(map[string]struct{})}
}

// TryLock acquires the lock for a fingerprint without blocking.
func (l *fingerprintLocks) TryLock(fingerprint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[fingerprint]; taken {
		return false
	}
	l.held[fingerprint] = struct{}{}
	return true
}

// Unlock releases the lock for a fingerprint.
func (l *fingerprintLocks) Unlock(fingerprint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, fingerprint)
}
