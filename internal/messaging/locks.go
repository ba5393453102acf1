package messaging

import "sync"

// identityLocks hands out one mutex per identity, dropping it once unused.
type identityLocks struct {
	mu    sync.Mutex
	locks map[string]*identityLock
}

type identityLock struct {
	sync.Mutex
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{locks: make(map[string]*identityLock)}
}

// lock blocks until identity's mutex is held and returns its release func.
func (l *identityLocks) lock(identity string) func() {
	l.mu.Lock()
	entry, ok := l.locks[identity]
	if !ok {
		entry = &identityLock{}
		l.locks[identity] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, identity)
		}
		l.mu.Unlock()
	}
}

// size reports how many identities currently hold or wait on a lock.
func (l *identityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
