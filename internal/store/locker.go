package store

import "sync"

// ThreadLocker serializes mutations scoped to one thread. The orchestrator
// holds the thread lock while recording proposals and while deciding whether
// all sibling executions of a message are terminal, so two siblings finishing
// simultaneously cannot both trigger the follow-up loop.
//
// Locks are reference-counted and removed from the map once released, so an
// idle process does not accumulate an entry per thread ever seen.
type ThreadLocker struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// NewThreadLocker creates an empty locker.
func NewThreadLocker() *ThreadLocker {
	return &ThreadLocker{locks: make(map[string]*threadLock)}
}

// Lock acquires the lock for threadID and returns the release function.
func (l *ThreadLocker) Lock(threadID string) func() {
	if threadID == "" {
		return func() {}
	}

	l.mu.Lock()
	lock := l.locks[threadID]
	if lock == nil {
		lock = &threadLock{}
		l.locks[threadID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(l.locks, threadID)
		}
		l.mu.Unlock()
	}
}
