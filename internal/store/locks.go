package store

import "sync"

// userLocks serializes operations per user id. Cross-user operations take
// independent mutexes and proceed in parallel; two operations for the same
// user queue behind each other, which is what makes read-modify-write of a
// single record atomic relative to other writers of that record.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*sync.Mutex)}
}

// lock acquires the mutex for id and returns the unlock function.
func (l *userLocks) lock(id int64) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
