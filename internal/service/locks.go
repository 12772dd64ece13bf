package service

import (
	"sync"
)

// userLocks serializes read-modify-write cycles per user so concurrent
// submissions for the same user see each other's records.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the user's mutex and returns its unlock func.
func (l *userLocks) Lock(userID string) func() {
	l.mu.Lock()
	userMu, ok := l.locks[userID]
	if !ok {
		userMu = &sync.Mutex{}
		l.locks[userID] = userMu
	}
	l.mu.Unlock()

	userMu.Lock()
	return userMu.Unlock
}
