// Package threadlock serializes pipeline runs per conversation thread.
package threadlock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout is returned when the lock could not be acquired before the
// context ended.
var ErrLockTimeout = errors.New("threadlock: timed out waiting for thread lock")

// Locker grants exclusive access to a thread. The returned unlock function
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, threadID string) (func(), error)
}

// LocalLocker is an in-process keyed mutex. Entries are reference counted
// so idle threads do not accumulate.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker returns an empty keyed lock.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// Lock blocks until threadID is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[threadID]
	if !ok {
		entry = &localLock{ch: make(chan struct{}, 1)}
		l.locks[threadID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(threadID, entry, false)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(threadID, entry, true) })
	}, nil
}

func (l *LocalLocker) release(threadID string, entry *localLock, held bool) {
	if held {
		<-entry.ch
	}
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, threadID)
	}
	l.mu.Unlock()
}

// Len reports how many threads currently have holders or waiters.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
