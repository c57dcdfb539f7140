package locker

import (
	"context"
	"sync"
)

// MemoryLocker implements Locker with in-process keyed mutexes. Entries are
// refcounted and removed once the last holder releases, so the map stays
// bounded by the number of concurrently locked instances.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates a new in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*entry)}
}

// Acquire blocks until the key's lock is held or ctx is done.
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (UnlockFunc, error) {
	l.mu.Lock()

	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}

	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			l.release(key, e)
		}, nil
	case <-ctx.Done():
		l.release(key, e)

		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
