// Package lock serializes commits and cancels per show.  Local covers a
// single instance; Redis extends the critical section across instances.
package lock

import (
	"context"
	"sync"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process lock keyed by show.  Entries are reference
// counted and dropped once nobody holds or waits for them.
type Local struct {
	mu    sync.Mutex
	shows map[uint64]*localEntry
}

func NewLocal() *Local {
	return &Local{shows: make(map[uint64]*localEntry)}
}

// Lock blocks until the show's lock is free or ctx is done.
func (l *Local) Lock(ctx context.Context, showID uint64) (func(), error) {
	l.mu.Lock()
	e, ok := l.shows[showID]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.shows[showID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(showID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(showID, e)
		})
	}, nil
}

func (l *Local) unref(showID uint64, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.shows, showID)
	}
}

func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.shows)
}
