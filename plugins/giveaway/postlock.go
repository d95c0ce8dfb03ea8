package giveaway

import "sync"

// postLocks serializes edits to one giveaway post so a count refresh never
// lands after the post was closed.
type postLocks struct {
	mu    sync.Mutex
	locks map[string]*postLock
}

type postLock struct {
	sync.Mutex
	refs int
}

func newPostLocks() *postLocks {
	return &postLocks{locks: map[string]*postLock{}}
}

// lock blocks until the post is free and returns its unlock func.
func (l *postLocks) lock(key string) func() {
	l.mu.Lock()
	pl := l.locks[key]
	if pl == nil {
		pl = &postLock{}
		l.locks[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *postLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
