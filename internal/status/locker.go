package status

import (
	"context"
	"sync"
)

// Locker serializes work per identifier. Locks for idle identifiers are
// dropped, so the map only holds ids with a holder or waiters.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock blocks until id is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[id]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[id] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(id, kl)
		})
	}, nil
}

func (l *Locker) release(id string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
