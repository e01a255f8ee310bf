package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

type keyLock struct {
	held chan struct{}
	refs int
}

// MemoryLocker is a keyed mutex for a single process.
type MemoryLocker struct {
	wait  time.Duration
	mu    sync.Mutex
	locks map[string]*keyLock
}

var _ port.Locker = (*MemoryLocker)(nil)

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{
		wait:  wait,
		locks: make(map[string]*keyLock),
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{held: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case kl.held <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.held
				l.unref(key, kl)
			})
		}, nil
	case <-timer.C:
		l.unref(key, kl)
		return nil, fmt.Errorf("%w: lock %s not acquired within %s", domain.ErrConflict, key, l.wait)
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}
}

func (l *MemoryLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
