package coord

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

// MemoryGate is an in-process Gate used by the local runtime and tests.
type MemoryGate struct {
	mu           sync.Mutex
	slots        map[string]map[string]time.Time
	now          func() time.Time
	pollInterval time.Duration
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		slots:        make(map[string]map[string]time.Time),
		now:          time.Now,
		pollInterval: 5 * time.Millisecond,
	}
}

func (g *MemoryGate) Acquire(ctx context.Context, class string, opts GateOptions) (Lease, error) {
	opts = opts.normalized()
	token := uuid.NewString()

	ok, err := retryUntil(ctx, opts.Wait, g.pollInterval, func() (bool, error) {
		g.mu.Lock()
		defer g.mu.Unlock()

		now := g.now()
		held := g.slots[class]
		if held == nil {
			held = make(map[string]time.Time)
			g.slots[class] = held
		}
		for holder, expiresAt := range held {
			if !expiresAt.After(now) {
				delete(held, holder)
			}
		}
		if len(held) >= opts.Capacity {
			return false, nil
		}
		held[token] = now.Add(opts.TTL)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrGateUnavailable
	}
	return leaseFunc(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.slots[class], token)
	}), nil
}

// InUse reports live slots for class.
func (g *MemoryGate) InUse(class string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	count := 0
	for _, expiresAt := range g.slots[class] {
		if expiresAt.After(now) {
			count++
		}
	}
	return count
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker used by the local runtime and tests.
type MemoryLocker struct {
	mu           sync.Mutex
	locks        map[string]memoryLock
	now          func() time.Time
	pollInterval time.Duration
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks:        make(map[string]memoryLock),
		now:          time.Now,
		pollInterval: 2 * time.Millisecond,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, opts LockOptions) (Lease, error) {
	opts = opts.normalized()
	token := uuid.NewString()

	ok, err := retryUntil(ctx, opts.Wait, l.pollInterval, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		now := l.now()
		if current, exists := l.locks[key]; exists && current.expiresAt.After(now) {
			return false, nil
		}
		l.locks[key] = memoryLock{token: token, expiresAt: now.Add(opts.TTL)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrLockUnavailable
	}
	return leaseFunc(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, exists := l.locks[key]; exists && current.token == token {
			delete(l.locks, key)
		}
	}), nil
}

type leaseFunc func()

func (f leaseFunc) Release(context.Context) error {
	f()
	return nil
}
