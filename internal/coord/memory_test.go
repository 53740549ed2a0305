package coord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

func TestMemoryGateNeverExceedsCapacity(t *testing.T) {
	gate := NewMemoryGate()
	const capacity = 3

	var (
		active  int32
		peak    int32
		granted int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := gate.Acquire(context.Background(), "documents", GateOptions{
				Capacity: capacity,
				Wait:     2 * time.Second,
				TTL:      time.Minute,
			})
			if err != nil {
				return
			}
			atomic.AddInt32(&granted, 1)
			current := atomic.AddInt32(&active, 1)
			for {
				seen := atomic.LoadInt32(&peak)
				if current <= seen || atomic.CompareAndSwapInt32(&peak, seen, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			_ = lease.Release(context.Background())
		}()
	}
	wg.Wait()

	if peak > capacity {
		t.Fatalf("expected at most %d concurrent holders, got %d", capacity, peak)
	}
	if granted == 0 {
		t.Fatalf("expected some acquisitions to succeed")
	}
}

func TestMemoryGateReturnsUnavailableWithoutWait(t *testing.T) {
	gate := NewMemoryGate()
	opts := GateOptions{Capacity: 1, TTL: time.Minute}

	first, err := gate.Acquire(context.Background(), "damage", opts)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer first.Release(context.Background())

	_, err = gate.Acquire(context.Background(), "damage", opts)
	if !errors.Is(err, domain.ErrGateUnavailable) {
		t.Fatalf("expected ErrGateUnavailable, got %v", err)
	}

	if _, err := gate.Acquire(context.Background(), "documents", opts); err != nil {
		t.Fatalf("expected other class to be independent, got %v", err)
	}
}

func TestMemoryGateReclaimsExpiredLease(t *testing.T) {
	gate := NewMemoryGate()
	now := time.Now()
	gate.now = func() time.Time { return now }

	opts := GateOptions{Capacity: 1, TTL: 10 * time.Second}
	if _, err := gate.Acquire(context.Background(), "documents", opts); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	now = now.Add(11 * time.Second)
	if _, err := gate.Acquire(context.Background(), "documents", opts); err != nil {
		t.Fatalf("expected expired slot to be reclaimed, got %v", err)
	}
	if got := gate.InUse("documents"); got != 1 {
		t.Fatalf("expected 1 slot in use, got %d", got)
	}
}

func TestMemoryLockerSerializesCriticalSections(t *testing.T) {
	locker := NewMemoryLocker()
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := locker.Acquire(context.Background(), "case-1", LockOptions{Wait: 5 * time.Second, TTL: time.Minute})
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			value := counter
			time.Sleep(100 * time.Microsecond)
			counter = value + 1
			_ = lease.Release(context.Background())
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", counter)
	}
}

func TestMemoryLockerStaleReleaseKeepsSuccessor(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Now()
	locker.now = func() time.Time { return now }

	stale, err := locker.Acquire(context.Background(), "case-2", LockOptions{TTL: time.Second})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	now = now.Add(2 * time.Second)

	if _, err := locker.Acquire(context.Background(), "case-2", LockOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("expected expired lock to be taken over, got %v", err)
	}
	_ = stale.Release(context.Background())

	_, err = locker.Acquire(context.Background(), "case-2", LockOptions{TTL: time.Minute})
	if !errors.Is(err, domain.ErrLockUnavailable) {
		t.Fatalf("expected successor lock to survive stale release, got %v", err)
	}
}
