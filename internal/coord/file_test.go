package coord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

func TestFileGateUsesOneFilePerSlot(t *testing.T) {
	gate, err := NewFileGate(t.TempDir())
	if err != nil {
		t.Fatalf("new file gate: %v", err)
	}
	opts := GateOptions{Capacity: 2, TTL: time.Minute}

	first, err := gate.Acquire(context.Background(), "documents", opts)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := gate.Acquire(context.Background(), "documents", opts); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if _, err := gate.Acquire(context.Background(), "documents", opts); !errors.Is(err, domain.ErrGateUnavailable) {
		t.Fatalf("expected ErrGateUnavailable, got %v", err)
	}
	if err := first.Release(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := gate.Acquire(context.Background(), "documents", opts); err != nil {
		t.Fatalf("expected freed slot, got %v", err)
	}
}

func TestFileLockerExcludes(t *testing.T) {
	locker, err := NewFileLocker(t.TempDir())
	if err != nil {
		t.Fatalf("new file locker: %v", err)
	}
	key := ResultLockKey(domain.IntegrationDamage, "7")

	lease, err := locker.Acquire(context.Background(), key, LockOptions{TTL: time.Minute})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := locker.Acquire(context.Background(), key, LockOptions{Wait: 30 * time.Millisecond}); !errors.Is(err, domain.ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable, got %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	again, err := locker.Acquire(context.Background(), key, LockOptions{})
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	_ = again.Release(context.Background())
}
