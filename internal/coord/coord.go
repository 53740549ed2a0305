// Package coord provides the cross-process coordination primitives used by
// recognition workers: a counting admission gate per task class and a
// mutual-exclusion lock per resource key. Both hand out leases that lapse on
// their own after a TTL, so a crashed holder cannot wedge other workers.
package coord

import (
	"context"
	"regexp"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	releaseTimeout      = 2 * time.Second
)

// Lease is a held gate slot or lock.
type Lease interface {
	Release(ctx context.Context) error
}

type GateOptions struct {
	// Capacity is the number of slots for the class.
	Capacity int
	// Wait bounds how long Acquire tries; zero means a single attempt.
	Wait time.Duration
	// TTL is the lease length after which an unreleased slot is reclaimed.
	TTL time.Duration
}

type LockOptions struct {
	Wait time.Duration
	TTL  time.Duration
}

// Gate bounds concurrent executions of a named task class.
// Acquire returns domain.ErrGateUnavailable when no slot frees up within Wait.
type Gate interface {
	Acquire(ctx context.Context, class string, opts GateOptions) (Lease, error)
}

// Locker serializes critical sections keyed by the same resource key.
// Acquire returns domain.ErrLockUnavailable when the lock is not obtained within Wait.
type Locker interface {
	Acquire(ctx context.Context, key string, opts LockOptions) (Lease, error)
}

// ResultLockKey names the lock protecting a case's result document for one integration.
func ResultLockKey(integration domain.Integration, caseID string) string {
	return "result_doc:" + string(integration) + ":case:" + caseID
}

func (o GateOptions) normalized() GateOptions {
	if o.Capacity <= 0 {
		o.Capacity = 1
	}
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.Wait < 0 {
		o.Wait = 0
	}
	return o
}

func (o LockOptions) normalized() LockOptions {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.Wait < 0 {
		o.Wait = 0
	}
	return o
}

// retryUntil calls try until it succeeds, fails, or wait elapses. The first
// call is always made, so a zero wait means exactly one attempt.
func retryUntil(ctx context.Context, wait, interval time.Duration, try func() (bool, error)) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := try()
		if err != nil || ok {
			return ok, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		sleep := interval
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func releaseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

func fileSafeName(value string) string {
	return unsafeNameChars.ReplaceAllString(value, "_")
}
