// Package retry decides what happens to a job after an attempt: finish it,
// drop it, or put it back on the queue with a delay. Admission-gate misses
// back off linearly. Lock contention and pending results come back as a clean
// copy with the attempt counter reset. Submission failures stop at a ceiling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

type Outcome string

const (
	OutcomeSucceeded         Outcome = "succeeded"
	OutcomeUnavailable       Outcome = "unavailable"
	OutcomeGateMiss          Outcome = "gate_miss"
	OutcomeLockMiss          Outcome = "lock_miss"
	OutcomeSubmissionFailed  Outcome = "submission_failed"
	OutcomeResultPending     Outcome = "result_pending"
	OutcomeResultMissing     Outcome = "result_missing"
	OutcomePersistenceFailed Outcome = "persistence_failed"
	OutcomeAbandoned         Outcome = "abandoned"
	OutcomeFailed            Outcome = "failed"
)

// OutcomeOf classifies the error returned by a job handler.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, domain.ErrGateUnavailable):
		return OutcomeGateMiss
	case errors.Is(err, domain.ErrLockUnavailable):
		return OutcomeLockMiss
	case errors.Is(err, domain.ErrSubmissionFailed):
		return OutcomeSubmissionFailed
	case errors.Is(err, domain.ErrResultNotReady):
		return OutcomeResultPending
	case errors.Is(err, domain.ErrResultMissing):
		return OutcomeResultMissing
	case errors.Is(err, domain.ErrPersistenceFailed):
		return OutcomePersistenceFailed
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeAbandoned
	default:
		return OutcomeFailed
	}
}

type Action string

const (
	ActionComplete Action = "complete"
	ActionDrop     Action = "drop"
	ActionRequeue  Action = "requeue"
)

// State is the lifecycle position of one job copy.
type State string

const (
	StateFresh      State = "fresh"
	StateAttempting State = "attempting"
	StateSucceeded  State = "succeeded"
	StateDropped    State = "dropped"
	StateRequeued   State = "requeued"
)

type Decision struct {
	Action Action
	Delay  time.Duration
	// ResetAttempts marks a clean copy: the re-enqueued job starts again at attempt 0.
	ResetAttempts bool
	Reason        string
}

func (d Decision) State() State {
	switch d.Action {
	case ActionComplete:
		return StateSucceeded
	case ActionDrop:
		return StateDropped
	default:
		return StateRequeued
	}
}

// NextAttempt is the attempt count the re-enqueued copy carries.
func (d Decision) NextAttempt(current int) int {
	if d.ResetAttempts {
		return 0
	}
	return current + 1
}

// NextState is where the re-enqueued copy starts.
func (d Decision) NextState() State {
	if d.ResetAttempts {
		return StateFresh
	}
	return StateAttempting
}

type Policy struct {
	BaseDelay         time.Duration
	GateMissLimit     int
	GateCleanDelay    time.Duration
	LockDelay         time.Duration
	SubmissionCeiling int
	SubmissionDelay   time.Duration
	PendingDelay      time.Duration
	PersistenceDelay  time.Duration
	AbandonDelay      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:         10 * time.Second,
		GateMissLimit:     5,
		GateCleanDelay:    20 * time.Second,
		LockDelay:         5 * time.Second,
		SubmissionCeiling: 3,
		SubmissionDelay:   15 * time.Second,
		PendingDelay:      20 * time.Second,
		PersistenceDelay:  5 * time.Second,
		AbandonDelay:      5 * time.Second,
	}
}

type Controller struct {
	policy Policy
	logger *log.Logger
}

func NewController(policy Policy, logger *log.Logger) *Controller {
	defaults := DefaultPolicy()
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaults.BaseDelay
	}
	if policy.GateMissLimit <= 0 {
		policy.GateMissLimit = defaults.GateMissLimit
	}
	if policy.GateCleanDelay <= 0 {
		policy.GateCleanDelay = defaults.GateCleanDelay
	}
	if policy.LockDelay <= 0 {
		policy.LockDelay = defaults.LockDelay
	}
	if policy.SubmissionCeiling <= 0 {
		policy.SubmissionCeiling = defaults.SubmissionCeiling
	}
	if policy.SubmissionDelay <= 0 {
		policy.SubmissionDelay = defaults.SubmissionDelay
	}
	if policy.PendingDelay <= 0 {
		policy.PendingDelay = defaults.PendingDelay
	}
	if policy.PersistenceDelay <= 0 {
		policy.PersistenceDelay = defaults.PersistenceDelay
	}
	if policy.AbandonDelay <= 0 {
		policy.AbandonDelay = defaults.AbandonDelay
	}
	return &Controller{policy: policy, logger: logger}
}

// Decide maps an attempt outcome to the next step. attempts is the number of
// earlier deliveries of this job copy as recorded by the queue.
func (c *Controller) Decide(outcome Outcome, attempts int, subject string) Decision {
	if attempts < 0 {
		attempts = 0
	}
	p := c.policy

	switch outcome {
	case OutcomeSucceeded:
		return Decision{Action: ActionComplete, Reason: "succeeded"}
	case OutcomeUnavailable:
		return Decision{Action: ActionComplete, Reason: "integration unavailable"}
	case OutcomeGateMiss:
		if attempts >= p.GateMissLimit {
			c.logf("no admission slot for %s after %d attempts, released once more as a clean copy", subject, attempts)
			return Decision{Action: ActionRequeue, Delay: p.GateCleanDelay, ResetAttempts: true, Reason: "gate saturated"}
		}
		return Decision{
			Action: ActionRequeue,
			Delay:  time.Duration(attempts+1) * p.BaseDelay,
			Reason: "gate busy",
		}
	case OutcomeLockMiss:
		return Decision{Action: ActionRequeue, Delay: p.LockDelay, ResetAttempts: true, Reason: "lock contended"}
	case OutcomeSubmissionFailed:
		if attempts < p.SubmissionCeiling {
			return Decision{Action: ActionRequeue, Delay: p.SubmissionDelay, Reason: "submission failed"}
		}
		c.logf("submission for %s failed %d times, dropping job", subject, attempts+1)
		return Decision{Action: ActionDrop, Reason: "submission failed permanently"}
	case OutcomeResultPending:
		return Decision{Action: ActionRequeue, Delay: p.PendingDelay, ResetAttempts: true, Reason: "result pending"}
	case OutcomeResultMissing:
		c.logf("result for %s is unknown upstream, dropping job", subject)
		return Decision{Action: ActionDrop, Reason: "result missing"}
	case OutcomePersistenceFailed:
		return Decision{Action: ActionRequeue, Delay: p.PersistenceDelay, ResetAttempts: true, Reason: "persistence failed"}
	case OutcomeAbandoned:
		c.logf("job %s hit its wall-clock ceiling, released as a clean copy", subject)
		return Decision{Action: ActionRequeue, Delay: p.AbandonDelay, ResetAttempts: true, Reason: "abandoned"}
	default:
		return Decision{Action: ActionDrop, Reason: fmt.Sprintf("unhandled outcome %s", outcome)}
	}
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
