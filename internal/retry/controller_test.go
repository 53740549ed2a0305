package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

func TestGateMissBacksOffLinearlyThenResets(t *testing.T) {
	controller := NewController(DefaultPolicy(), nil)

	attempt := 0
	for miss := 1; miss <= 5; miss++ {
		decision := controller.Decide(OutcomeGateMiss, attempt, "job-1")
		if decision.Action != ActionRequeue {
			t.Fatalf("miss %d: expected requeue, got %s", miss, decision.Action)
		}
		if decision.ResetAttempts {
			t.Fatalf("miss %d: expected backoff, got clean copy", miss)
		}
		if want := time.Duration(miss) * 10 * time.Second; decision.Delay != want {
			t.Fatalf("miss %d: expected delay %s, got %s", miss, want, decision.Delay)
		}
		attempt = decision.NextAttempt(attempt)
	}

	sixth := controller.Decide(OutcomeGateMiss, attempt, "job-1")
	if !sixth.ResetAttempts {
		t.Fatalf("expected sixth evaluation to reset attempts, got %+v", sixth)
	}
	if sixth.Delay != 20*time.Second {
		t.Fatalf("expected fixed clean delay 20s, got %s", sixth.Delay)
	}
	if got := sixth.NextAttempt(attempt); got != 0 {
		t.Fatalf("expected clean copy attempt 0, got %d", got)
	}
	if sixth.NextState() != StateFresh {
		t.Fatalf("expected clean copy to start fresh, got %s", sixth.NextState())
	}
}

func TestLockMissAlwaysCleanCopy(t *testing.T) {
	controller := NewController(DefaultPolicy(), nil)
	for _, attempts := range []int{0, 1, 7} {
		decision := controller.Decide(OutcomeLockMiss, attempts, "job-2")
		if decision.Action != ActionRequeue || !decision.ResetAttempts || decision.Delay != 5*time.Second {
			t.Fatalf("attempts=%d: unexpected decision %+v", attempts, decision)
		}
	}
}

func TestSubmissionFailureIsBounded(t *testing.T) {
	controller := NewController(DefaultPolicy(), nil)

	attempt := 0
	for i := 0; i < 3; i++ {
		decision := controller.Decide(OutcomeSubmissionFailed, attempt, "job-3")
		if decision.Action != ActionRequeue || decision.ResetAttempts {
			t.Fatalf("attempt %d: expected counted requeue, got %+v", attempt, decision)
		}
		if decision.Delay != 15*time.Second {
			t.Fatalf("expected 15s delay, got %s", decision.Delay)
		}
		attempt = decision.NextAttempt(attempt)
	}

	final := controller.Decide(OutcomeSubmissionFailed, attempt, "job-3")
	if final.Action != ActionDrop {
		t.Fatalf("expected drop at ceiling, got %+v", final)
	}
	if final.State() != StateDropped {
		t.Fatalf("expected dropped state, got %s", final.State())
	}
}

func TestPendingAndMissingResults(t *testing.T) {
	controller := NewController(DefaultPolicy(), nil)

	pending := controller.Decide(OutcomeResultPending, 40, "job-4")
	if pending.Action != ActionRequeue || !pending.ResetAttempts || pending.Delay != 20*time.Second {
		t.Fatalf("unexpected pending decision %+v", pending)
	}

	missing := controller.Decide(OutcomeResultMissing, 0, "job-4")
	if missing.Action != ActionDrop {
		t.Fatalf("expected missing result to drop, got %+v", missing)
	}
}

func TestOutcomeOfClassifiesWrappedErrors(t *testing.T) {
	cases := map[error]Outcome{
		nil: OutcomeSucceeded,
		fmt.Errorf("case 1: %w", domain.ErrGateUnavailable):        OutcomeGateMiss,
		fmt.Errorf("case 1: %w", domain.ErrLockUnavailable):        OutcomeLockMiss,
		fmt.Errorf("upload: %w", domain.ErrSubmissionFailed):       OutcomeSubmissionFailed,
		fmt.Errorf("poll: %w", domain.ErrResultNotReady):           OutcomeResultPending,
		fmt.Errorf("poll: %w", domain.ErrResultMissing):            OutcomeResultMissing,
		fmt.Errorf("save: %w", domain.ErrPersistenceFailed):        OutcomePersistenceFailed,
		fmt.Errorf("documents: %w", domain.ErrUpstreamUnavailable): OutcomeUnavailable,
		fmt.Errorf("run: %w", context.DeadlineExceeded):            OutcomeAbandoned,
		fmt.Errorf("boom"): OutcomeFailed,
	}
	for err, want := range cases {
		if got := OutcomeOf(err); got != want {
			t.Fatalf("OutcomeOf(%v): expected %s, got %s", err, want, got)
		}
	}
}

func TestUnavailableIsSilentSuccess(t *testing.T) {
	controller := NewController(Policy{}, nil)
	decision := controller.Decide(OutcomeUnavailable, 0, "job-5")
	if decision.Action != ActionComplete {
		t.Fatalf("expected complete, got %+v", decision)
	}
}
