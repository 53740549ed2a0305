// Package notify triggers the downstream notification for a finished round.
// Triggering only schedules a webhook job; delivery happens later in a worker.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

// Notifier is fire-and-forget: a returned error means the trigger was not recorded.
type Notifier interface {
	Notify(ctx context.Context, caseID string, integration domain.Integration) error
}

// JobScheduler creates and enqueues a job.
type JobScheduler interface {
	Schedule(ctx context.Context, request domain.JobRequest) (domain.Job, error)
}

// QueueNotifier schedules a webhook job for each notification.
type QueueNotifier struct {
	scheduler JobScheduler
}

func NewQueueNotifier(scheduler JobScheduler) *QueueNotifier {
	return &QueueNotifier{scheduler: scheduler}
}

func (n *QueueNotifier) Notify(ctx context.Context, caseID string, integration domain.Integration) error {
	if _, err := n.scheduler.Schedule(ctx, domain.JobRequest{
		Kind:        domain.JobKindWebhook,
		CaseID:      caseID,
		Integration: integration,
	}); err != nil {
		return fmt.Errorf("schedule webhook case_id=%s: %w", caseID, err)
	}
	return nil
}

// RoundDelay is how long the delayed round notifier waits for n requests:
// perItem for each request, capped at ceiling.
func RoundDelay(n int, perItem, ceiling time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	delay := time.Duration(n) * perItem
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}
	return delay
}
