package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/queue"
	"github.com/iago/recognition-orchestrator/internal/redact"
	"github.com/iago/recognition-orchestrator/internal/repository"
	"github.com/iago/recognition-orchestrator/internal/retry"
)

const (
	defaultJobTimeout  = 650 * time.Second
	consumeRetryPeriod = 2 * time.Second
)

// Recognizer runs the recognition job kinds.
type Recognizer interface {
	Recognize(ctx context.Context, caseID string, integration domain.Integration) error
	Collect(ctx context.Context, caseID string, integration domain.Integration, taskID string) error
	RoundDeadline(ctx context.Context, caseID string, integration domain.Integration) error
}

// WebhookSender delivers the downstream notification.
type WebhookSender interface {
	Send(ctx context.Context, jobID, caseID string, integration domain.Integration) error
}

// Requeuer puts a retry copy of a message back on the queue.
type Requeuer interface {
	Requeue(ctx context.Context, message domain.QueueMessage, decision retry.Decision) error
}

type Config struct {
	// Concurrency is the number of consume loops run in parallel.
	Concurrency int
	// JobTimeout is the wall-clock ceiling of one job execution.
	JobTimeout time.Duration
}

type Dependencies struct {
	Consumer   queue.Consumer
	Jobs       repository.JobsRepository
	Requeuer   Requeuer
	Recognizer Recognizer
	Webhooks   WebhookSender
	Retry      *retry.Controller
	Config     Config
	Logger     *log.Logger
}

// Processor consumes queue jobs, runs them and applies the retry decision to
// each outcome. Every status transition is written to the jobs ledger.
type Processor struct {
	consumer   queue.Consumer
	repo       repository.JobsRepository
	requeuer   Requeuer
	recognizer Recognizer
	webhooks   WebhookSender
	retry      *retry.Controller
	config     Config
	logger     *log.Logger
	now        func() time.Time
}

func NewProcessor(deps Dependencies) *Processor {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Retry == nil {
		deps.Retry = retry.NewController(retry.DefaultPolicy(), deps.Logger)
	}
	if deps.Config.Concurrency <= 0 {
		deps.Config.Concurrency = 1
	}
	if deps.Config.JobTimeout <= 0 {
		deps.Config.JobTimeout = defaultJobTimeout
	}
	return &Processor{
		consumer:   deps.Consumer,
		repo:       deps.Jobs,
		requeuer:   deps.Requeuer,
		recognizer: deps.Recognizer,
		webhooks:   deps.Webhooks,
		retry:      deps.Retry,
		config:     deps.Config,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Start runs the consume loops until ctx ends.
func (p *Processor) Start(ctx context.Context) {
	group, groupCtx := errgroup.WithContext(ctx)
	for index := 0; index < p.config.Concurrency; index++ {
		group.Go(func() error {
			p.consumeLoop(groupCtx)
			return nil
		})
	}
	_ = group.Wait()
}

func (p *Processor) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
			return
		}
		p.logger.Printf("worker consume loop error: %v", err)

		timer := time.NewTimer(consumeRetryPeriod)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	job, err := p.repo.GetJob(ctx, message.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", message.JobID, err)
	}

	job.Status = domain.JobStatusProcessing
	job.Attempts = message.Attempt + 1
	job.UpdatedAt = p.now().UTC()
	if err := p.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	runErr := p.run(jobCtx, message)
	interrupted := jobCtx.Err() != nil
	cancel()

	outcome := retry.OutcomeOf(runErr)
	if runErr != nil && interrupted && outcome != retry.OutcomeUnavailable {
		// the ceiling or a shutdown cut the job short, whatever error it surfaced
		outcome = retry.OutcomeAbandoned
	}
	subject := fmt.Sprintf("%s job %s case %s", message.Kind, message.JobID, message.CaseID)
	decision := p.retry.Decide(outcome, message.Attempt, subject)

	// the ledger and queue writes below must land even while shutting down
	writeCtx := context.WithoutCancel(ctx)
	job.UpdatedAt = p.now().UTC()
	job.ErrorMessage = ""
	if runErr != nil {
		job.ErrorMessage = redact.String(runErr.Error())
	}

	switch decision.Action {
	case retry.ActionComplete:
		job.Status = domain.JobStatusDone
		if err := p.repo.UpdateJob(writeCtx, job); err != nil {
			return fmt.Errorf("mark done: %w", err)
		}
		p.logger.Printf("job processed kind=%s job_id=%s case_id=%s reason=%s", job.Kind, job.ID, job.CaseID, decision.Reason)
		return nil
	case retry.ActionRequeue:
		if err := p.requeuer.Requeue(writeCtx, message, decision); err != nil {
			job.Status = domain.JobStatusDropped
			job.ErrorMessage = redact.String(err.Error())
			_ = p.repo.UpdateJob(writeCtx, job)
			return err
		}
		job.Status = domain.JobStatusRequeued
		if err := p.repo.UpdateJob(writeCtx, job); err != nil {
			p.logger.Printf("job ledger update failed job_id=%s err=%v", job.ID, err)
		}
		p.logger.Printf(
			"job requeued kind=%s job_id=%s case_id=%s reason=%s delay=%s next_attempt=%d",
			job.Kind, job.ID, job.CaseID, decision.Reason, decision.Delay, decision.NextAttempt(message.Attempt),
		)
		return nil
	default:
		job.Status = domain.JobStatusDropped
		if err := p.repo.UpdateJob(writeCtx, job); err != nil {
			p.logger.Printf("job ledger update failed job_id=%s err=%v", job.ID, err)
		}
		return fmt.Errorf("job %s dropped (%s): %w", job.ID, decision.Reason, runErr)
	}
}

func (p *Processor) run(ctx context.Context, message domain.QueueMessage) error {
	switch message.Kind {
	case domain.JobKindRecognize:
		return p.recognizer.Recognize(ctx, message.CaseID, message.Integration)
	case domain.JobKindCollect:
		return p.recognizer.Collect(ctx, message.CaseID, message.Integration, message.TaskID)
	case domain.JobKindRoundDeadline:
		return p.recognizer.RoundDeadline(ctx, message.CaseID, message.Integration)
	case domain.JobKindWebhook:
		if p.webhooks == nil {
			return nil
		}
		if err := p.webhooks.Send(ctx, message.JobID, message.CaseID, message.Integration); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported job kind: %s", message.Kind)
	}
}
