package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/queue"
	"github.com/iago/recognition-orchestrator/internal/repository"
	"github.com/iago/recognition-orchestrator/internal/retry"
)

// JobsService creates ledger entries and puts jobs on the queue.
type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
	logger   *log.Logger
	now      func() time.Time
}

func NewJobsService(repo repository.JobsRepository, producer queue.Producer, logger *log.Logger) *JobsService {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &JobsService{repo: repo, producer: producer, logger: logger, now: time.Now}
}

func (s *JobsService) EnqueueRecognition(ctx context.Context, caseID string, integration domain.Integration) (domain.Job, error) {
	return s.Schedule(ctx, domain.JobRequest{
		Kind:        domain.JobKindRecognize,
		CaseID:      caseID,
		Integration: integration,
	})
}

// Schedule records a pending job and enqueues its first delivery.
func (s *JobsService) Schedule(ctx context.Context, request domain.JobRequest) (domain.Job, error) {
	now := s.now().UTC()
	job := &domain.Job{
		ID:          uuid.NewString(),
		Kind:        request.Kind,
		CaseID:      request.CaseID,
		Integration: request.Integration,
		TaskID:      request.TaskID,
		Status:      domain.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:       job.ID,
		Kind:        job.Kind,
		CaseID:      job.CaseID,
		Integration: job.Integration,
		TaskID:      job.TaskID,
		RequestedAt: now,
	}
	if request.Delay > 0 {
		message.NotBefore = now.Add(request.Delay)
	}

	if err := s.producer.Enqueue(ctx, message); err != nil {
		job.Status = domain.JobStatusDropped
		job.ErrorMessage = err.Error()
		job.UpdatedAt = s.now().UTC()
		if updateErr := s.repo.UpdateJob(ctx, job); updateErr != nil {
			s.logger.Printf("job ledger update failed job_id=%s err=%v", job.ID, updateErr)
		}
		return domain.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return *job, nil
}

// Requeue puts another copy of message on the queue as decided by the retry
// controller. The copy keeps the job id.
func (s *JobsService) Requeue(ctx context.Context, message domain.QueueMessage, decision retry.Decision) error {
	now := s.now().UTC()
	next := message
	next.Attempt = decision.NextAttempt(message.Attempt)
	next.RequestedAt = now
	next.NotBefore = time.Time{}
	if decision.Delay > 0 {
		next.NotBefore = now.Add(decision.Delay)
	}
	if err := s.producer.Enqueue(ctx, next); err != nil {
		return fmt.Errorf("requeue job %s: %w", message.JobID, err)
	}
	return nil
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *JobsService) ListCaseJobs(ctx context.Context, caseID string, limit int) ([]domain.Job, error) {
	return s.repo.ListCaseJobs(ctx, caseID, limit)
}
