package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

// ErrJobExists is returned when a ledger row with the same id is already present.
var ErrJobExists = errors.New("job already exists")

// JobsRepository is the job ledger: one row per logical job, updated as the
// job moves through attempts, re-enqueues and its terminal state. Kind, case,
// integration, task and creation time are fixed at creation.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListCaseJobs(ctx context.Context, caseID string, limit int) ([]domain.Job, error)
}

// MemoryJobsRepository keeps the ledger in process, indexed by case.
type MemoryJobsRepository struct {
	mu     sync.RWMutex
	jobs   map[string]domain.Job
	byCase map[string][]string
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs:   make(map[string]domain.Job),
		byCase: make(map[string][]string),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return ErrJobExists
	}
	r.jobs[job.ID] = *job
	r.byCase[job.CaseID] = append(r.byCase[job.CaseID], job.ID)
	return nil
}

// UpdateJob writes the mutable columns only: status, error, attempts and
// update time.
func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = job.Status
	stored.ErrorMessage = job.ErrorMessage
	stored.Attempts = job.Attempts
	stored.UpdatedAt = job.UpdatedAt
	r.jobs[job.ID] = stored
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

// ListCaseJobs returns the newest jobs of a case first.
func (r *MemoryJobsRepository) ListCaseJobs(_ context.Context, caseID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	r.mu.RLock()
	ids := r.byCase[caseID]
	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, r.jobs[id])
	}
	r.mu.RUnlock()

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
