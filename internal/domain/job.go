package domain

import "time"

type JobKind string

const (
	// JobKindRecognize runs one submission round for a case and integration.
	JobKindRecognize JobKind = "recognize"
	// JobKindCollect polls one asynchronous task and merges its answer.
	JobKindCollect JobKind = "collect"
	// JobKindRoundDeadline re-checks completion once the round's answers were due.
	JobKindRoundDeadline JobKind = "round_deadline"
	// JobKindWebhook delivers the downstream notification.
	JobKindWebhook JobKind = "webhook"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusRequeued   JobStatus = "requeued"
	JobStatusDone       JobStatus = "done"
	JobStatusDropped    JobStatus = "dropped"
)

// Job is the ledger entry for a logical unit of work. Re-enqueued copies keep
// the same ID so the ledger shows the whole retry history of one job.
type Job struct {
	ID           string
	Kind         JobKind
	CaseID       string
	Integration  Integration
	TaskID       string
	Status       JobStatus
	ErrorMessage string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID       string      `json:"job_id"`
	Kind        JobKind     `json:"kind"`
	CaseID      string      `json:"case_id"`
	Integration Integration `json:"integration"`
	TaskID      string      `json:"task_id,omitempty"`
	// Attempt counts earlier deliveries of this copy; clean copies restart at 0.
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
	NotBefore   time.Time `json:"not_before,omitempty"`
}

// Due reports whether the message may be delivered at now.
func (m QueueMessage) Due(now time.Time) bool {
	return m.NotBefore.IsZero() || !m.NotBefore.After(now)
}

// JobRequest asks for a new job; Delay holds delivery back.
type JobRequest struct {
	Kind        JobKind
	CaseID      string
	Integration Integration
	TaskID      string
	Delay       time.Duration
}
