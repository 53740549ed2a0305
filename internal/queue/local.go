package queue

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

var ErrQueueClosed = errors.New("queue is closed")

// LocalQueue is the in-process queue used when Redis is not configured.
// Delayed messages wait on a timer and are lost on restart.
type LocalQueue struct {
	ch     chan domain.QueueMessage
	logger *log.Logger
	now    func() time.Time

	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	dlq     []DeadLetter
	delayed int
}

func NewLocalQueue(bufferSize int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &LocalQueue{
		ch:     make(chan domain.QueueMessage, bufferSize),
		logger: logger,
		now:    time.Now,
		closed: make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	if now := q.now(); !message.Due(now) {
		q.schedule(message, message.NotBefore.Sub(now))
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrQueueClosed
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	for _, message := range messages {
		if err := q.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) schedule(message domain.QueueMessage, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.delayed++
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.delayed--
		q.mu.Unlock()

		select {
		case <-q.closed:
		case q.ch <- message:
		}
	})
	q.timers[timer] = struct{}{}
}

func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return ErrQueueClosed
		case message := <-q.ch:
			if err := handler(ctx, message); err != nil {
				q.mu.Lock()
				q.dlq = append(q.dlq, DeadLetter{Message: message, Error: err.Error()})
				q.mu.Unlock()
				q.logger.Printf("local queue moved message to DLQ job_id=%s kind=%s err=%v", message.JobID, message.Kind, err)
			}
		}
	}
}

// Close stops pending timers and consumers. Undelivered messages are dropped.
func (q *LocalQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)
		q.mu.Lock()
		defer q.mu.Unlock()
		for timer := range q.timers {
			timer.Stop()
		}
		q.timers = make(map[*time.Timer]struct{})
		q.delayed = 0
	})
	return nil
}

func (q *LocalQueue) DLQSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq)
}

func (q *LocalQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dlq...)
}

// Delayed returns how many messages are waiting for their NotBefore.
func (q *LocalQueue) Delayed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delayed
}
