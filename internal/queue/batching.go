package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
}

// BatchProducer is implemented by backends that can write several messages in one round trip.
type BatchProducer interface {
	Producer
	EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error
}

// pendingWrite is one caller waiting for its message to be written.
type pendingWrite struct {
	ctx     context.Context
	message domain.QueueMessage
	done    chan error
}

// BatchingProducer collects the burst of jobs a submission round schedules
// (one collect job per task plus the round deadline) and writes them in as
// few round trips as possible. Within one window:
//   - copies of the same job attempt are written once;
//   - jobs that are already due go ahead of deferred ones;
//   - jobs of one case stay adjacent, in the order they were requested.
type BatchingProducer struct {
	base   Producer
	writer BatchProducer
	config BatchingConfig

	incoming   chan pendingWrite
	inFlight   chan struct{}
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	parentDone <-chan struct{}
	now        func() time.Time
}

func NewBatchingProducer(parent context.Context, base Producer, cfg BatchingConfig) *BatchingProducer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}

	p := &BatchingProducer{
		base:       base,
		config:     cfg,
		incoming:   make(chan pendingWrite, cfg.QueueCapacity),
		inFlight:   make(chan struct{}, cfg.MaxInFlightBatches),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		parentDone: parent.Done(),
		now:        time.Now,
	}
	if writer, ok := base.(BatchProducer); ok {
		p.writer = writer
	}

	go p.loop()
	return p
}

// Enqueue blocks until the window holding message has been written. It fails
// fast with ErrQueueBackpressure when the buffer is full.
func (p *BatchingProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrBatchingClosed
	default:
	}

	write := pendingWrite{ctx: ctx, message: message, done: make(chan error, 1)}
	select {
	case <-p.done:
		return ErrBatchingClosed
	case p.incoming <- write:
	default:
		select {
		case <-p.done:
			return ErrBatchingClosed
		default:
			return ErrQueueBackpressure
		}
	}

	select {
	case err := <-write.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		select {
		case err := <-write.done:
			return err
		default:
			return ErrBatchingClosed
		}
	}
}

// Close writes whatever is buffered and stops the producer.
func (p *BatchingProducer) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
}

func (p *BatchingProducer) loop() {
	defer close(p.done)

	window := make([]pendingWrite, 0, p.config.MaxBatchSize)
	var deadline <-chan time.Time
	var timer *time.Timer

	flush := func(final bool) {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		deadline = nil
		if len(window) == 0 {
			return
		}
		batch := window
		window = make([]pendingWrite, 0, p.config.MaxBatchSize)
		p.write(batch, final)
	}

	for {
		select {
		case <-p.parentDone:
			flush(true)
			p.drainIncoming()
			return
		case <-p.stop:
			flush(true)
			p.drainIncoming()
			return
		case <-deadline:
			flush(false)
		case write := <-p.incoming:
			if err := write.ctx.Err(); err != nil {
				write.done <- err
				continue
			}
			window = append(window, write)
			if len(window) == 1 {
				timer = time.NewTimer(p.config.FlushInterval)
				deadline = timer.C
			}
			if len(window) >= p.config.MaxBatchSize {
				flush(false)
			}
		}
	}
}

// drainIncoming rejects writes that arrived after shutdown began.
func (p *BatchingProducer) drainIncoming() {
	for {
		select {
		case write := <-p.incoming:
			write.done <- ErrBatchingClosed
		default:
			return
		}
	}
}

func (p *BatchingProducer) write(batch []pendingWrite, final bool) {
	live := make([]pendingWrite, 0, len(batch))
	for _, write := range batch {
		if err := write.ctx.Err(); err != nil {
			write.done <- err
			continue
		}
		live = append(live, write)
	}
	if len(live) == 0 {
		return
	}

	messages := p.order(live)

	ctx := context.Background()
	if !final {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.FlushTimeout)
		defer cancel()
	}

	select {
	case p.inFlight <- struct{}{}:
	case <-ctx.Done():
		for _, write := range live {
			write.done <- ctx.Err()
		}
		return
	}
	defer func() { <-p.inFlight }()

	err := p.send(ctx, messages)
	for _, write := range live {
		write.done <- err
	}
}

// order collapses duplicate job attempts and sorts the window: due before
// deferred, then by case, then by request time.
func (p *BatchingProducer) order(writes []pendingWrite) []domain.QueueMessage {
	type attemptKey struct {
		jobID   string
		attempt int
	}
	seen := make(map[attemptKey]struct{}, len(writes))
	messages := make([]domain.QueueMessage, 0, len(writes))
	for _, write := range writes {
		if write.message.JobID != "" {
			key := attemptKey{jobID: write.message.JobID, attempt: write.message.Attempt}
			if _, duplicate := seen[key]; duplicate {
				continue
			}
			seen[key] = struct{}{}
		}
		messages = append(messages, write.message)
	}

	now := p.now()
	sort.SliceStable(messages, func(i, j int) bool {
		left, right := messages[i], messages[j]
		if leftDue, rightDue := left.Due(now), right.Due(now); leftDue != rightDue {
			return leftDue
		}
		if left.CaseID != right.CaseID {
			return left.CaseID < right.CaseID
		}
		if left.Integration != right.Integration {
			return left.Integration < right.Integration
		}
		return left.RequestedAt.Before(right.RequestedAt)
	})
	return messages
}

func (p *BatchingProducer) send(ctx context.Context, messages []domain.QueueMessage) error {
	if p.writer != nil {
		return p.writer.EnqueueBatch(ctx, messages)
	}
	for _, message := range messages {
		if err := p.base.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}
