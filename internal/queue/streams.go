package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

type StreamsConfig struct {
	Stream    string
	DLQStream string
	// DelayedSet holds messages whose NotBefore is in the future, scored by due time.
	DelayedSet string
	Group      string
	Consumer   string
	Block      time.Duration
	// ClaimIdle reclaims entries left pending by a dead consumer after this long; zero disables it.
	ClaimIdle time.Duration
}

// StreamsQueue implements Producer and Consumer on Redis Streams with a
// sorted set for delayed delivery.
type StreamsQueue struct {
	client     redis.UniversalClient
	stream     string
	dlqStream  string
	delayedSet string
	group      string
	consumer   string
	block      time.Duration
	claimIdle  time.Duration
	logger     *log.Logger
	now        func() time.Time
}

func NewStreamsQueue(ctx context.Context, client redis.UniversalClient, cfg StreamsConfig, logger *log.Logger) (*StreamsQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "recognition_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.DelayedSet == "" {
		cfg.DelayedSet = cfg.Stream + "_delayed"
	}
	if cfg.Group == "" {
		cfg.Group = "recognition_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	queue := &StreamsQueue{
		client:     client,
		stream:     cfg.Stream,
		dlqStream:  cfg.DLQStream,
		delayedSet: cfg.DelayedSet,
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		block:      cfg.Block,
		claimIdle:  cfg.ClaimIdle,
		logger:     logger,
		now:        time.Now,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	return q.EnqueueBatch(ctx, []domain.QueueMessage{message})
}

func (q *StreamsQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	if len(messages) == 0 {
		return nil
	}

	now := q.now()
	pipeline := q.client.Pipeline()
	for _, message := range messages {
		if !message.Due(now) {
			member, err := encodeDelayed(message)
			if err != nil {
				return err
			}
			pipeline.ZAdd(ctx, q.delayedSet, redis.Z{
				Score:  float64(message.NotBefore.UnixMilli()),
				Member: member,
			})
			continue
		}
		pipeline.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: streamValues(message)})
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := q.PromoteDue(ctx); err != nil && ctx.Err() == nil {
			q.logger.Printf("delayed promotion failed stream=%s err=%v", q.stream, err)
		}
		if q.claimIdle > 0 {
			q.reclaim(ctx, handler)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.deliver(ctx, item, handler)
			}
		}
	}
}

func (q *StreamsQueue) deliver(ctx context.Context, item redis.XMessage, handler Handler) {
	message, parseErr := parseStreamMessage(item)
	if parseErr != nil {
		q.deadLetter(ctx, domain.QueueMessage{}, item.ID, parseErr.Error())
		q.ackAndDelete(ctx, item.ID)
		return
	}

	if handleErr := handler(ctx, message); handleErr != nil {
		q.deadLetter(ctx, message, item.ID, handleErr.Error())
	}
	q.ackAndDelete(ctx, item.ID)
}

// PromoteDue moves delayed messages whose time has come onto the stream. The
// ZREM claim makes each message move once even with several consumers.
func (q *StreamsQueue) PromoteDue(ctx context.Context) (int, error) {
	members, err := q.client.ZRangeByScore(ctx, q.delayedSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read delayed set: %w", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.delayedSet, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim delayed message: %w", err)
		}
		if removed == 0 {
			continue
		}

		message, err := decodeDelayed(member)
		if err != nil {
			q.deadLetter(ctx, domain.QueueMessage{}, "", err.Error())
			continue
		}
		if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: streamValues(message)}).Err(); err != nil {
			// put it back so it is not lost
			score := float64(message.NotBefore.UnixMilli())
			if restoreErr := q.client.ZAdd(ctx, q.delayedSet, redis.Z{Score: score, Member: member}).Err(); restoreErr != nil {
				q.logger.Printf("delayed message lost job_id=%s err=%v", message.JobID, restoreErr)
			}
			return promoted, fmt.Errorf("promote delayed message: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

func (q *StreamsQueue) reclaim(ctx context.Context, handler Handler) {
	messages, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Printf("reclaim pending failed stream=%s err=%v", q.stream, err)
		}
		return
	}
	for _, item := range messages {
		q.logger.Printf("reclaimed idle message stream_id=%s", item.ID)
		q.deliver(ctx, item, handler)
	}
}

// DLQSize reports how many messages sit in the dead-letter stream.
func (q *StreamsQueue) DLQSize(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.dlqStream).Result()
}

// Delayed reports how many messages are waiting for their NotBefore.
func (q *StreamsQueue) Delayed(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedSet).Result()
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) {
	ctx = context.WithoutCancel(ctx)
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		q.logger.Printf("xack failed stream_id=%s err=%v", streamID, err)
		return
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		q.logger.Printf("xdel failed stream_id=%s err=%v", streamID, err)
	}
}

func (q *StreamsQueue) deadLetter(ctx context.Context, message domain.QueueMessage, streamID, errorMessage string) {
	values := streamValues(message)
	values["stream_id"] = streamID
	values["error"] = errorMessage
	values["moved_at"] = q.now().UTC().Format(time.RFC3339Nano)
	if err := q.client.XAdd(context.WithoutCancel(ctx), &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Err(); err != nil {
		q.logger.Printf("send to dlq failed job_id=%s err=%v", message.JobID, err)
		return
	}
	q.logger.Printf("stream queue moved message to DLQ job_id=%s kind=%s err=%s", message.JobID, message.Kind, errorMessage)
}

func streamValues(message domain.QueueMessage) map[string]any {
	notBefore := ""
	if !message.NotBefore.IsZero() {
		notBefore = message.NotBefore.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"job_id":       message.JobID,
		"kind":         string(message.Kind),
		"case_id":      message.CaseID,
		"integration":  string(message.Integration),
		"task_id":      message.TaskID,
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.UTC().Format(time.RFC3339Nano),
		"not_before":   notBefore,
	}
}

func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	var message domain.QueueMessage
	var err error
	if message.JobID, err = getString("job_id"); err != nil {
		return domain.QueueMessage{}, err
	}
	kind, err := getString("kind")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	message.Kind = domain.JobKind(kind)
	if message.CaseID, err = getString("case_id"); err != nil {
		return domain.QueueMessage{}, err
	}
	integration, err := getString("integration")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	message.Integration = domain.Integration(integration)
	// task_id is empty for round-level jobs
	message.TaskID, _ = getString("task_id")

	attemptString, err := getString("attempt")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	if message.Attempt, err = strconv.Atoi(attemptString); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	if message.RequestedAt, err = time.Parse(time.RFC3339Nano, requestedAtString); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	if notBefore, _ := getString("not_before"); notBefore != "" {
		if message.NotBefore, err = time.Parse(time.RFC3339Nano, notBefore); err != nil {
			return domain.QueueMessage{}, fmt.Errorf("invalid not_before: %w", err)
		}
	}
	return message, nil
}
