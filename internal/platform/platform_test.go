package platform

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/iago/recognition-orchestrator/internal/config"
	"github.com/iago/recognition-orchestrator/internal/coord"
	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/queue"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestOpenFallsBackToInProcessBackends(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{CoordBackend: "redis"}

	stores, err := OpenStores(ctx, cfg, false, testLogger())
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	defer stores.Close()
	if stores.Postgres != nil {
		t.Fatalf("expected memory stores without DATABASE_URL")
	}
	if _, err := OpenStores(ctx, cfg, true, testLogger()); err == nil {
		t.Fatalf("expected required stores to fail without DATABASE_URL")
	}

	q := OpenQueue(ctx, cfg, nil, testLogger())
	defer q.Close()
	if q.Backend != "local" {
		t.Fatalf("expected local queue, got %s", q.Backend)
	}

	coordination, err := OpenCoordination(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("open coordination: %v", err)
	}
	if coordination.Backend != "memory" {
		t.Fatalf("expected memory coordination without redis, got %s", coordination.Backend)
	}
}

func TestOpenRedisBackedQueueAndCoordination(t *testing.T) {
	server := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Config{
		RedisAddr:       server.Addr(),
		RedisStream:     "jobs",
		RedisDLQ:        "jobs_dlq",
		RedisDelayedSet: "jobs_delayed",
		RedisGroup:      "workers",
		RedisConsumer:   "worker-1",
		RedisKeyPrefix:  "test:",
	}
	client, err := OpenRedis(ctx, cfg)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer client.Close()

	q := OpenQueue(ctx, cfg, client, testLogger())
	defer q.Close()
	if q.Backend != "redis" {
		t.Fatalf("expected redis queue, got %s", q.Backend)
	}
	if _, ok := q.Consumer.(*queue.StreamsQueue); !ok {
		t.Fatalf("expected streams consumer, got %T", q.Consumer)
	}
	if err := q.Producer.Enqueue(ctx, domain.QueueMessage{JobID: "job-1", Kind: domain.JobKindRecognize, CaseID: "case-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	coordination, err := OpenCoordination(cfg, client, testLogger())
	if err != nil {
		t.Fatalf("open coordination: %v", err)
	}
	if coordination.Backend != "redis" {
		t.Fatalf("expected redis coordination, got %s", coordination.Backend)
	}
	lease, err := coordination.Locker.Acquire(ctx, "case-1", coord.LockOptions{TTL: time.Minute})
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release lock: %v", err)
	}
}

func TestOpenFileCoordination(t *testing.T) {
	cfg := config.Config{CoordBackend: "file", CoordLockDir: t.TempDir()}
	coordination, err := OpenCoordination(cfg, nil, testLogger())
	if err != nil {
		t.Fatalf("open coordination: %v", err)
	}
	if coordination.Backend != "file" {
		t.Fatalf("expected file coordination, got %s", coordination.Backend)
	}
}
