// Package platform opens the backing services selected by configuration and
// falls back to in-process implementations when one is not configured.
package platform

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iago/recognition-orchestrator/internal/config"
	"github.com/iago/recognition-orchestrator/internal/coord"
	"github.com/iago/recognition-orchestrator/internal/queue"
	"github.com/iago/recognition-orchestrator/internal/repository"
)

type Stores struct {
	Cases repository.CaseStore
	Jobs  repository.JobsRepository
	// Postgres is nil when the in-memory stores are used.
	Postgres *repository.Postgres
	Close    func()
}

// OpenStores connects to Postgres when DATABASE_URL is set. A failed
// connection falls back to memory unless required is true.
func OpenStores(ctx context.Context, cfg config.Config, required bool, logger *log.Logger) (Stores, error) {
	memory := func() Stores {
		return Stores{
			Cases: repository.NewMemoryCaseStore(),
			Jobs:  repository.NewMemoryJobsRepository(),
			Close: func() {},
		}
	}
	if cfg.DatabaseURL == "" {
		if required {
			return Stores{}, fmt.Errorf("DATABASE_URL is required")
		}
		logger.Printf("DATABASE_URL not configured, using in-memory stores")
		return memory(), nil
	}

	pg, err := repository.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		if required {
			return Stores{}, err
		}
		logger.Printf("failed to initialize postgres, fallback to memory: %v", err)
		return memory(), nil
	}
	logger.Printf("postgres stores initialized")
	return Stores{Cases: pg, Jobs: pg, Postgres: pg, Close: pg.Close}, nil
}

// OpenRedis returns nil without error when REDIS_ADDR is empty.
func OpenRedis(ctx context.Context, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

type Queue struct {
	Producer queue.Producer
	Consumer queue.Consumer
	Backend  string
	Close    func()
}

// OpenQueue uses Redis Streams when client is set and the in-process queue
// otherwise. Producers are wrapped in the batching producer when enabled.
func OpenQueue(ctx context.Context, cfg config.Config, client redis.UniversalClient, logger *log.Logger) Queue {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		backend      = "local"
		baseCloser   = func() {}
	)

	local := func() {
		q := queue.NewLocalQueue(512, logger)
		baseProducer = q
		consumer = q
		baseCloser = func() { _ = q.Close() }
	}

	if client == nil {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local()
	} else {
		streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
			Stream:     cfg.RedisStream,
			DLQStream:  cfg.RedisDLQ,
			DelayedSet: cfg.RedisDelayedSet,
			Group:      cfg.RedisGroup,
			Consumer:   cfg.RedisConsumer,
			ClaimIdle:  cfg.JobTimeout() + time.Minute,
		}, logger)
		if err != nil {
			logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
			local()
		} else {
			logger.Printf("redis streams queue initialized stream=%s group=%s", cfg.RedisStream, cfg.RedisGroup)
			baseProducer = streams
			consumer = streams
			backend = "redis"
		}
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		producer = batching
		batchingCloser = batching.Close
		logger.Printf(
			"queue batching enabled size=%d flush_ms=%d queue_capacity=%d max_in_flight=%d",
			cfg.QueueBatchSize,
			cfg.QueueBatchFlushMS,
			cfg.QueueBatchQueueCapacity,
			cfg.QueueBatchMaxInFlight,
		)
	}

	return Queue{
		Producer: producer,
		Consumer: consumer,
		Backend:  backend,
		Close: func() {
			batchingCloser()
			baseCloser()
		},
	}
}

type Coordination struct {
	Gate    coord.Gate
	Locker  coord.Locker
	Backend string
}

// OpenCoordination builds the admission gate and lock for the configured
// backend. The memory backend only coordinates workers of this process.
func OpenCoordination(cfg config.Config, client redis.UniversalClient, logger *log.Logger) (Coordination, error) {
	backend := cfg.ResolvedCoordBackend()
	switch backend {
	case "redis":
		if client == nil {
			logger.Printf("COORD_BACKEND=redis without a reachable redis, using in-process coordination")
			break
		}
		redisCfg := coord.RedisConfig{Prefix: cfg.RedisKeyPrefix}
		return Coordination{
			Gate:    coord.NewRedisGate(client, redisCfg),
			Locker:  coord.NewRedisLocker(client, redisCfg),
			Backend: backend,
		}, nil
	case "file":
		gate, err := coord.NewFileGate(cfg.CoordLockDir)
		if err != nil {
			return Coordination{}, err
		}
		locker, err := coord.NewFileLocker(cfg.CoordLockDir)
		if err != nil {
			return Coordination{}, err
		}
		return Coordination{Gate: gate, Locker: locker, Backend: backend}, nil
	}
	return Coordination{Gate: coord.NewMemoryGate(), Locker: coord.NewMemoryLocker(), Backend: "memory"}, nil
}
