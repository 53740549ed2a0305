package coord

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

// gateAcquireScript drops expired slots, then claims one if the class still has room.
var gateAcquireScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < tonumber(ARGV[5]) then
		redis.call('PEXPIRE', KEYS[1], ARGV[5])
	end
	return 1
end
return 0
`)

// lockReleaseScript deletes the lock only while it still carries our token.
var lockReleaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisConfig struct {
	Prefix       string
	PollInterval time.Duration
}

// RedisGate keeps one sorted set per task class; members are lease tokens
// scored by their expiry in unix milliseconds.
type RedisGate struct {
	client       redis.UniversalClient
	prefix       string
	pollInterval time.Duration
}

func NewRedisGate(client redis.UniversalClient, cfg RedisConfig) *RedisGate {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &RedisGate{client: client, prefix: cfg.Prefix, pollInterval: cfg.PollInterval}
}

func (g *RedisGate) Acquire(ctx context.Context, class string, opts GateOptions) (Lease, error) {
	opts = opts.normalized()
	key := g.prefix + "gate:" + class
	token := uuid.NewString()

	ok, err := retryUntil(ctx, opts.Wait, g.pollInterval, func() (bool, error) {
		now := time.Now()
		claimed, err := gateAcquireScript.Run(ctx, g.client, []string{key},
			now.UnixMilli(),
			now.Add(opts.TTL).UnixMilli(),
			opts.Capacity,
			token,
			opts.TTL.Milliseconds(),
		).Int()
		if err != nil {
			return false, fmt.Errorf("acquire gate slot %s: %w", class, err)
		}
		return claimed == 1, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrGateUnavailable
	}
	return &redisGateLease{client: g.client, key: key, token: token}, nil
}

// InUse reports the number of live slots for class. Intended for diagnostics and tests.
func (g *RedisGate) InUse(ctx context.Context, class string) (int64, error) {
	key := g.prefix + "gate:" + class
	return g.client.ZCount(ctx, key, strconv.FormatInt(time.Now().UnixMilli(), 10), "+inf").Result()
}

type redisGateLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisGateLease) Release(ctx context.Context) error {
	releaseCtx, cancel := releaseContext(ctx)
	defer cancel()
	if err := l.client.ZRem(releaseCtx, l.key, l.token).Err(); err != nil {
		return fmt.Errorf("release gate slot: %w", err)
	}
	return nil
}

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client       redis.UniversalClient
	prefix       string
	pollInterval time.Duration
}

func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig) *RedisLocker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &RedisLocker{client: client, prefix: cfg.Prefix, pollInterval: cfg.PollInterval}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, opts LockOptions) (Lease, error) {
	opts = opts.normalized()
	redisKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ok, err := retryUntil(ctx, opts.Wait, l.pollInterval, func() (bool, error) {
		acquired, err := l.client.SetNX(ctx, redisKey, token, opts.TTL).Result()
		if err != nil {
			return false, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		return acquired, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrLockUnavailable
	}
	return &redisLockLease{client: l.client, key: redisKey, token: token}, nil
}

type redisLockLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLockLease) Release(ctx context.Context) error {
	releaseCtx, cancel := releaseContext(ctx)
	defer cancel()
	if err := lockReleaseScript.Run(releaseCtx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
