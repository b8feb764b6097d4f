package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingValue = "pending"
	donePrefix   = "done:"
	keyPrefix    = "intake:ledger:"
)

// RedisConfig controls the ledger's redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var releaseScript = redis.NewScript(`
-- KEYS[1] = ledger key
-- ARGV[1] = pending marker
-- Deletes the key only while it is still pending.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a Ledger shared by every replica. Claims expire after claimTTL so a
// crashed worker does not block a message forever; results are kept for ttl.
type Redis struct {
	rdb          *redis.Client
	ttl          time.Duration
	claimTTL     time.Duration
	pollInterval time.Duration
}

func NewRedis(rdb *redis.Client, ttl, claimTTL time.Duration) *Redis {
	if claimTTL <= 0 {
		claimTTL = 2 * time.Minute
	}
	return &Redis{
		rdb:          rdb,
		ttl:          ttl,
		claimTTL:     claimTTL,
		pollInterval: 100 * time.Millisecond,
	}
}

func (r *Redis) key(k string) string {
	return keyPrefix + k
}

func (r *Redis) Claim(ctx context.Context, key string) (bool, []byte, error) {
	// Two attempts cover a claim that expires between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.rdb.SetNX(ctx, r.key(key), pendingValue, r.claimTTL).Result()
		if err != nil {
			return false, nil, fmt.Errorf("ledger claim: %w", err)
		}
		if ok {
			return true, nil, nil
		}

		val, err := r.rdb.Get(ctx, r.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("ledger read: %w", err)
		}
		if result, done := strings.CutPrefix(val, donePrefix); done {
			return false, []byte(result), nil
		}
		return false, nil, ErrInFlight
	}
	return false, nil, ErrInFlight
}

func (r *Redis) Complete(ctx context.Context, key string, result []byte) error {
	if err := r.rdb.Set(ctx, r.key(key), donePrefix+string(result), r.ttl).Err(); err != nil {
		return fmt.Errorf("ledger complete: %w", err)
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{r.key(key)}, pendingValue).Err(); err != nil {
		return fmt.Errorf("ledger release: %w", err)
	}
	return nil
}

func (r *Redis) Wait(ctx context.Context, key string) ([]byte, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		val, err := r.rdb.Get(ctx, r.key(key)).Result()
		switch {
		case errors.Is(err, redis.Nil):
			return nil, ErrReleased
		case err != nil:
			return nil, fmt.Errorf("ledger read: %w", err)
		}
		if result, done := strings.CutPrefix(val, donePrefix); done {
			return []byte(result), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
