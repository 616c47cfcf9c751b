package locks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/assay/pkg/lifecycle"
)

// releaseScript deletes the key only while it still holds the caller's token,
// so an expired lock re-acquired by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedis creates a lock system backed by Redis SET NX PX.
// The client connects lazily; Start verifies connectivity.
func NewRedis(cfg *Config, logger *slog.Logger) (System, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return &redisLocker{
		client: redis.NewClient(opts),
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTLDuration(),
		retry:  cfg.RetryIntervalDuration(),
		logger: logger.With("system", "locks"),
	}, nil
}

func (r *redisLocker) Start(lc *lifecycle.Coordinator) error {
	r.logger.Info("starting redis lock backend")

	lc.OnStartup(func() {
		if err := r.client.Ping(lc.Context()).Err(); err != nil {
			r.logger.Error("redis ping failed", "error", err)
			return
		}
		r.logger.Info("redis lock backend ready")
	})

	lc.OnClose(func() {
		if err := r.client.Close(); err != nil {
			r.logger.Error("redis close failed", "error", err)
			return
		}
		r.logger.Info("redis lock backend closed")
	})

	return nil
}

func (r *redisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	k := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), r.ttl)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{k}, token).Err(); err != nil {
				r.logger.Warn("lock release failed", "key", k, "error", err)
			}
		})
	}, nil
}
