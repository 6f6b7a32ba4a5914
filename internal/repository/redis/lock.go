package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/domain"
	"github.com/querygate/querygate/internal/metrics"
	"github.com/querygate/querygate/internal/repository"
)

var _ repository.ResourceLock = (*resourceLock)(nil)

const lockKeyPrefix = "querygate:lock:"

// releaseScript deletes the lock key only if it still carries our owner
// token, so a lease that expired and was re-acquired elsewhere is never
// deleted by the previous owner.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only while our owner token still holds the key.
var refreshScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

type resourceLock struct {
	client *goredis.Client
	logger *zap.Logger

	mu   sync.Mutex
	held map[string]string // owner token -> resource key
}

// NewResourceLock creates a Redis-backed lease lock using SET NX PX with
// owner tokens and check-and-act Lua for refresh/release.
func NewResourceLock(client *goredis.Client, logger *zap.Logger) repository.ResourceLock {
	return &resourceLock{
		client: client,
		logger: logger,
		held:   make(map[string]string),
	}
}

func (l *resourceLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", domain.ErrLockBusy
	}

	l.mu.Lock()
	l.held[token] = key
	l.mu.Unlock()
	metrics.LocksHeld.Inc()

	l.logger.Info("Resource lock acquired",
		zap.String("resource_key", key),
		zap.Duration("ttl", ttl),
	)
	return token, nil
}

func (l *resourceLock) Refresh(ctx context.Context, token string, ttl time.Duration) error {
	key, ok := l.keyFor(token)
	if !ok {
		return domain.ErrLockExpired
	}

	n, err := refreshScript.Run(ctx, l.client, []string{lockKeyPrefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis: refresh lock %s: %w", key, err)
	}
	if n == 0 {
		return domain.ErrLockExpired
	}
	return nil
}

func (l *resourceLock) Release(ctx context.Context, token string) error {
	key, ok := l.keyFor(token)
	if !ok {
		return nil
	}

	_, err := releaseScript.Run(ctx, l.client, []string{lockKeyPrefix + key}, token).Int()

	// Drop the in-process record regardless: a failed delete still lapses by
	// TTL, and keeping the token would drift the gauge until shutdown.
	l.mu.Lock()
	delete(l.held, token)
	l.mu.Unlock()
	metrics.LocksHeld.Dec()

	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis: release lock %s: %w", key, err)
	}

	l.logger.Info("Resource lock released", zap.String("resource_key", key))
	return nil
}

func (l *resourceLock) ReleaseAll(ctx context.Context) error {
	l.mu.Lock()
	tokens := make([]string, 0, len(l.held))
	for token := range l.held {
		tokens = append(tokens, token)
	}
	l.mu.Unlock()

	var firstErr error
	for _, token := range tokens {
		if err := l.Release(ctx, token); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if len(tokens) > 0 {
		l.logger.Info("Force-released locks at shutdown", zap.Int("count", len(tokens)))
	}
	return firstErr
}

func (l *resourceLock) keyFor(token string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key, ok := l.held[token]
	return key, ok
}
