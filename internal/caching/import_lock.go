package caching

import (
	"context"
	"errors"
	"strings"
	"time"

	"excelimages/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ImportLockKey guards against two imports running against the same database.
const ImportLockKey = "excel-images:import:lock"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another run is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type ImportLock struct {
	client lockClient
	closer func() error
	token  string
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisImportLock connects to the Redis instance described by cfg.
// A failed ping is logged but not fatal; Acquire reports the real error.
func NewRedisImportLock(cfg config.RedisConfig, log *zap.Logger) *ImportLock {
	// Accept redis://host:port as well as host:port
	addr := strings.TrimPrefix(strings.TrimPrefix(cfg.Addr, "redis://"), "rediss://")

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Warn("Redis ping failed", zap.String("addr", addr), zap.Error(err))
	}

	lock := newImportLock(client, time.Duration(cfg.LockTTLSeconds)*time.Second, log)
	lock.closer = client.Close
	return lock
}

func newImportLock(client lockClient, ttl time.Duration, log *zap.Logger) *ImportLock {
	return &ImportLock{
		client: client,
		token:  uuid.NewString(),
		ttl:    ttl,
		log:    log,
	}
}

// Acquire takes the lock. It returns false when another run holds it.
func (l *ImportLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, ImportLockKey, l.token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.log.Debug("Import lock acquired", zap.String("key", ImportLockKey), zap.Duration("ttl", l.ttl))
	}
	return ok, nil
}

// Release gives the lock back if this run still owns it.
func (l *ImportLock) Release(ctx context.Context) error {
	n, err := l.client.Eval(ctx, releaseScript, []string{ImportLockKey}, l.token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if n == 0 {
		l.log.Warn("Import lock was no longer held", zap.String("key", ImportLockKey))
	}
	return nil
}

func (l *ImportLock) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer()
}
