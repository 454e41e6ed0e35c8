package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotAcquired = errors.New("show lock not acquired")
	ErrNotOwned    = errors.New("show lock not owned")
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

const (
	DefaultLease      = 10 * time.Second
	DefaultRetryDelay = 25 * time.Millisecond
	releaseTimeout    = 2 * time.Second
)

// Redis is a SET NX lock per show shared by every instance.  The lease
// bounds how long a crashed holder can block the show.
type Redis struct {
	client     redis.UniversalClient
	lease      time.Duration
	retryDelay time.Duration
	log        *zap.Logger
	newValue   func() string
}

func NewRedis(client redis.UniversalClient, lease time.Duration, log *zap.Logger) *Redis {
	if lease <= 0 {
		lease = DefaultLease
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:     client,
		lease:      lease,
		retryDelay: DefaultRetryDelay,
		log:        log,
		newValue:   uuid.NewString,
	}
}

func showLockKey(showID uint64) string {
	return fmt.Sprintf("lock:show:%d", showID)
}

func (r *Redis) tryAcquire(ctx context.Context, key, value string) error {
	ok, err := r.client.SetNX(ctx, key, value, r.lease).Result()
	if err != nil {
		return fmt.Errorf("acquire show lock: %w", err)
	}
	if !ok {
		return ErrNotAcquired
	}
	return nil
}

// Lock retries until the lock is taken or ctx is done.
func (r *Redis) Lock(ctx context.Context, showID uint64) (func(), error) {
	key := showLockKey(showID)
	value := r.newValue()
	for {
		err := r.tryAcquire(ctx, key, value)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryDelay):
		}
	}

	return func() {
		// the caller's ctx may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := r.release(ctx, key, value); err != nil {
			r.log.Warn("show lock release failed", zap.Uint64("show_id", showID), zap.Error(err))
		}
	}, nil
}

func (r *Redis) release(ctx context.Context, key, value string) error {
	n, err := r.client.Eval(ctx, releaseScript, []string{key}, value).Int()
	if err != nil {
		return fmt.Errorf("release show lock: %w", err)
	}
	if n == 0 {
		return ErrNotOwned
	}
	return nil
}
