// Package redislock implements thread locks on Redis for deployments that run
// several workers against one database.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/lock"
	"github.com/xiaot623/gogo/runplane/internal/retry"
)

const defaultPrefix = "runplane:lock:"

var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
if cur == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker stores one key per thread holding the owner token, expiring with the lease.
type Locker struct {
	client redis.UniversalClient
	prefix string
	retry  retry.Policy
}

var _ lock.Locker = (*Locker)(nil)

// Option configures a Locker.
type Option func(*Locker)

// WithPrefix namespaces lock keys.
func WithPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

// WithRetryPolicy sets how transient redis faults are retried.
func WithRetryPolicy(p retry.Policy) Option {
	return func(l *Locker) { l.retry = p }
}

// New returns a Locker using client.
func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{client: client, prefix: defaultPrefix, retry: retry.DefaultPolicy}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dial parses a redis:// URL and returns a Locker on a fresh client.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Locker, error) {
	o, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts...), nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}

func (l *Locker) key(threadID string) string {
	return l.prefix + threadID
}

func (l *Locker) Acquire(ctx context.Context, threadID, owner string, ttl time.Duration) error {
	n, err := l.eval(ctx, "acquire", acquireScript, threadID, owner, ttl.Milliseconds())
	if err != nil {
		return err
	}
	if n == 0 {
		return lock.ErrHeld
	}
	return nil
}

func (l *Locker) Renew(ctx context.Context, threadID, owner string, ttl time.Duration) error {
	n, err := l.eval(ctx, "renew", renewScript, threadID, owner, ttl.Milliseconds())
	if err != nil {
		return err
	}
	if n == 0 {
		return lock.ErrLost
	}
	return nil
}

func (l *Locker) Release(ctx context.Context, threadID, owner string) error {
	_, err := l.eval(ctx, "release", releaseScript, threadID, owner)
	return err
}

func (l *Locker) Holder(ctx context.Context, threadID string) (string, bool, error) {
	type holder struct {
		owner string
		held  bool
	}
	h, err := retry.DoValue(ctx, l.retry, "redis lock holder", func(ctx context.Context) (holder, error) {
		owner, err := l.client.Get(ctx, l.key(threadID)).Result()
		if errors.Is(err, redis.Nil) {
			return holder{}, nil
		}
		if err != nil {
			return holder{}, storageErr("holder", err)
		}
		return holder{owner, true}, nil
	})
	return h.owner, h.held, err
}

// eval runs a lock script against the thread's key, retrying transient faults.
func (l *Locker) eval(ctx context.Context, op string, script *redis.Script, threadID string, args ...any) (int, error) {
	return retry.DoValue(ctx, l.retry, "redis lock "+op, func(ctx context.Context) (int, error) {
		n, err := script.Run(ctx, l.client, []string{l.key(threadID)}, args...).Int()
		if err != nil {
			return 0, storageErr(op, err)
		}
		return n, nil
	})
}

func storageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("redis lock %s: %w", op, err)
	}
	return fmt.Errorf("redis lock %s: %w: %w", op, domain.ErrStorage, err)
}
