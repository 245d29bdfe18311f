// Package lock provides short-lived mutual exclusion keyed by string, backed
// by Redis for multi-instance deployments or by process memory.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when a lock could not be obtained within the retry budget.
var ErrBusy = errors.New("lock: resource busy")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Options tunes lock acquisition.
type Options struct {
	TTL        time.Duration
	RetryEvery time.Duration
	RetryLimit int
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.RetryEvery <= 0 {
		o.RetryEvery = 50 * time.Millisecond
	}
	if o.RetryLimit < 0 {
		o.RetryLimit = 0
	}
	return o
}

// Redis obtains locks through redislock.
type Redis struct {
	client *redislock.Client
	opts   Options
}

// NewRedis constructs a Redis backed locker.
func NewRedis(client *redis.Client, opts Options) *Redis {
	return &Redis{client: redislock.New(client), opts: opts.withDefaults()}
}

// Obtain acquires key, retrying with linear backoff.
func (r *Redis) Obtain(ctx context.Context, key string) (Lease, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("lock: redis locker not initialised")
	}
	strategy := redislock.LimitRetry(redislock.LinearBackoff(r.opts.RetryEvery), r.opts.RetryLimit)
	l, err := r.client.Obtain(ctx, key, r.opts.TTL, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
	}
	return redisLease{lock: l}, nil
}

type redisLease struct {
	lock *redislock.Lock
}

func (l redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// TTL elapsed; another holder may already own the key.
		return nil
	}
	return err
}

// Local obtains locks from an in-process table. Suitable for single-instance
// deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	opts Options
}

// NewLocal constructs an in-process locker.
func NewLocal(opts Options) *Local {
	return &Local{held: make(map[string]chan struct{}), opts: opts.withDefaults()}
}

// Obtain acquires key, waiting up to RetryLimit*RetryEvery for a holder to release.
func (l *Local) Obtain(ctx context.Context, key string) (Lease, error) {
	deadline := time.Duration(l.opts.RetryLimit+1) * l.opts.RetryEvery
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return &localLease{owner: l, key: key}, nil
		}
		l.mu.Unlock()
		select {
		case <-wait:
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s", ErrBusy, key)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type localLease struct {
	owner *Local
	key   string
	once  sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		if ch, ok := l.owner.held[l.key]; ok {
			delete(l.owner.held, l.key)
			close(ch)
		}
		l.owner.mu.Unlock()
	})
	return nil
}
