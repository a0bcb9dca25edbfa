package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/logging"
)

// Lease is a held lock.
type Lease interface {
	// Release releases the lock. Releasing a lease that is no longer held
	// (e.g. expired and taken over by an other owner) is a no-op.
	Release(ctx context.Context) error
}

// Locker provides mutual exclusion per key.
type Locker interface {
	// Lock blocks until the lock for the given key is acquired, the context
	// is cancelled or the locker specific timeout expires.
	Lock(ctx context.Context, key string) (Lease, error)
}

// LocalLocker implements an in-process Locker.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a new LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		locks: make(map[string]*localLock),
	}
}

// Lock acquires the lock for the given key.
func (l *LocalLocker) Lock(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return &localLease{locker: l, key: key, lock: lock}, nil
	case <-ctx.Done():
		l.unref(key, lock)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) unref(key string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}

type localLease struct {
	once   sync.Once
	locker *LocalLocker
	key    string
	lock   *localLock
}

func (l *localLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		<-l.lock.ch
		l.locker.unref(l.key, l.lock)
	})
	return nil
}

// releaseScript deletes the lock key only when it is still owned by the
// caller.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLockerOptions holds the RedisLocker options.
type RedisLockerOptions struct {
	// InstanceID is used as prefix of the lease owner token.
	InstanceID string

	// TTL of the lease. The lease expires when the holder does not release
	// it within this duration.
	TTL time.Duration

	// PollInterval defines the interval between acquire attempts.
	PollInterval time.Duration

	// Timeout defines the max duration to wait for the lease.
	Timeout time.Duration
}

// RedisLocker implements a distributed Locker using Redis leases.
type RedisLocker struct {
	client redis.UniversalClient
	opts   RedisLockerOptions
}

func (o RedisLockerOptions) withDefaults() RedisLockerOptions {
	if o.TTL == 0 {
		o.TTL = 10 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 20 * time.Millisecond
	}
	if o.Timeout == 0 {
		o.Timeout = 5 * time.Second
	}
	return o
}

// Validate returns ErrInvalidLockTimeout when the Timeout is not shorter than
// the TTL. The ADR table lease is held while waiting for the frame-counter
// lock and must not expire during that wait.
func (o RedisLockerOptions) Validate() error {
	o = o.withDefaults()
	if o.Timeout >= o.TTL {
		return ErrInvalidLockTimeout
	}
	return nil
}

// NewRedisLocker creates a new RedisLocker.
func NewRedisLocker(client redis.UniversalClient, opts RedisLockerOptions) *RedisLocker {
	return &RedisLocker{
		client: client,
		opts:   opts.withDefaults(),
	}
}

// Lock acquires the lease for the given key. ErrLockTimeout is returned when
// the lease could not be acquired within the configured timeout.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Lease, error) {
	start := time.Now()

	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "new uuid error")
	}
	token := fmt.Sprintf("%s:%s", l.opts.InstanceID, id)

	timeout := time.NewTimer(l.opts.Timeout)
	defer timeout.Stop()

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return nil, errors.Wrap(err, "acquire lock error")
		}
		if ok {
			lockAcquireDuration.Observe(time.Since(start).Seconds())
			return &redisLease{client: l.client, key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			lockTimeoutCounter.Inc()
			log.WithFields(log.Fields{
				"key":    key,
				"ctx_id": ctx.Value(logging.ContextIDKey),
			}).Warning("storage: lock acquire timeout")
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, "release lock error")
	}
	return nil
}
