// Package distributedlock provides Redis-based locking for the collection
// store. Each collection update acquires a short-lived lock so concurrent
// engine instances serialize their read-modify-write cycles.
package distributedlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired means the lock is held by another owner. Callers
	// treat this as a retryable conflict.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld means a release or extend found the lock missing or
	// owned by a different token.
	ErrNotHeld = errors.New("lock not held or token mismatch")
)

// Locker manages locks for one Redis client. It tracks acquired locks so
// Close can release whatever is still held on shutdown.
type Locker struct {
	client *redis.Client
	mu     sync.Mutex
	held   map[string]*Lock
}

// Lock is one acquired lock. The token proves ownership on release.
type Lock struct {
	key       string
	token     string
	expiresAt time.Time
	renewStop chan struct{}
	stopOnce  sync.Once
}

func (l *Lock) Key() string          { return l.key }
func (l *Lock) Token() string        { return l.token }
func (l *Lock) ExpiresAt() time.Time { return l.expiresAt }

// Options tunes acquisition. The defaults suit collection updates: short
// critical sections with a bounded wait before reporting a conflict.
type Options struct {
	TTL           time.Duration
	WaitTimeout   time.Duration
	RetryInterval time.Duration
	AutoRenew     bool
	RenewInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:           10 * time.Second,
		WaitTimeout:   2 * time.Second,
		RetryInterval: 25 * time.Millisecond,
		AutoRenew:     false,
		RenewInterval: 3 * time.Second,
	}
}

// Release only deletes the key when the caller's token still owns it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

func NewLocker(client *redis.Client) *Locker {
	return &Locker{
		client: client,
		held:   make(map[string]*Lock),
	}
}

// TryLock attempts a single acquisition. Returns ErrNotAcquired when the
// lock is held elsewhere.
func (l *Locker) TryLock(ctx context.Context, key string, opts Options) (*Lock, error) {
	if l.client == nil {
		return nil, errors.New("redis client is nil")
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, opts.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, ErrNotAcquired
	}

	lock := &Lock{
		key:       key,
		token:     token,
		expiresAt: time.Now().Add(opts.TTL),
		renewStop: make(chan struct{}),
	}

	l.mu.Lock()
	l.held[key] = lock
	l.mu.Unlock()

	if opts.AutoRenew {
		go l.autoRenew(lock, opts)
	}
	return lock, nil
}

// Lock acquires with retries until WaitTimeout elapses.
func (l *Locker) Lock(ctx context.Context, key string, opts Options) (*Lock, error) {
	if opts.WaitTimeout <= 0 {
		return l.TryLock(ctx, key, opts)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(opts.RetryInterval)
	defer ticker.Stop()

	for {
		lock, err := l.TryLock(ctx, key, opts)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: wait timeout on %s", ErrNotAcquired, key)
		case <-ticker.C:
		}
	}
}

func (l *Locker) Unlock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return errors.New("lock is nil")
	}

	lock.stopOnce.Do(func() { close(lock.renewStop) })

	l.mu.Lock()
	delete(l.held, lock.key)
	l.mu.Unlock()

	released, err := l.client.Eval(ctx, releaseScript, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lock.key, err)
	}
	if released == 0 {
		return ErrNotHeld
	}
	return nil
}

// Extend pushes the expiry forward when the critical section runs long.
func (l *Locker) Extend(ctx context.Context, lock *Lock, ttl time.Duration) error {
	if lock == nil {
		return errors.New("lock is nil")
	}

	extended, err := l.client.Eval(ctx, extendScript, []string{lock.key}, lock.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", lock.key, err)
	}
	if extended == 0 {
		return ErrNotHeld
	}
	lock.expiresAt = time.Now().Add(ttl)
	return nil
}

func (l *Locker) IsLocked(ctx context.Context, key string) (bool, error) {
	exists, err := l.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

func (l *Locker) autoRenew(lock *Lock, opts Options) {
	ticker := time.NewTicker(opts.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.renewStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			// Lost locks stop renewing; the holder finds out on Unlock.
			if err := l.Extend(ctx, lock, opts.TTL); errors.Is(err, ErrNotHeld) {
				cancel()
				return
			}
			cancel()
		}
	}
}

// Close releases every lock still tracked. Called on engine shutdown.
func (l *Locker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, lock := range l.held {
		lock.stopOnce.Do(func() { close(lock.renewStop) })
		_, _ = l.client.Eval(ctx, releaseScript, []string{lock.key}, lock.token).Result()
	}
	l.held = make(map[string]*Lock)
	return nil
}
