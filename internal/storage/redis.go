package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/services/distributedlock"
)

// RedisStore keeps each collection in one Redis key and serializes
// updates with a token lock per collection. Lock starvation surfaces as a
// StorageConflict so the facade's retry loop can back off.
type RedisStore struct {
	client *redis.Client
	locker *distributedlock.Locker
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "max"
	}
	return &RedisStore{
		client: client,
		locker: distributedlock.NewLocker(client),
		prefix: prefix,
	}
}

func (s *RedisStore) dataKey(col Collection) string {
	return fmt.Sprintf("%s:collection:%s", s.prefix, col)
}

func (s *RedisStore) lockKey(col Collection) string {
	return fmt.Sprintf("%s:lock:%s", s.prefix, col)
}

func (s *RedisStore) ReadCollection(ctx context.Context, col Collection) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.dataKey(col)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", col, err)
	}
	return raw, nil
}

func (s *RedisStore) UpdateCollection(ctx context.Context, col Collection, fn MutateFunc) error {
	lock, err := s.locker.Lock(ctx, s.lockKey(col), distributedlock.DefaultOptions())
	if err != nil {
		if errors.Is(err, distributedlock.ErrNotAcquired) {
			return apperrors.StorageConflict(fmt.Sprintf("collection %s locked", col), err)
		}
		return fmt.Errorf("lock collection %s: %w", col, err)
	}
	defer func() { _ = s.locker.Unlock(context.WithoutCancel(ctx), lock) }()

	current, err := s.ReadCollection(ctx, col)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.dataKey(col), next, 0).Err(); err != nil {
		return fmt.Errorf("write collection %s: %w", col, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases held locks. The Redis client is shared with pub/sub and
// the job queue, so its owner closes it.
func (s *RedisStore) Close() error {
	return s.locker.Close()
}
