package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "otp:attempt:"

// maxTxRetries bounds optimistic retry under contention
const maxTxRetries = 10

// RedisRepository implements Repository on Redis. Updates run inside a
// WATCH transaction so two concurrent verifications cannot both read the
// same counter value and lose an increment.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository creates a new Redis-backed attempt repository. ttl
// bounds how long idle counter records live; it should exceed the longer
// of the tracking window and the block duration.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{
		client: client,
		ttl:    ttl,
	}
}

func redisKey(userID uuid.UUID) string {
	return redisKeyPrefix + userID.String()
}

// Get returns the stored counters, zero-valued if none exist
func (r *RedisRepository) Get(ctx context.Context, userID uuid.UUID) (Counters, error) {
	data, err := r.client.Get(ctx, redisKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Counters{}, nil
		}
		return Counters{}, fmt.Errorf("failed to get counters: %w", err)
	}

	var counters Counters
	if err := json.Unmarshal(data, &counters); err != nil {
		return Counters{}, fmt.Errorf("failed to unmarshal counters: %w", err)
	}
	return counters, nil
}

// Update atomically transforms the stored counters using WATCH
func (r *RedisRepository) Update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (Counters, error) {
	key := redisKey(userID)

	var result Counters
	txf := func(tx *redis.Tx) error {
		var counters Counters
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if err := json.Unmarshal(data, &counters); err != nil {
				return fmt.Errorf("failed to unmarshal counters: %w", err)
			}
		}

		result = fn(counters)

		updated, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal counters: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Counters{}, fmt.Errorf("failed to update counters: %w", err)
	}

	return Counters{}, fmt.Errorf("failed to update counters: too much contention on %s", key)
}

// Delete removes the stored counters
func (r *RedisRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.Del(ctx, redisKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete counters: %w", err)
	}
	return nil
}
