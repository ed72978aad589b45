package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"deedgate/internal/onboarding/models"
	id "deedgate/pkg/domain"
	"deedgate/pkg/platform/sentinel"
)

var executeRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "deedgate_user_store_execute_retries_total",
	Help: "Optimistic transaction retries on the Redis user store.",
})

const (
	userKeyPrefix = "onboarding:user:"

	// maxExecuteAttempts bounds WATCH retries before surfacing a conflict.
	maxExecuteAttempts = 5
)

// RedisStore persists user onboarding records as JSON values. WATCH-based
// optimistic transactions give Execute the same conflict semantics as the
// Postgres row lock.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed user store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(principal id.Principal) string {
	return userKeyPrefix + strings.ToLower(principal.String())
}

func (s *RedisStore) Create(ctx context.Context, record *models.UserOnboarding) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode user record: %w", err)
	}
	// Records have no TTL; verification expiry is derived at read time.
	ok, err := s.client.SetNX(ctx, redisKey(record.Principal), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("store user record: %w", err)
	}
	if !ok {
		return sentinel.ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) FindByPrincipal(ctx context.Context, principal id.Principal) (*models.UserOnboarding, error) {
	payload, err := s.client.Get(ctx, redisKey(principal)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user record: %w", err)
	}
	return decodeUser(payload)
}

// Execute loads the record under WATCH, applies validate and mutate, and
// writes back in a transaction. A concurrent write aborts the transaction; a
// handful of retries absorbs unrelated interleavings before the caller sees
// sentinel.ErrConflict.
func (s *RedisStore) Execute(ctx context.Context, principal id.Principal,
	validate func(*models.UserOnboarding) error,
	mutate func(*models.UserOnboarding)) (*models.UserOnboarding, error) {

	key := redisKey(principal)
	var result *models.UserOnboarding

	txn := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load user record: %w", err)
		}
		record, err := decodeUser(payload)
		if err != nil {
			return err
		}
		if err := validate(record); err != nil {
			return err
		}

		prevUpdated := record.UpdatedAt
		mutate(record)
		record.Version++
		if !record.UpdatedAt.After(prevUpdated) {
			record.UpdatedAt = prevUpdated.Add(time.Nanosecond)
		}

		updated, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode user record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = record
		return nil
	}

	for attempt := 0; attempt < maxExecuteAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			executeRetries.Inc()
			continue
		}
		return nil, err
	}
	return nil, sentinel.ErrConflict
}

func decodeUser(payload []byte) (*models.UserOnboarding, error) {
	var record models.UserOnboarding
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode user record: %w", err)
	}
	return &record, nil
}
