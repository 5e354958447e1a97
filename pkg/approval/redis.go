package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces approval keys in Redis.
const DefaultKeyPrefix = "arbiter:approval:"

const maxUpdateRetries = 5

// RedisStore keeps requests as JSON strings with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps client. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Create(ctx context.Context, req *Request, ttl time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode approval request: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(req.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store approval request: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: id %s already exists", ErrInvalidRequest, req.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Request, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}
	return decode(data)
}

// Update uses WATCH so concurrent resolutions of the same request cannot
// both succeed.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error) {
	key := s.key(id)
	var result *Request

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		req, err := decode(data)
		if err != nil {
			return err
		}
		if err := fn(req); err != nil {
			return err
		}
		encoded, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to encode approval request: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, redis.KeepTTL)
			return nil
		})
		if err == nil {
			result = req
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("approval request %s: too many concurrent updates", id)
}

func decode(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode approval request: %w", err)
	}
	return &req, nil
}
