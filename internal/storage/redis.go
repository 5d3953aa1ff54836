package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/shohag/risebridge/internal/models"
)

const redisKeyPrefix = "risebridge:installation:"

// RedisStore keeps each installation as a JSON value under its own key.
type RedisStore struct {
	client redis.UniversalClient
}

var _ InstallationStore = (*RedisStore)(nil)

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(instanceID string) string {
	return redisKeyPrefix + instanceID
}

func (s *RedisStore) Put(ctx context.Context, inst *models.Installation) error {
	payload, err := models.EncodeInstallation(inst)
	if err != nil {
		return fmt.Errorf("marshal installation: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(inst.InstanceID), payload, 0).Err(); err != nil {
		return fmt.Errorf("persist installation: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, instanceID string) (*models.Installation, error) {
	data, err := s.client.Get(ctx, redisKey(instanceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load installation: %w", err)
	}
	inst, err := models.DecodeInstallation(data)
	if err != nil {
		return nil, fmt.Errorf("decode installation: %w", err)
	}
	return inst, nil
}

func (s *RedisStore) Delete(ctx context.Context, instanceID string) error {
	if err := s.client.Del(ctx, redisKey(instanceID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete installation: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]models.Installation, error) {
	var installations []models.Installation

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // removed between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("load installation: %w", err)
		}
		inst, err := models.DecodeInstallation(data)
		if err != nil {
			return nil, fmt.Errorf("decode installation %s: %w", iter.Val(), err)
		}
		installations = append(installations, *inst)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan installations: %w", err)
	}

	sort.Slice(installations, func(i, j int) bool {
		return installations[i].CreatedAt.After(installations[j].CreatedAt)
	})
	return installations, nil
}

func (s *RedisStore) Migrate(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
