package cache

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"bitetrack/backend/internal/domain"
)

// RedisImportReportCache shares import reports between server replicas. Keys
// expire on the Redis side after the policy TTL.
type RedisImportReportCache struct {
	client redis.UniversalClient
	policy Policy
}

// NewRedisImportReportCache wraps an existing client; the caller owns its
// lifecycle unless Close is called.
func NewRedisImportReportCache(client redis.UniversalClient, policy Policy) *RedisImportReportCache {
	return &RedisImportReportCache{client: client, policy: policy.withDefaults()}
}

// DialRedis builds a single-node client and verifies it answers.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisImportReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisImportReportCache) Get(ctx context.Context, batchID string) (*domain.ImportReport, bool, error) {
	payload, err := c.client.Get(ctx, c.policy.key(batchID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get import report %s: %w", batchID, err)
	}
	report, err := decodeReport(payload)
	if err != nil {
		return nil, false, err
	}
	return report, true, nil
}

func (c *RedisImportReportCache) Put(ctx context.Context, report *domain.ImportReport) error {
	if report == nil {
		return nil
	}
	batchID, err := batchIDOf(report)
	if err != nil {
		return err
	}
	payload, err := encodeReport(report)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.policy.key(batchID), payload, c.policy.TTL).Err(); err != nil {
		return fmt.Errorf("redis put import report %s: %w", batchID, err)
	}
	return nil
}

func (c *RedisImportReportCache) Delete(ctx context.Context, batchID string) error {
	if err := c.client.Del(ctx, c.policy.key(batchID)).Err(); err != nil {
		return fmt.Errorf("redis delete import report %s: %w", batchID, err)
	}
	return nil
}
