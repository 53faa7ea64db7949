package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "protoboot:ledger:"

type redisRepo struct {
	client *redis.Client
}

// NewRedisRepository keeps one hash per network, keyed by stage and fingerprint.
func NewRedisRepository(ctx context.Context, addr, password string, db int) (Repository, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis ledger requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &redisRepo{client: client}, nil
}

func redisKey(network string) string {
	return redisKeyPrefix + network
}

func redisField(stage, fingerprint string) string {
	return stage + "|" + fingerprint
}

func (r *redisRepo) IsComplete(ctx context.Context, network, stage, fingerprint string) (bool, error) {
	ok, err := r.client.HExists(ctx, redisKey(network), redisField(stage, fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to query completion: %w", err)
	}
	return ok, nil
}

func (r *redisRepo) MarkComplete(ctx context.Context, c *Completion) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal completion: %w", err)
	}
	if err := r.client.HSet(ctx, redisKey(c.Network), redisField(c.Stage, c.Fingerprint), data).Err(); err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

func (r *redisRepo) ListCompletions(ctx context.Context, network string) ([]*Completion, error) {
	keys := []string{redisKey(network)}
	if network == "" {
		var err error
		if keys, err = r.scanKeys(ctx); err != nil {
			return nil, err
		}
	}

	var out []*Completion
	for _, key := range keys {
		values, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list completions: %w", err)
		}
		for field, raw := range values {
			var c Completion
			if err := json.Unmarshal([]byte(raw), &c); err != nil {
				return nil, fmt.Errorf("failed to decode completion %s: %w", field, err)
			}
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

func (r *redisRepo) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ledger keys: %w", err)
	}
	return keys, nil
}

func (r *redisRepo) Close() error {
	return r.client.Close()
}
