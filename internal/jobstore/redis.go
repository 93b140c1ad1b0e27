package jobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/clincite/clincite/internal/job"
)

// RedisTier stores records as opaque JSON blobs in Redis. It is the shared
// fallback tier when several instances poll the same jobs; reads also try
// the legacy object-store style key so records written by older deployments
// stay reachable.
type RedisTier struct {
	client *redis.Client
}

// NewRedisTier connects to the given address and verifies the connection.
func NewRedisTier(ctx context.Context, addr, password string, db int) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisTier{client: client}, nil
}

func (r *RedisTier) Name() string { return "redis" }

func recordKey(id string) string { return "job:" + id }

// legacyKey is the older path-style key layout.
func legacyKey(id string) string { return "jobs/" + id + ".json" }

func (r *RedisTier) Write(ctx context.Context, rec *job.Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, recordKey(rec.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write record to redis: %w", err)
	}
	return nil
}

func (r *RedisTier) Read(ctx context.Context, id string) (*job.Record, error) {
	for _, key := range []string{recordKey(id), legacyKey(id)} {
		data, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record from redis: %w", err)
		}
		return decode(data)
	}
	return nil, ErrNotFound
}

// Client exposes the underlying connection for components that share it,
// such as the search result cache.
func (r *RedisTier) Client() *redis.Client {
	return r.client
}

// Close releases the underlying connection pool.
func (r *RedisTier) Close() error {
	return r.client.Close()
}
