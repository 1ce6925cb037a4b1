// Package redisstore keeps remote records in Redis: one hash per record
// holding its body and update time, plus one set of ids per collection.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nabhalearn/edusync/internal/remote"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key (default "edusync:").
	Prefix string
}

// Store implements remote.Store on Redis.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ remote.Store = (*Store)(nil)

// New connects to Redis. The connection is checked lazily by Ping.
func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewFromClient(client, cfg.Prefix)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "edusync:"
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) recordKey(collection, id string) string {
	return s.prefix + collection + ":" + id
}

func (s *Store) setKey(collection string) string {
	return s.prefix + collection
}

// Upsert stores body as collection/id.
func (s *Store) Upsert(ctx context.Context, collection, id string, body json.RawMessage) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.recordKey(collection, id), map[string]interface{}{
		"body":       string(body),
		"updated_at": s.now().UnixMilli(),
	})
	pipe.SAdd(ctx, s.setKey(collection), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return remote.Transient("upsert", collection, id, fmt.Errorf("redis pipeline: %w", err))
	}
	return nil
}

// Delete removes collection/id; absent records are fine.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(collection, id))
	pipe.SRem(ctx, s.setKey(collection), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return remote.Transient("delete", collection, id, fmt.Errorf("redis pipeline: %w", err))
	}
	return nil
}

// Ping sends PING.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return remote.Transient("ping", "", "", err)
	}
	return nil
}

// Get returns the stored body of collection/id.
func (s *Store) Get(ctx context.Context, collection, id string) (json.RawMessage, bool, error) {
	body, err := s.client.HGet(ctx, s.recordKey(collection, id), "body").Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(body), true, nil
}

// IDs returns the sorted ids stored in collection.
func (s *Store) IDs(ctx context.Context, collection string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.setKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
