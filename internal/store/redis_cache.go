// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store persists controller state: the live snapshot cache in Redis
// and the session, tuning and settings history in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

// ErrNotCached is returned when no snapshot was cached yet.
var ErrNotCached = errors.New("snapshot not cached")

// CacheConfig addresses the Redis server.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the keys, typically the chamber name.
	Prefix string
	// TTL expires the snapshot when the controller stops publishing.
	TTL time.Duration
	// KeepAlarms bounds the alarm list.
	KeepAlarms int
}

// Cache keeps the latest snapshot and recent alarms for dashboards. It is a
// session sink; writes go through the executor so publishing never blocks.
type Cache struct {
	client *redis.Client
	exec   session.Executor
	cfg    CacheConfig
}

func NewCache(cfg CacheConfig, exec session.Executor) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newCache(client, cfg, exec)
}

func newCache(client *redis.Client, cfg CacheConfig, exec session.Executor) *Cache {
	if cfg.Prefix == "" {
		cfg.Prefix = "chamber"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.KeepAlarms <= 0 {
		cfg.KeepAlarms = 100
	}
	return &Cache{client: client, exec: exec, cfg: cfg}
}

// ===== Keys =====

func snapshotKey(prefix string) string {
	return fmt.Sprintf("%s:snapshot", prefix)
}

func alarmsKey(prefix string) string {
	return fmt.Sprintf("%s:alarms", prefix)
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) PublishSnapshot(s *session.Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	key := snapshotKey(c.cfg.Prefix)
	c.exec.Go("redis snapshot", func(ctx context.Context) error {
		return c.client.Set(ctx, key, data, c.cfg.TTL).Err()
	})
}

func (c *Cache) PublishAlarm(r alarm.Record) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	key := alarmsKey(c.cfg.Prefix)
	keep := int64(c.cfg.KeepAlarms)
	c.exec.Go("redis alarm", func(ctx context.Context) error {
		pipe := c.client.TxPipeline()
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, keep-1)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Latest returns the cached snapshot JSON.
func (c *Cache) Latest(ctx context.Context) (json.RawMessage, error) {
	data, err := c.client.Get(ctx, snapshotKey(c.cfg.Prefix)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotCached
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return json.RawMessage(data), nil
}

// Alarms returns up to n alarms, newest first.
func (c *Cache) Alarms(ctx context.Context, n int) ([]alarm.Record, error) {
	if n <= 0 {
		n = c.cfg.KeepAlarms
	}
	items, err := c.client.LRange(ctx, alarmsKey(c.cfg.Prefix), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get alarms: %w", err)
	}
	out := make([]alarm.Record, 0, len(items))
	for _, item := range items {
		var r alarm.Record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alarm: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
