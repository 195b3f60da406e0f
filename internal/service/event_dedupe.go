package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper remembers processed webhook event ids.
type EventDeduper interface {
	// Claim returns false when id was already claimed.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets id so a redelivery is processed again.
	Release(ctx context.Context, id string) error
}

const eventTTL = 72 * time.Hour

type redisDeduper struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisDeduper(rdb *redis.Client, prefix string) EventDeduper {
	return &redisDeduper{rdb: rdb, prefix: prefix}
}

func (d *redisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, d.prefix+id, time.Now().Unix(), eventTTL).Result()
}

func (d *redisDeduper) Release(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, d.prefix+id).Err()
}

// NoopDeduper claims every event; used when Redis is not configured.
type NoopDeduper struct{}

func (NoopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }

func (NoopDeduper) Release(context.Context, string) error { return nil }
