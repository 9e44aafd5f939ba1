package objectstore

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rs/zerolog"

	"github.com/lattice-run/lattice/pkg/types"
)

// CachedStore wraps a Store with an optional write-through Redis cache
// for hot cross-peer reads: a peer that repeatedly serves fetch_object
// for the same ID keeps recently-served payloads in Redis so the n-th
// remote fetch skips the embedded database.
type CachedStore struct {
	Store
	rdb *goredis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewCachedStore wraps backing with a Redis cache at addr. An empty
// addr disables caching: NewCachedStore returns backing untouched.
func NewCachedStore(backing Store, addr string, ttl time.Duration, log zerolog.Logger) Store {
	if addr == "" {
		return backing
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	return &CachedStore{Store: backing, rdb: rdb, ttl: ttl, log: log.With().Str("component", "objectstore-cache").Logger()}
}

func (c *CachedStore) cacheKey(id string) string {
	return "lattice:obj:" + id
}

func (c *CachedStore) Get(id string) (*types.Object, error) {
	ctx := context.Background()
	if raw, err := c.rdb.Get(ctx, c.cacheKey(id)).Bytes(); err == nil {
		var obj types.Object
		if jsonErr := json.Unmarshal(raw, &obj); jsonErr == nil {
			return &obj, nil
		}
	}

	obj, err := c.Store.Get(id)
	if err != nil {
		return nil, err
	}

	if raw, mErr := json.Marshal(obj); mErr == nil {
		if sErr := c.rdb.Set(ctx, c.cacheKey(id), raw, c.ttl).Err(); sErr != nil {
			c.log.Debug().Err(sErr).Str("object_id", id).Msg("redis cache write failed")
		}
	}
	return obj, nil
}

func (c *CachedStore) Save(obj *types.Object) error {
	if err := c.Store.Save(obj); err != nil {
		return err
	}
	if obj.Stream {
		return nil
	}
	ctx := context.Background()
	if raw, err := json.Marshal(obj); err == nil {
		if sErr := c.rdb.Set(ctx, c.cacheKey(obj.ID), raw, c.ttl).Err(); sErr != nil {
			c.log.Debug().Err(sErr).Str("object_id", obj.ID).Msg("redis cache write failed")
		}
	}
	return nil
}

// Close closes both the Redis connection and the backing store.
func (c *CachedStore) Close() error {
	_ = c.rdb.Close()
	return c.Store.Close()
}
