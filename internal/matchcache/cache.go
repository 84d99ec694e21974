package matchcache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Delvin233/rps-onchain-sub000/internal/match"
)

// DefaultTTL matches the cache contract: active snapshots live ten minutes,
// refreshed on every write.
const DefaultTTL = 10 * time.Minute

var (
	// ErrNotCached is returned by CompareAndSave when the snapshot expired
	// or was deleted between read and write.
	ErrNotCached = errors.New("match not cached")
	// ErrVersionConflict signals a lost-update race: another writer bumped
	// the snapshot version first.
	ErrVersionConflict = errors.New("match version conflict")
)

// Cache is the active-match bridge over Redis. It holds the current
// snapshot of every in-progress match under match:{id} plus a player:{addr}
// pointer to the one active match a player owns. No business logic lives
// here; any I/O error propagates to the caller.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func matchKey(id string) string    { return "match:" + strings.TrimSpace(id) }
func playerKey(addr string) string { return "player:" + strings.TrimSpace(addr) }
func idFromKey(key string) string  { return strings.TrimPrefix(key, "match:") }

// Save writes the snapshot and the player pointer, refreshing both TTLs.
func (c *Cache) Save(ctx context.Context, m *match.Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, matchKey(m.ID), raw, c.ttl)
	pipe.Set(ctx, playerKey(m.Player), m.ID, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// CompareAndSave writes the snapshot only when the stored version is exactly
// one behind m.Version, inside a WATCH transaction. Returns
// ErrVersionConflict when another writer got there first and ErrNotCached
// when the snapshot is gone.
func (c *Cache) CompareAndSave(ctx context.Context, m *match.Match) error {
	key := matchKey(m.ID)
	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotCached
		}
		if err != nil {
			return err
		}
		var cur match.Match
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		if cur.Version != m.Version-1 {
			return ErrVersionConflict
		}
		newRaw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, c.ttl)
		pipe.Set(ctx, playerKey(m.Player), m.ID, c.ttl)
		_, err = pipe.Exec(ctx)
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

// Get returns the cached snapshot or (nil, nil) when absent. Timestamp
// fields come back as concrete time values, rounds included.
func (c *Cache) Get(ctx context.Context, id string) (*match.Match, error) {
	raw, err := c.rdb.Get(ctx, matchKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m match.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByPlayer resolves the player pointer and delegates to Get.
func (c *Cache) GetByPlayer(ctx context.Context, addr string) (*match.Match, error) {
	id, err := c.rdb.Get(ctx, playerKey(addr)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

// Delete removes the snapshot and, when it still points at this match, the
// player pointer. Deleting an absent id is a no-op.
func (c *Cache) Delete(ctx context.Context, id string) error {
	m, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, matchKey(id)).Err(); err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	ptr, err := c.rdb.Get(ctx, playerKey(m.Player)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if ptr == id {
		return c.rdb.Del(ctx, playerKey(m.Player)).Err()
	}
	return nil
}

// ListAll enumerates every cached match snapshot. The match:* pattern keeps
// player pointer keys out of the scan.
func (c *Cache) ListAll(ctx context.Context) ([]*match.Match, error) {
	var out []*match.Match
	iter := c.rdb.Scan(ctx, 0, matchKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		m, err := c.Get(ctx, idFromKey(iter.Val()))
		if err != nil {
			return nil, err
		}
		if m == nil {
			// expired between scan and read
			continue
		}
		out = append(out, m)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
