// Package redisstore is the Redis-backed checkpoint store.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/state"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const keyPrefix = "fern:checkpoint:"

// advanceScript compares the stored sequence against the expected one and
// swaps in the new snapshot atomically. 1 = advanced, 0 = conflict.
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local expected = tonumber(ARGV[1])
if cur then
  local snapshot = cjson.decode(cur)
  if tonumber(snapshot['sequence']) ~= expected then
    return 0
  end
elseif expected ~= 0 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// Store implements state.Store on Redis.
type Store struct {
	rdb    *redis.Client
	logger ectologger.Logger
}

// New creates a Redis checkpoint store over an existing client.
func New(rdb *redis.Client, logger ectologger.Logger) *Store {
	return &Store{
		rdb:    rdb,
		logger: logger,
	}
}

// Get returns the snapshot for the key, or nil for a new stream.
func (s *Store) Get(ctx context.Context, key models.EventKey) (*state.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "redisstore.Store.Get")
	defer span.End()

	raw, err := s.rdb.Get(ctx, keyPrefix+key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var snapshot state.Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	return &snapshot, nil
}

// Advance swaps in the new snapshot when the stored sequence matches
// expected. Returns state.ErrConflict on a lost race.
func (s *Store) Advance(ctx context.Context, key models.EventKey, expected int64, next state.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "redisstore.Store.Advance")
	defer span.End()

	value, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	ok, err := advanceScript.Run(ctx, s.rdb, []string{keyPrefix + key.String()}, expected, string(value)).Int()
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	if ok == 0 {
		return state.ErrConflict
	}

	return nil
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
