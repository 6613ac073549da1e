package counters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/playerpulse/pkg/storage"
)

// RedisStore keeps counters as JSON values under playerpulse:counters:{player}.
// Updates run in WATCH/MULTI transactions; a write that raced another client is
// discarded by Redis and retried.
type RedisStore struct {
	client *redis.Client
	opts   options
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   buildOptions(opts),
	}
}

func counterKey(playerID string) string {
	return fmt.Sprintf("playerpulse:counters:%s", playerID)
}

// Upsert applies delta inside a WATCH on the player's key
func (s *RedisStore) Upsert(ctx context.Context, playerID string, delta DeltaFunc) (PlayerCounters, error) {
	if err := validatePlayerID(playerID); err != nil {
		return PlayerCounters{}, err
	}
	key := counterKey(playerID)

	return upsert(ctx, s.opts, "redis", func() (PlayerCounters, error) {
		var next PlayerCounters

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := decode(tx.Get(ctx, key))
			isNew := errors.Is(err, ErrNotFound)
			if err != nil && !isNew {
				return err
			}
			if isNew {
				current = newCounters(playerID, s.opts.now())
			}

			next = apply(delta, current, isNew)
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("failed to marshal counters for %s: %w", playerID, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return next, nil
		case errors.Is(err, redis.TxFailedErr):
			return PlayerCounters{}, errConflict
		default:
			return PlayerCounters{}, s.mapErr(ctx, "upsert counters", err)
		}
	})
}

// Get returns the counters for playerID
func (s *RedisStore) Get(ctx context.Context, playerID string) (PlayerCounters, error) {
	pc, err := decode(s.client.Get(ctx, counterKey(playerID)))
	if err != nil {
		return PlayerCounters{}, s.mapErr(ctx, "get counters", err)
	}
	return pc, nil
}

func (s *RedisStore) mapErr(ctx context.Context, op string, err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, ErrNotFound), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return storage.Unavailable(op, err)
	}
}

func decode(cmd *redis.StringCmd) (PlayerCounters, error) {
	data, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return PlayerCounters{}, ErrNotFound
	}
	if err != nil {
		return PlayerCounters{}, err
	}

	var pc PlayerCounters
	if err := json.Unmarshal(data, &pc); err != nil {
		return PlayerCounters{}, fmt.Errorf("failed to unmarshal counters: %w", err)
	}
	return pc, nil
}
