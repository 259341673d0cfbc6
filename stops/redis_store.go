package stops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per account; fields are tickers and values are
// JSON-encoded States.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "stops:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) key(accountID string) string {
	return r.prefix + accountID
}

func (r *RedisStore) Get(ctx context.Context, accountID, ticker string) (State, bool, error) {
	raw, err := r.rdb.HGet(ctx, r.key(accountID), ticker).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("redis get stop %s/%s: %w", accountID, ticker, err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, false, fmt.Errorf("decode stop %s/%s: %w", accountID, ticker, err)
	}
	return s, true, nil
}

func (r *RedisStore) Put(ctx context.Context, s State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, r.key(s.AccountID), s.Ticker, raw).Err(); err != nil {
		return fmt.Errorf("redis put stop %s/%s: %w", s.AccountID, s.Ticker, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, accountID, ticker string) error {
	if err := r.rdb.HDel(ctx, r.key(accountID), ticker).Err(); err != nil {
		return fmt.Errorf("redis delete stop %s/%s: %w", accountID, ticker, err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context, accountID string) ([]State, error) {
	all, err := r.rdb.HGetAll(ctx, r.key(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list stops %s: %w", accountID, err)
	}
	out := make([]State, 0, len(all))
	for ticker, raw := range all {
		var s State
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode stop %s/%s: %w", accountID, ticker, err)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}
