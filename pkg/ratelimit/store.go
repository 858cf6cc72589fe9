package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyLimit          = "apiclient:rate_limit:limit"
	RedisKeyRemaining      = "apiclient:rate_limit:remaining"
	RedisKeyResetTimestamp = "apiclient:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "apiclient:rate_limit:last_update"
)

// StateStore persists the rate limit state. Load returns nil, nil when no
// state has been saved.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// RedisStateStore shares the state across processes through Redis.
type RedisStateStore struct {
	redis *redis.Client
}

// NewRedisStateStore creates a Redis-backed state store.
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{redis: client}
}

// Load reads the state from Redis.
func (s *RedisStateStore) Load(ctx context.Context) (*State, error) {
	values, err := s.redis.MGet(ctx, RedisKeyLimit, RedisKeyRemaining, RedisKeyResetTimestamp, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if values[1] == nil {
		return nil, nil
	}

	ints := make([]int64, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected redis value %T", v)
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse rate limit state: %w", err)
		}
		ints[i] = n
	}

	state := &State{
		Limit:      int(ints[0]),
		Remaining:  int(ints[1]),
		ResetAt:    time.Unix(ints[2], 0),
		LastUpdate: time.UnixMilli(ints[3]),
	}
	state.UpdateHealth()
	return state, nil
}

// Save stores the state in Redis atomically.
func (s *RedisStateStore) Save(ctx context.Context, state *State) error {
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyLimit, state.Limit, 0)
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, state.LastUpdate.UnixMilli(), 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// MemoryStateStore keeps the state in process.
type MemoryStateStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStateStore creates an empty in-process state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Load returns a copy of the saved state.
func (s *MemoryStateStore) Load(context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	state := *s.state
	return &state, nil
}

// Save stores a copy of state.
func (s *MemoryStateStore) Save(_ context.Context, state *State) error {
	if state == nil {
		return errors.New("state is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.state = &copied
	return nil
}
