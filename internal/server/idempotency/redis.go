package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record in a hash.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrStoreUnavailable, op, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable("hgetall", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// acquireScript sets the status field only if absent and, when it did,
// writes the remaining fields and the TTL in the same call.
// KEYS[1] key; ARGV[1] status field; ARGV[2] status; ARGV[3] ttl ms; then field/value pairs.
var acquireScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
for i = 4, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Acquire creates the hash only when the key has no status yet. The record
// and its TTL are written atomically, so a lost connection never leaves a
// lock without expiry.
func (s *RedisStore) Acquire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	status, ok := fields[StatusField]
	if !ok {
		return false, errNoStatus
	}

	args := make([]any, 0, 3+2*len(fields))
	args = append(args, StatusField, status, ttl.Milliseconds())
	for k, v := range fields {
		if k != StatusField {
			args = append(args, k, v)
		}
	}

	won, err := acquireScript.Run(ctx, s.rdb, []string{key}, args...).Int()
	if err != nil {
		return false, unavailable("acquire", err)
	}
	return won == 1, nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return unavailable("update", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}
