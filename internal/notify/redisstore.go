package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/redis/go-redis/v9"

	appLog "prayeralert/internal/log"
)

// RedisStore keeps pending alerts in one Redis hash: field = identifier,
// value = JSON blueprint.
type RedisStore struct {
	*Authorizer

	client *redis.Client
	key    string
}

// removeUnchangedScript deletes field ARGV[1] only while its blueprint still
// fires at ARGV[2].
var removeUnchangedScript = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], ARGV[1])
if not v then
	return 0
end
local bp = cjson.decode(v)
if bp.trigger and bp.trigger.fire_at == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

// NewRedisStore connects to addr and pings with retries.
func NewRedisStore(ctx context.Context, addr, key string, auth *Authorizer) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	err := retry.Do(
		func() error { return client.Ping(ctx).Err() },
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			appLog.Warn("redis ping retry", "addr", addr, "attempt", n, "err", err)
		}),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}

	appLog.Info("connected to redis", "addr", addr, "key", key)
	return &RedisStore{Authorizer: auth, client: client, key: key}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) PendingIdentifiers(ctx context.Context) ([]string, error) {
	ids, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending identifiers: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *RedisStore) Pending(ctx context.Context) ([]Blueprint, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}
	pending := make(map[string]Blueprint, len(raw))
	for id, data := range raw {
		var bp Blueprint
		if err := json.Unmarshal([]byte(data), &bp); err != nil {
			appLog.Error("skipping undecodable pending alert", err, "id", id)
			continue
		}
		pending[id] = bp
	}
	return sortedBlueprints(pending), nil
}

func (s *RedisStore) Add(ctx context.Context, bp Blueprint) error {
	if s.AuthorizationStatus(ctx) != AuthAuthorized {
		return ErrNotAuthorized
	}
	data, err := json.Marshal(bp)
	if err != nil {
		return fmt.Errorf("marshal blueprint: %w", err)
	}
	return s.write(ctx, func() error {
		return s.client.HSet(ctx, s.key, bp.ID, data).Err()
	})
}

func (s *RedisStore) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.write(ctx, func() error {
		return s.client.HDel(ctx, s.key, ids...).Err()
	})
}

func (s *RedisStore) RemoveIfUnchanged(ctx context.Context, bps []Blueprint) error {
	for _, bp := range bps {
		fireAt := bp.Trigger.FireAt.Format(time.RFC3339Nano)
		err := s.write(ctx, func() error {
			return removeUnchangedScript.Run(ctx, s.client, []string{s.key}, bp.ID, fireAt).Err()
		})
		if err != nil {
			return fmt.Errorf("remove delivered alert %s: %w", bp.ID, err)
		}
	}
	return nil
}

func (s *RedisStore) RemoveAll(ctx context.Context) error {
	return s.write(ctx, func() error {
		return s.client.Del(ctx, s.key).Err()
	})
}

func (s *RedisStore) write(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.Context(ctx),
	)
}
