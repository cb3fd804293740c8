package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	redisFieldValue   = "value"
	redisFieldVersion = "version"
	redisFieldMessage = "message"
	redisHistoryLimit = 1000
)

// RedisStore keeps each record in a hash and guards writes with WATCH/MULTI,
// so any number of service instances can share one redis.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. Keys are namespaced with prefix.
func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Read loads the value and revision of key.
func (s *RedisStore) Read(ctx context.Context, key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}

	fields, err := s.client.HMGet(ctx, s.recordKey(key), redisFieldValue, redisFieldVersion).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("redis read %s: %w", key, err)
	}
	if len(fields) != 2 || fields[0] == nil || fields[1] == nil {
		return Entry{}, ErrNotFound
	}

	value, ok := fields[0].(string)
	if !ok {
		return Entry{}, fmt.Errorf("redis read %s: unexpected value type %T", key, fields[0])
	}
	version, ok := fields[1].(string)
	if !ok {
		return Entry{}, fmt.Errorf("redis read %s: unexpected version type %T", key, fields[1])
	}
	return Entry{Value: []byte(value), Version: Version(version)}, nil
}

// Write applies the conditional update inside an optimistic transaction.
func (s *RedisStore) Write(ctx context.Context, key string, value []byte, message string, expected Version) (Version, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	recordKey := s.recordKey(key)
	var next Version

	txf := func(tx *goredis.Tx) error {
		current, err := tx.HGet(ctx, recordKey, redisFieldVersion).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			current = ""
		case err != nil:
			return err
		}
		if Version(current) != expected {
			return ErrConflict
		}

		revision := uint64(0)
		if current != "" {
			revision, err = strconv.ParseUint(current, 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt version %q: %w", current, err)
			}
		}
		next = Version(strconv.FormatUint(revision+1, 10))

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, recordKey,
				redisFieldValue, value,
				redisFieldVersion, string(next),
				redisFieldMessage, message,
			)
			pipe.LPush(ctx, s.historyKey(key), fmt.Sprintf("%s\t%s\t%s", time.Now().UTC().Format(time.RFC3339Nano), next, message))
			pipe.LTrim(ctx, s.historyKey(key), 0, redisHistoryLimit-1)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, recordKey)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, ErrConflict), errors.Is(err, goredis.TxFailedErr):
		return "", ErrConflict
	default:
		return "", fmt.Errorf("redis write %s: %w", key, err)
	}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) recordKey(key string) string {
	return s.prefix + "record:" + key
}

func (s *RedisStore) historyKey(key string) string {
	return s.prefix + "history:" + key
}

var _ Store = (*RedisStore)(nil)
