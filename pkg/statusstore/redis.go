package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisConfigDefaults returns a configuration for a local Redis.
func RedisConfigDefaults() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "userstatus",
	}
}

const maxUpdateAttempts = 3

// RedisStore is a StatusStore on Redis.
//
// Each record is a JSON string under {prefix}:status:{storage key}. A hash maps
// IDs to storage keys, and two sorted sets index live records by ID and by
// status timestamp. Ties in the recency index fall back to Redis member order.
type RedisStore struct {
	redisClient *redis.Client
	prefix      string
	logger      zerolog.Logger
}

// NewRedisStore creates and connects a new RedisStore.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for status store.")

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "userstatus"
	}
	return &RedisStore{
		redisClient: rdb,
		prefix:      prefix,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

func (s *RedisStore) statusKey(storageKey string) string {
	return s.prefix + ":status:" + storageKey
}

func (s *RedisStore) idsKey() string    { return s.prefix + ":ids" }
func (s *RedisStore) seqKey() string    { return s.prefix + ":seq" }
func (s *RedisStore) byIDKey() string   { return s.prefix + ":byid" }
func (s *RedisStore) recentKey() string { return s.prefix + ":recent" }

// FindByUserID returns the live or backup record of userID.
func (s *RedisStore) FindByUserID(ctx context.Context, userID string, backup bool) (userstatus.Record, bool, error) {
	data, err := s.redisClient.Get(ctx, s.statusKey(userstatus.StorageKey(userID, backup))).Result()
	if errors.Is(err, redis.Nil) {
		return userstatus.Record{}, false, nil
	}
	if err != nil {
		return userstatus.Record{}, false, fmt.Errorf("redis get failed for %s: %w", userID, err)
	}
	var rec userstatus.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return userstatus.Record{}, false, fmt.Errorf("failed to unmarshal status of %s: %w", userID, err)
	}
	return rec, true, nil
}

// FindByUserIDs returns the live records of the given users, ordered by ID.
func (s *RedisStore) FindByUserIDs(ctx context.Context, userIDs []string) ([]userstatus.Record, error) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if !userstatus.IsReservedUserID(id) {
			keys = append(keys, id)
		}
	}
	recs, err := s.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(recs))
	unique := recs[:0]
	for _, rec := range recs {
		if !seen[rec.ID] {
			seen[rec.ID] = true
			unique = append(unique, rec)
		}
	}
	sortByID(unique)
	return unique, nil
}

// FindAll returns live records ordered by ID.
func (s *RedisStore) FindAll(ctx context.Context, limit, offset int) ([]userstatus.Record, error) {
	start, stop := zrangeBounds(limit, offset)
	keys, err := s.redisClient.ZRange(ctx, s.byIDKey(), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}
	return s.load(ctx, keys)
}

// FindAllRecent returns live records ordered by most recent status change.
func (s *RedisStore) FindAllRecent(ctx context.Context, limit, offset int) ([]userstatus.Record, error) {
	start, stop := zrangeBounds(limit, offset)
	keys, err := s.redisClient.ZRevRange(ctx, s.recentKey(), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}
	return s.load(ctx, keys)
}

func zrangeBounds(limit, offset int) (int64, int64) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return int64(offset), -1
	}
	return int64(offset), int64(offset + limit - 1)
}

// load fetches the records stored under the given storage keys, preserving
// order and skipping keys that no longer exist.
func (s *RedisStore) load(ctx context.Context, storageKeys []string) ([]userstatus.Record, error) {
	if len(storageKeys) == 0 {
		return []userstatus.Record{}, nil
	}
	keys := make([]string, len(storageKeys))
	for i, k := range storageKeys {
		keys[i] = s.statusKey(k)
	}
	values, err := s.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}
	recs := make([]userstatus.Record, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var rec userstatus.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Error().Err(err).Str("key", keys[i]).Msg("Failed to unmarshal stored status.")
			return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Insert assigns rec an ID and stores it. The storage key is claimed with SETNX.
func (s *RedisStore) Insert(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	id, err := s.redisClient.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return userstatus.Record{}, fmt.Errorf("redis incr failed: %w", err)
	}
	rec.ID = id
	key := rec.Key()

	data, err := json.Marshal(rec)
	if err != nil {
		return userstatus.Record{}, fmt.Errorf("failed to marshal status of %s: %w", rec.UserID, err)
	}
	claimed, err := s.redisClient.SetNX(ctx, s.statusKey(key), data, 0).Result()
	if err != nil {
		return userstatus.Record{}, fmt.Errorf("redis setnx failed for %s: %w", key, err)
	}
	if !claimed {
		return userstatus.Record{}, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	_, err = s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.idsKey(), strconv.FormatInt(id, 10), key)
		s.index(ctx, pipe, rec)
		return nil
	})
	if err != nil {
		return userstatus.Record{}, fmt.Errorf("redis index failed for %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int64("id", id).Msg("Inserted status record.")
	return rec, nil
}

// Update replaces the record with rec.ID, moving it to a new storage key if needed.
func (s *RedisStore) Update(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	field := strconv.FormatInt(rec.ID, 10)
	data, err := json.Marshal(rec)
	if err != nil {
		return userstatus.Record{}, fmt.Errorf("failed to marshal status of %s: %w", rec.UserID, err)
	}
	newKey := rec.Key()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		oldKey, err := s.redisClient.HGet(ctx, s.idsKey(), field).Result()
		if errors.Is(err, redis.Nil) {
			return userstatus.Record{}, fmt.Errorf("%w: id %d", ErrNoSuchRecord, rec.ID)
		}
		if err != nil {
			return userstatus.Record{}, fmt.Errorf("redis hget failed for id %d: %w", rec.ID, err)
		}

		txf := func(tx *redis.Tx) error {
			if oldKey != newKey {
				n, err := tx.Exists(ctx, s.statusKey(newKey)).Result()
				if err != nil {
					return err
				}
				if n > 0 {
					return fmt.Errorf("%w: %s", ErrDuplicateKey, newKey)
				}
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if oldKey != newKey {
					pipe.Del(ctx, s.statusKey(oldKey))
					pipe.HSet(ctx, s.idsKey(), field, newKey)
				}
				pipe.Set(ctx, s.statusKey(newKey), data, 0)
				pipe.ZRem(ctx, s.byIDKey(), oldKey)
				pipe.ZRem(ctx, s.recentKey(), oldKey)
				s.index(ctx, pipe, rec)
				return nil
			})
			return err
		}

		err = s.redisClient.Watch(ctx, txf, s.statusKey(oldKey), s.statusKey(newKey), s.idsKey())
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug().Str("key", newKey).Int("attempt", attempt+1).Msg("Concurrent status write, retrying.")
			continue
		}
		if err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				return userstatus.Record{}, err
			}
			return userstatus.Record{}, fmt.Errorf("redis update failed for %s: %w", newKey, err)
		}
		return rec, nil
	}
	return userstatus.Record{}, fmt.Errorf("redis update for %s: %w", newKey, redis.TxFailedErr)
}

// Delete removes the record with rec.ID and its index entries.
func (s *RedisStore) Delete(ctx context.Context, rec userstatus.Record) error {
	field := strconv.FormatInt(rec.ID, 10)
	key, err := s.redisClient.HGet(ctx, s.idsKey(), field).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: id %d", ErrNoSuchRecord, rec.ID)
	}
	if err != nil {
		return fmt.Errorf("redis hget failed for id %d: %w", rec.ID, err)
	}

	_, err = s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.statusKey(key))
		pipe.HDel(ctx, s.idsKey(), field)
		pipe.ZRem(ctx, s.byIDKey(), key)
		pipe.ZRem(ctx, s.recentKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis del failed for %s: %w", key, err)
	}
	return nil
}

// index adds live records to the listing sorted sets.
func (s *RedisStore) index(ctx context.Context, pipe redis.Pipeliner, rec userstatus.Record) {
	if rec.IsBackup {
		return
	}
	key := rec.Key()
	pipe.ZAdd(ctx, s.byIDKey(), redis.Z{Score: float64(rec.ID), Member: key})
	pipe.ZAdd(ctx, s.recentKey(), redis.Z{Score: float64(rec.StatusTimestamp), Member: key})
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redisClient.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
