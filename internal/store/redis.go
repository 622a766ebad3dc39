package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/betbot/spikebot/internal/domain"
)

const redisTimeout = 5 * time.Second

// RedisStore keeps history in one hash per day (field = id) with a two-day TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	if prefix == "" {
		prefix = "spikebot:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
		MaxRetries:   3,
	})
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, wrapErr("connect redis "+addr, err)
	}
	storeLog.Infof("redis store connected: %s (db %d)", addr, db)
	return NewRedisStoreWithClient(client, prefix), nil
}

// NewRedisStoreWithClient reuses an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: 48 * time.Hour}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *RedisStore) LoadCounter(day string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	n, err := s.client.Get(ctx, s.key("counter", day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, wrapErr("load counter", err)
}

func (s *RedisStore) SaveCounter(day string, n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return wrapErr("save counter", s.client.Set(ctx, s.key("counter", day), n, s.ttl).Err())
}

func (s *RedisStore) LoadSequence() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	n, err := s.client.Get(ctx, s.key("sequence")).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, wrapErr("load sequence", err)
}

func (s *RedisStore) SaveSequence(n int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return wrapErr("save sequence", s.client.Set(ctx, s.key("sequence"), n, 0).Err())
}

func (s *RedisStore) LoadHistory(day string) ([]domain.SignalRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	fields, err := s.client.HGetAll(ctx, s.key("history", day)).Result()
	if err != nil {
		return nil, wrapErr("load history", err)
	}
	out := make([]domain.SignalRecord, 0, len(fields))
	for _, payload := range fields {
		var rec domain.SignalRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, wrapErr("decode record", err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *RedisStore) AppendOrUpdate(day string, rec domain.SignalRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return wrapErr("encode record", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	key := s.key("history", day)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.FormatInt(rec.ID, 10), b)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return wrapErr("save record", err)
}

func (s *RedisStore) Close() error {
	return wrapErr("close", s.client.Close())
}
