package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"gradeflow/internal/model"
)

const redisMaxTxRetries = 16

// RedisStore keeps each session as one JSON value and indexes expiry in a
// sorted set for the sweeper. Updates use WATCH/MULTI so writers on other
// nodes are serialized too.
type RedisStore struct {
	client    *redisv9.Client
	prefix    string
	retention time.Duration
	locks     *keyLocker
}

// NewRedisStore wraps an existing client. retention is how long a value is
// kept past its session expiry before Redis drops it on its own; zero keeps
// values until the sweeper removes them.
func NewRedisStore(client *redisv9.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "gradeflow:"
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
		locks:     newKeyLocker(),
	}
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *RedisStore) expiryIndexKey() string {
	return s.prefix + "session-expiry"
}

func (s *RedisStore) ttlFor(session *model.Session) time.Duration {
	if s.retention <= 0 {
		return 0
	}
	ttl := time.Until(session.ExpiresAt) + s.retention
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

func (s *RedisStore) write(ctx context.Context, pipe redisv9.Pipeliner, session *model.Session, data []byte) {
	pipe.Set(ctx, s.sessionKey(session.ID), data, s.ttlFor(session))
	pipe.ZAdd(ctx, s.expiryIndexKey(), redisv9.Z{
		Score:  float64(session.ExpiresAt.UnixMilli()),
		Member: session.ID,
	})
}

func (s *RedisStore) Create(ctx context.Context, session *model.Session) error {
	data, err := encodeSession(session)
	if err != nil {
		return err
	}
	key := s.sessionKey(session.ID)
	err = s.client.Watch(ctx, func(tx *redisv9.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis check session failed: %w", err)
		}
		if exists > 0 {
			return ErrSessionExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
			s.write(ctx, pipe, session, data)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redisv9.TxFailedErr) {
		return ErrSessionExists
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redisv9.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get session failed: %w", err)
	}
	return decodeSession(data)
}

func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	key := s.sessionKey(id)
	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		var updated *model.Session
		err := s.client.Watch(ctx, func(tx *redisv9.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redisv9.Nil) {
					return ErrSessionNotFound
				}
				return fmt.Errorf("redis get session failed: %w", err)
			}
			session, err := decodeSession(data)
			if err != nil {
				return err
			}
			if err := fn(session); err != nil {
				return err
			}
			next, err := encodeSession(session)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
				s.write(ctx, pipe, session, next)
				return nil
			})
			if err != nil {
				return err
			}
			updated = session
			return nil
		}, key)
		if errors.Is(err, redisv9.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("redis update session %s: too much contention", id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.sessionKey(id))
	pipe.ZRem(ctx, s.expiryIndexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete session failed: %w", err)
	}
	if del.Val() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.expiryIndexKey(), &redisv9.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list expired sessions failed: %w", err)
	}

	removed := 0
	for _, id := range ids {
		pipe := s.client.TxPipeline()
		del := pipe.Del(ctx, s.sessionKey(id))
		pipe.ZRem(ctx, s.expiryIndexKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("redis purge session %s failed: %w", id, err)
		}
		if del.Val() > 0 {
			removed++
		}
	}
	return removed, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
