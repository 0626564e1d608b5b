package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// farFuture scores index entries for sessions that never expire (2100-01-01)
const farFuture = 4102444800

// RedisStore keeps sessions in Redis as JSON with an optional TTL.
// A sorted set indexes live sessions by expiry so List can prune lazily.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*RedisStore)

// WithTTL sets the expiration for sessions. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions
func WithPrefix(prefix string) Option {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to the Redis server at address
func NewRedisStore(address, password string, db int, opts ...Option) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, opts...)
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *backend.Client, opts ...Option) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: "formrules:session:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Save writes the session inside a WATCH transaction so a concurrent writer on another
// instance makes this one fail with ErrStaleRevision
func (s *RedisStore) Save(ctx context.Context, sess *Session, prev int64) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	key := s.key(sess.ID)

	txn := func(tx *backend.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, backend.Nil):
			if prev != 0 {
				return ErrStaleRevision
			}
		case err != nil:
			return err
		default:
			var stored Session
			if err := json.Unmarshal(current, &stored); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			if stored.Revision != prev {
				return ErrStaleRevision
			}
		}

		score := float64(time.Now().Add(s.ttl).Unix())
		if s.ttl == 0 {
			score = farFuture
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: sess.ID})
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txn, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleRevision), errors.Is(err, backend.TxFailedErr):
		return fmt.Errorf("session %s at revision %d: %w", sess.ID, prev, ErrStaleRevision)
	default:
		return fmt.Errorf("failed to save to redis: %w", err)
	}
}

// Load retrieves a session
func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes a session and its index entry
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// List returns live session ids, pruning expired index entries first
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

// Close closes the redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
