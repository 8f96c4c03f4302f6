package grants

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

const (
	tombstonePrefix = "consumed:"
	pollPrefix      = "poll:"
)

// RedisConfig holds connection configuration for the Redis grant store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces all grant keys, e.g. "grantsrv:grants:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on a Redis backend, enabling horizontal
// scaling of the issuance engine. Redis single-key operations are
// linearizable, which satisfies the per-key ordering the engine requires.
//
// Consume relies on GETDEL: of N concurrent consumers exactly one sees the
// value. The loser is classified via a tombstone key written by the winner;
// losing the race before the tombstone lands degrades AlreadyConsumed to
// NotFound, which the protocol treats identically.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ Store = (*RedisStore)(nil)

// redisEnvelope is the serialized form of a stored grant. The eviction time
// travels with the value so the tombstone TTL can be derived after GETDEL.
type redisEnvelope struct {
	Grant   *Grant    `json:"grant"`
	EvictAt time.Time `json:"evictAt"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("[NewRedisStore] addr is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "[NewRedisStore] failed to connect to redis")
	}
	return &RedisStore{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisStoreWithClient wraps an existing client (used in tests).
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) Put(ctx context.Context, key string, grant *Grant, ttl time.Duration) error {
	payload, err := json.Marshal(redisEnvelope{
		Grant:   grant,
		EvictAt: time.Now().Add(ttl),
	})
	if err != nil {
		return errors.Wrap(err, "[RedisStore.Put] marshal grant")
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, payload, ttl).Err(); err != nil {
		return errors.Wrap(err, "[RedisStore.Put] SET")
	}
	// A re-Put revives the key; drop any stale tombstone.
	if err := s.client.Del(ctx, s.keyPrefix+tombstonePrefix+key).Err(); err != nil {
		return errors.Wrap(err, "[RedisStore.Put] DEL tombstone")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Grant, error) {
	payload, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[RedisStore.Get] GET")
	}
	return decodeEnvelope(payload)
}

func (s *RedisStore) Consume(ctx context.Context, key string) (*Grant, error) {
	payload, err := s.client.GetDel(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		n, existsErr := s.client.Exists(ctx, s.keyPrefix+tombstonePrefix+key).Result()
		if existsErr == nil && n > 0 {
			return nil, ErrAlreadyConsumed
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[RedisStore.Consume] GETDEL")
	}

	var env redisEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Wrap(err, "[RedisStore.Consume] unmarshal grant")
	}
	if remaining := time.Until(env.EvictAt); remaining > 0 {
		if err := s.client.Set(ctx, s.keyPrefix+tombstonePrefix+key, "1", remaining).Err(); err != nil {
			return nil, errors.Wrap(err, "[RedisStore.Consume] SET tombstone")
		}
	}
	if err := s.client.Del(ctx, s.keyPrefix+pollPrefix+key).Err(); err != nil {
		return nil, errors.Wrap(err, "[RedisStore.Consume] DEL poll record")
	}
	return env.Grant, nil
}

// TouchPoll swaps the per-key poll timestamp in a single SET ... GET, which
// Redis executes atomically, so concurrent polls of one key serialize without
// ever touching the grant record.
func (s *RedisStore) TouchPoll(ctx context.Context, key string, at time.Time, ttl time.Duration) (time.Time, error) {
	prev, err := s.client.SetArgs(ctx, s.keyPrefix+pollPrefix+key, at.UTC().Format(time.RFC3339Nano), redis.SetArgs{
		TTL: ttl,
		Get: true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[RedisStore.TouchPoll] SET")
	}
	parsed, err := time.Parse(time.RFC3339Nano, prev)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[RedisStore.TouchPoll] parse previous poll time")
	}
	return parsed, nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key, s.keyPrefix+pollPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "[RedisStore.Remove] DEL")
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeEnvelope(payload []byte) (*Grant, error) {
	var env redisEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Wrap(err, "[RedisStore] unmarshal grant")
	}
	return env.Grant, nil
}
