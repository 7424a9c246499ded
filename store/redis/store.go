package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/store"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockRetryInterval = 50 * time.Millisecond
	scanBatchSize            = 256
)

// Options holds the connection settings for a Redis server.
type Options struct {
	// Host is the server host. Default: "localhost".
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server port. Default: 6379.
	Port int `mapstructure:"port" yaml:"port"`

	// Username is optional; an empty username authenticates as the default user.
	Username string `mapstructure:"username" yaml:"username"`

	// Password is optional.
	Password string `mapstructure:"password" yaml:"password"`

	// DB selects the logical database.
	DB int `mapstructure:"db" yaml:"db"`
}

// Addr returns host:port with defaults applied.
func (o Options) Addr() string {
	host := o.Host
	if host == "" {
		host = "localhost"
	}
	port := o.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// URL returns the redis:// connection URL. Credentials are included only when set.
func (o Options) URL() string {
	auth := ""
	switch {
	case o.Username != "" && o.Password != "":
		auth = o.Username + ":" + o.Password + "@"
	case o.Password != "":
		auth = ":" + o.Password + "@"
	}
	return fmt.Sprintf("redis://%s%s/%d", auth, o.Addr(), o.DB)
}

// NewClient creates a go-redis client from the options.
func NewClient(o Options) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     o.Addr(),
		Username: o.Username,
		Password: o.Password,
		DB:       o.DB,
	})
}

// Store is a Redis implementation of SharedStore.
// Lists map to Redis lists, values to strings, and named locks to redislock leases.
type Store struct {
	client        goredis.UniversalClient
	locker        *redislock.Client
	retryInterval time.Duration
}

// New creates a Redis store on top of an existing client.
func New(client goredis.UniversalClient) *Store {
	return &Store{
		client:        client,
		locker:        redislock.New(client),
		retryInterval: defaultLockRetryInterval,
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return synthbuffer.Unavailable("failed to ping", err)
	}
	return nil
}

// Push implements store.SharedStore with RPUSH.
func (s *Store) Push(ctx context.Context, key, value string) (int, error) {
	n, err := s.client.RPush(ctx, key, value).Result()
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to push", err)
	}
	return int(n), nil
}

// Pop implements store.SharedStore with LPOP.
func (s *Store) Pop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.LPop(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, synthbuffer.Unavailable("failed to pop", err)
	}
	return v, true, nil
}

// Index implements store.SharedStore with LINDEX.
func (s *Store) Index(ctx context.Context, key string, i int) (string, bool, error) {
	v, err := s.client.LIndex(ctx, key, int64(i)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, synthbuffer.Unavailable("failed to read list index", err)
	}
	return v, true, nil
}

// Len implements store.SharedStore with LLEN.
func (s *Store) Len(ctx context.Context, key string) (int, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to get list length", err)
	}
	return int(n), nil
}

// Range implements store.SharedStore with LRANGE 0 -1.
func (s *Store) Range(ctx context.Context, key string) ([]string, error) {
	values, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, synthbuffer.Unavailable("failed to scan list", err)
	}
	return values, nil
}

// RemoveFirst implements store.SharedStore with LREM count 1.
func (s *Store) RemoveFirst(ctx context.Context, key, value string) (int, error) {
	n, err := s.client.LRem(ctx, key, 1, value).Result()
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to remove", err)
	}
	return int(n), nil
}

// Get implements store.SharedStore.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, synthbuffer.Unavailable("failed to get", err)
	}
	return v, true, nil
}

// Set implements store.SharedStore. A zero ttl keeps the key forever.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return synthbuffer.Unavailable("failed to set", err)
	}
	return nil
}

// Delete implements store.SharedStore with DEL.
func (s *Store) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to delete", err)
	}
	return int(n), nil
}

// TTL implements store.SharedStore.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to get ttl", err)
	}
	// Redis reports -2 for a missing key and -1 for a key without expiry.
	switch ttl {
	case -2:
		return 0, store.ErrKeyNotFound
	case -1:
		return 0, nil
	}
	return ttl, nil
}

// Keys implements store.SharedStore with an incremental SCAN over string keys.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	iter := s.client.ScanType(ctx, 0, escapePattern(prefix)+"*", scanBatchSize, "string").Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, synthbuffer.Unavailable("failed to scan keys", err)
	}
	slices.Sort(keys)
	// SCAN may return a key more than once.
	return slices.Compact(keys), nil
}

// AcquireLock implements store.SharedStore with redislock, retrying linearly
// until timeout. The lock key expires after timeout. The wait never outlasts
// timeout even when ctx carries a later deadline; if ctx ends first its error
// is returned.
func (s *Store) AcquireLock(ctx context.Context, name string, timeout time.Duration) (store.Lock, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l, err := s.locker.Obtain(waitCtx, name, timeout, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(s.retryInterval),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, redislock.ErrNotObtained) || waitCtx.Err() != nil {
			return nil, fmt.Errorf("failed to acquire lock %q: %w", name, synthbuffer.ErrLockTimeout)
		}
		return nil, synthbuffer.Unavailable("failed to obtain lock", err)
	}
	return &lock{lock: l}, nil
}

type lock struct {
	lock *redislock.Lock
}

// Release implements store.Lock.
func (l *lock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return store.ErrLockNotHeld
	}
	if err != nil {
		return synthbuffer.Unavailable("failed to release lock", err)
	}
	return nil
}

var patternEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapePattern(s string) string {
	return patternEscaper.Replace(s)
}
