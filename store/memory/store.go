package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/store"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultCleanupInterval = time.Minute
	lockPollInterval       = 10 * time.Millisecond
)

// Store is an in-memory implementation of SharedStore for tests and single-process runs.
// String values live in a go-cache instance so expiry is native; lists and lock
// leases are guarded by a sync.Mutex.
type Store struct {
	values *gocache.Cache

	mu     sync.Mutex
	lists  map[string][]string
	leases map[string]lease
}

type lease struct {
	token   string
	expires time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		values: gocache.New(gocache.NoExpiration, defaultCleanupInterval),
		lists:  make(map[string][]string),
		leases: make(map[string]lease),
	}
}

// Push appends value to the tail of the list at key.
func (s *Store) Push(ctx context.Context, key, value string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists[key] = append(s.lists[key], value)
	return len(s.lists[key]), nil
}

// Pop removes and returns the head of the list at key.
func (s *Store) Pop(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}

	head := list[0]
	if len(list) == 1 {
		delete(s.lists, key)
	} else {
		s.lists[key] = list[1:]
	}
	return head, true, nil
}

// Index returns the element at position i without removing it.
func (s *Store) Index(ctx context.Context, key string, i int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if i < 0 {
		i += len(list)
	}
	if i < 0 || i >= len(list) {
		return "", false, nil
	}
	return list[i], true, nil
}

// Len returns the length of the list at key.
func (s *Store) Len(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.lists[key]), nil
}

// Range returns a copy of every element of the list at key.
func (s *Store) Range(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.lists[key]))
	copy(out, s.lists[key])
	return out, nil
}

// RemoveFirst removes the first element equal to value.
func (s *Store) RemoveFirst(ctx context.Context, key, value string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	for i, v := range list {
		if v != value {
			continue
		}
		rest := make([]string, 0, len(list)-1)
		rest = append(rest, list[:i]...)
		rest = append(rest, list[i+1:]...)
		if len(rest) == 0 {
			delete(s.lists, key)
		} else {
			s.lists[key] = rest
		}
		return 1, nil
	}
	return 0, nil
}

// Get returns the string stored at key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.values.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

// Set stores value at key. A zero ttl means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.values.Set(key, value, ttl)
	return nil
}

// Delete removes the given keys, whether they hold strings or lists.
func (s *Store) Delete(ctx context.Context, keys ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, key := range keys {
		if _, ok := s.values.Get(key); ok {
			s.values.Delete(key)
			deleted++
			continue
		}
		if _, ok := s.lists[key]; ok {
			delete(s.lists, key)
			deleted++
		}
	}
	return deleted, nil
}

// TTL returns the remaining time to live of key, or 0 if it has no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, expires, ok := s.values.GetWithExpiration(key)
	if !ok {
		s.mu.Lock()
		_, isList := s.lists[key]
		s.mu.Unlock()
		if isList {
			return 0, nil
		}
		return 0, store.ErrKeyNotFound
	}
	if expires.IsZero() {
		return 0, nil
	}
	return time.Until(expires), nil
}

// Keys returns every string key starting with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	for key := range s.values.Items() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// AcquireLock obtains the named lock, polling until timeout elapses.
// Expired leases are taken over.
func (s *Store) AcquireLock(ctx context.Context, name string, timeout time.Duration) (store.Lock, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		if s.tryLock(name, token, timeout) {
			return &lock{store: s, name: name, token: token}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("failed to acquire lock %q: %w", name, synthbuffer.ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %q: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Store) tryLock(name, token string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if l, ok := s.leases[name]; ok && now.Before(l.expires) {
		return false
	}
	s.leases[name] = lease{token: token, expires: now.Add(ttl)}
	return true
}

func (s *Store) release(name, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[name]
	if !ok || l.token != token || !time.Now().Before(l.expires) {
		return store.ErrLockNotHeld
	}
	delete(s.leases, name)
	return nil
}

type lock struct {
	store *Store
	name  string
	token string
}

// Release implements store.Lock.
func (l *lock) Release(ctx context.Context) error {
	return l.store.release(l.name, l.token)
}
