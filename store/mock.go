package store

import (
	"context"
	"sync"
	"time"
)

// MockSharedStore is a configurable mock implementation of SharedStore
// for use in tests. It allows setting up return values, tracking method
// calls, and injecting errors for testing failure paths.
type MockSharedStore struct {
	mu sync.RWMutex

	// PushFunc is called by Push if set.
	PushFunc func(ctx context.Context, key, value string) (int, error)

	// PopFunc is called by Pop if set.
	PopFunc func(ctx context.Context, key string) (string, bool, error)

	// IndexFunc is called by Index if set.
	IndexFunc func(ctx context.Context, key string, i int) (string, bool, error)

	// LenFunc is called by Len if set.
	LenFunc func(ctx context.Context, key string) (int, error)

	// RangeFunc is called by Range if set.
	RangeFunc func(ctx context.Context, key string) ([]string, error)

	// RemoveFirstFunc is called by RemoveFirst if set.
	RemoveFirstFunc func(ctx context.Context, key, value string) (int, error)

	// GetFunc is called by Get if set.
	GetFunc func(ctx context.Context, key string) (string, bool, error)

	// SetFunc is called by Set if set.
	SetFunc func(ctx context.Context, key, value string, ttl time.Duration) error

	// DeleteFunc is called by Delete if set.
	DeleteFunc func(ctx context.Context, keys ...string) (int, error)

	// TTLFunc is called by TTL if set.
	TTLFunc func(ctx context.Context, key string) (time.Duration, error)

	// KeysFunc is called by Keys if set.
	KeysFunc func(ctx context.Context, prefix string) ([]string, error)

	// AcquireLockFunc is called by AcquireLock if set.
	AcquireLockFunc func(ctx context.Context, name string, timeout time.Duration) (Lock, error)

	// Call tracking
	PushCalls        []PushCall
	PopCalls         []KeyCall
	IndexCalls       []IndexCall
	LenCalls         []KeyCall
	RangeCalls       []KeyCall
	RemoveFirstCalls []RemoveFirstCall
	GetCalls         []KeyCall
	SetCalls         []SetCall
	DeleteCalls      []DeleteCall
	TTLCalls         []KeyCall
	KeysCalls        []KeysCall
	AcquireLockCalls []AcquireLockCall
}

// Call tracking structs
type KeyCall struct {
	Key string
}

type PushCall struct {
	Key   string
	Value string
}

type IndexCall struct {
	Key   string
	Index int
}

type RemoveFirstCall struct {
	Key   string
	Value string
}

type SetCall struct {
	Key   string
	Value string
	TTL   time.Duration
}

type DeleteCall struct {
	Keys []string
}

type KeysCall struct {
	Prefix string
}

type AcquireLockCall struct {
	Name    string
	Timeout time.Duration
}

// NewMockSharedStore creates a new mock shared store.
func NewMockSharedStore() *MockSharedStore {
	return &MockSharedStore{}
}

// Push implements SharedStore.
func (m *MockSharedStore) Push(ctx context.Context, key, value string) (int, error) {
	m.mu.Lock()
	m.PushCalls = append(m.PushCalls, PushCall{Key: key, Value: value})
	m.mu.Unlock()

	if m.PushFunc != nil {
		return m.PushFunc(ctx, key, value)
	}

	return 1, nil
}

// Pop implements SharedStore.
func (m *MockSharedStore) Pop(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	m.PopCalls = append(m.PopCalls, KeyCall{Key: key})
	m.mu.Unlock()

	if m.PopFunc != nil {
		return m.PopFunc(ctx, key)
	}

	return "", false, nil
}

// Index implements SharedStore.
func (m *MockSharedStore) Index(ctx context.Context, key string, i int) (string, bool, error) {
	m.mu.Lock()
	m.IndexCalls = append(m.IndexCalls, IndexCall{Key: key, Index: i})
	m.mu.Unlock()

	if m.IndexFunc != nil {
		return m.IndexFunc(ctx, key, i)
	}

	return "", false, nil
}

// Len implements SharedStore.
func (m *MockSharedStore) Len(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	m.LenCalls = append(m.LenCalls, KeyCall{Key: key})
	m.mu.Unlock()

	if m.LenFunc != nil {
		return m.LenFunc(ctx, key)
	}

	return 0, nil
}

// Range implements SharedStore.
func (m *MockSharedStore) Range(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	m.RangeCalls = append(m.RangeCalls, KeyCall{Key: key})
	m.mu.Unlock()

	if m.RangeFunc != nil {
		return m.RangeFunc(ctx, key)
	}

	return []string{}, nil
}

// RemoveFirst implements SharedStore.
func (m *MockSharedStore) RemoveFirst(ctx context.Context, key, value string) (int, error) {
	m.mu.Lock()
	m.RemoveFirstCalls = append(m.RemoveFirstCalls, RemoveFirstCall{Key: key, Value: value})
	m.mu.Unlock()

	if m.RemoveFirstFunc != nil {
		return m.RemoveFirstFunc(ctx, key, value)
	}

	return 0, nil
}

// Get implements SharedStore.
func (m *MockSharedStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, KeyCall{Key: key})
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}

	return "", false, nil
}

// Set implements SharedStore.
func (m *MockSharedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.SetCalls = append(m.SetCalls, SetCall{Key: key, Value: value, TTL: ttl})
	m.mu.Unlock()

	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}

	return nil
}

// Delete implements SharedStore.
func (m *MockSharedStore) Delete(ctx context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, DeleteCall{Keys: append([]string(nil), keys...)})
	m.mu.Unlock()

	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keys...)
	}

	return 0, nil
}

// TTL implements SharedStore.
func (m *MockSharedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	m.TTLCalls = append(m.TTLCalls, KeyCall{Key: key})
	m.mu.Unlock()

	if m.TTLFunc != nil {
		return m.TTLFunc(ctx, key)
	}

	return 0, ErrKeyNotFound
}

// Keys implements SharedStore.
func (m *MockSharedStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	m.KeysCalls = append(m.KeysCalls, KeysCall{Prefix: prefix})
	m.mu.Unlock()

	if m.KeysFunc != nil {
		return m.KeysFunc(ctx, prefix)
	}

	return []string{}, nil
}

// AcquireLock implements SharedStore. Without AcquireLockFunc it always
// succeeds and returns a MockLock.
func (m *MockSharedStore) AcquireLock(ctx context.Context, name string, timeout time.Duration) (Lock, error) {
	m.mu.Lock()
	m.AcquireLockCalls = append(m.AcquireLockCalls, AcquireLockCall{Name: name, Timeout: timeout})
	m.mu.Unlock()

	if m.AcquireLockFunc != nil {
		return m.AcquireLockFunc(ctx, name, timeout)
	}

	return &MockLock{}, nil
}

// Reset clears all call tracking data.
func (m *MockSharedStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PushCalls = nil
	m.PopCalls = nil
	m.IndexCalls = nil
	m.LenCalls = nil
	m.RangeCalls = nil
	m.RemoveFirstCalls = nil
	m.GetCalls = nil
	m.SetCalls = nil
	m.DeleteCalls = nil
	m.TTLCalls = nil
	m.KeysCalls = nil
	m.AcquireLockCalls = nil
}

// MockLock is a Lock that records releases.
type MockLock struct {
	mu sync.Mutex

	// ReleaseFunc is called by Release if set.
	ReleaseFunc func(ctx context.Context) error

	// Releases counts calls to Release.
	Releases int
}

// Release implements Lock.
func (l *MockLock) Release(ctx context.Context) error {
	l.mu.Lock()
	l.Releases++
	l.mu.Unlock()

	if l.ReleaseFunc != nil {
		return l.ReleaseFunc(ctx)
	}

	return nil
}

// ReleaseCount returns how many times Release was called.
func (l *MockLock) ReleaseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Releases
}
