package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/queue"
	"github.com/getpup/synthbuffer/store"
	"github.com/getpup/synthbuffer/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func artifact(id string) synthbuffer.Artifact {
	return synthbuffer.Artifact{ID: id, Blocks: []synthbuffer.ContentBlock{{Name: "q", Content: id}}}
}

func failingQueue() *queue.Queue {
	mock := store.NewMockSharedStore()
	boom := errors.New("connection refused")
	mock.IndexFunc = func(ctx context.Context, key string, i int) (string, bool, error) {
		return "", false, boom
	}
	mock.PopFunc = func(ctx context.Context, key string) (string, bool, error) {
		return "", false, boom
	}
	mock.RangeFunc = func(ctx context.Context, key string) ([]string, error) {
		return nil, boom
	}
	return queue.New(queue.Config{Store: mock})
}

func TestNew_AppliesDefaults(t *testing.T) {
	r := New(Config{Queue: queue.New(queue.Config{Store: memory.New()})})
	assert.Equal(t, 3*time.Second, r.config.PollInterval)
}

func TestNext(t *testing.T) {
	q := queue.New(queue.Config{Store: memory.New()})
	r := New(Config{Queue: q})
	ctx := context.Background()

	assert.Nil(t, r.Next(ctx))

	_, err := q.Enqueue(ctx, artifact("a"))
	require.NoError(t, err)

	got := r.Next(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "next does not consume")
}

func TestNext_StoreErrorMeansNothingAvailable(t *testing.T) {
	r := New(Config{Queue: failingQueue()})
	assert.Nil(t, r.Next(context.Background()))
}

func TestTake_ReturnsHead(t *testing.T) {
	q := queue.New(queue.Config{Store: memory.New()})
	r := New(Config{Queue: q})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, artifact("a"))
	require.NoError(t, err)

	got, err := r.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTake_WaitsForArrival(t *testing.T) {
	q := queue.New(queue.Config{Store: memory.New()})
	r := New(Config{Queue: q, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = q.Enqueue(context.Background(), artifact("late"))
	}()

	got, err := r.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", got.ID)
}

func TestTake_ContextEnds(t *testing.T) {
	r := New(Config{Queue: failingQueue(), PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := r.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDelete(t *testing.T) {
	q := queue.New(queue.Config{Store: memory.New()})
	r := New(Config{Queue: q})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, artifact("a"))
	require.NoError(t, err)

	assert.Equal(t, 1, r.Delete(ctx, "a"))
	assert.Equal(t, 0, r.Delete(ctx, "a"))
}

func TestDelete_StoreErrorIsZero(t *testing.T) {
	r := New(Config{Queue: failingQueue()})
	assert.Equal(t, 0, r.Delete(context.Background(), "a"))
}

func TestLookup(t *testing.T) {
	q := queue.New(queue.Config{Store: memory.New()})
	r := New(Config{Queue: q})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, artifact("a"))
	require.NoError(t, err)
	_, err = r.Take(ctx)
	require.NoError(t, err)

	got, err := r.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID, "history outlives consumption")

	_, err = r.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, synthbuffer.ErrArtifactNotFound)
}
