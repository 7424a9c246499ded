package synthbuffer

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerState_Constants(t *testing.T) {
	t.Run("WorkerStateIdle equals idle", func(t *testing.T) {
		assert.Equal(t, WorkerState("idle"), WorkerStateIdle)
	})

	t.Run("WorkerStateComputingBacklog equals computing_backlog", func(t *testing.T) {
		assert.Equal(t, WorkerState("computing_backlog"), WorkerStateComputingBacklog)
	})

	t.Run("WorkerStateWorking equals working", func(t *testing.T) {
		assert.Equal(t, WorkerState("working"), WorkerStateWorking)
	})

	t.Run("WorkerStateSleeping equals sleeping", func(t *testing.T) {
		assert.Equal(t, WorkerState("sleeping"), WorkerStateSleeping)
	})

	t.Run("WorkerStateStopped equals stopped", func(t *testing.T) {
		assert.Equal(t, WorkerState("stopped"), WorkerStateStopped)
	})

	assert.Len(t, AllWorkerStates, 5)
}

func TestArtifact_FullContent(t *testing.T) {
	a := Artifact{Blocks: []ContentBlock{
		{Name: "index.html", Content: "<p>"},
		{Name: "app.js", Content: "run()"},
	}}
	assert.Equal(t, "<p>run()", a.FullContent())
	assert.Equal(t, "", Artifact{}.FullContent())
}

func TestArtifact_Clone(t *testing.T) {
	rank := 1
	a := Artifact{
		ID:        "a",
		Rank:      &rank,
		Blocks:    []ContentBlock{{Name: "q", Content: "x"}},
		LinkedIDs: []string{"v1"},
	}

	c := a.Clone()
	c.Blocks[0].Content = "changed"
	c.LinkedIDs[0] = "changed"
	*c.Rank = 9

	assert.Equal(t, "x", a.Blocks[0].Content)
	assert.Equal(t, "v1", a.LinkedIDs[0])
	assert.Equal(t, 1, *a.Rank)
}

func TestArtifact_WithRank(t *testing.T) {
	base := Artifact{ID: "a"}

	ranked := base.WithRank(2)

	require.NotNil(t, ranked.Rank)
	assert.Equal(t, 2, *ranked.Rank)
	assert.Nil(t, base.Rank)
}

func TestArtifact_JSON(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	base := Artifact{ID: "a", Model: "m", Blocks: []ContentBlock{{Name: "q", Content: "x"}}, CreatedAt: created}

	data, err := json.Marshal(base)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "rank", "base artifacts carry no rank")
	assert.NotContains(t, string(data), "linked_ids")

	var ranked Artifact
	require.NoError(t, json.Unmarshal([]byte(`{"id":"v","rank":0,"strategy":"rewrite_request"}`), &ranked))
	require.NotNil(t, ranked.Rank, "rank 0 is distinct from no rank")
	assert.Equal(t, 0, *ranked.Rank)
}

func TestNewID_SortsByCreation(t *testing.T) {
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, NewID())
		time.Sleep(2 * time.Millisecond)
	}

	assert.True(t, sort.StringsAreSorted(ids))
	assert.Len(t, ids[0], 36)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestWorkTodo(t *testing.T) {
	tests := []struct {
		name                     string
		target, queueLen, active int
		want                     int
	}{
		{"empty buffer", 10, 0, 0, 10},
		{"partially filled", 10, 4, 3, 3},
		{"full", 10, 10, 0, 0},
		{"overfull", 10, 12, 2, 0},
		{"zero target", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WorkTodo(tt.target, tt.queueLen, tt.active))
		})
	}
}

func TestFatal(t *testing.T) {
	cause := errors.New("invalid api key")

	err := Fatal(cause)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Fatal(nil))
	assert.False(t, IsFatal(cause))
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("connection refused")

	err := Unavailable("failed to push", cause)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to push")

	wrapped := Unavailable("failed to enqueue", err)
	assert.ErrorIs(t, wrapped, ErrStoreUnavailable)
	assert.Equal(t, "failed to enqueue: "+err.Error(), wrapped.Error())

	assert.Nil(t, Unavailable("noop", nil))
}
