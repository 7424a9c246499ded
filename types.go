package synthbuffer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentBlock is one named piece of a generated payload, for example a
// question prompt or a single source file of an answer.
type ContentBlock struct {
	// Name identifies the block within its artifact (e.g. "index.html").
	Name string `json:"name"`

	// Content is the raw text of the block.
	Content string `json:"content"`
}

// Artifact is a single generated payload sitting in (or passing through) the buffer.
// Artifacts are immutable once enqueued.
type Artifact struct {
	// ID is the unique, time-sortable identifier of the artifact.
	// Empty IDs are assigned by the queue on enqueue.
	ID string `json:"id"`

	// Model identifies the model that produced the artifact.
	Model string `json:"model"`

	// Rank is the variant rank tag. Nil for base artifacts.
	Rank *int `json:"rank,omitempty"`

	// Strategy names the variant strategy that derived this artifact, if any.
	Strategy string `json:"strategy,omitempty"`

	// Blocks is the payload, in order.
	Blocks []ContentBlock `json:"blocks"`

	// LinkedIDs references secondary records (paired derived artifacts) that
	// are removed together with this artifact.
	LinkedIDs []string `json:"linked_ids,omitempty"`

	// CreatedAt is when the artifact was produced.
	CreatedAt time.Time `json:"created_at"`
}

// FullContent returns the concatenation of all block contents in order.
func (a Artifact) FullContent() string {
	var b strings.Builder
	for _, block := range a.Blocks {
		b.WriteString(block.Content)
	}
	return b.String()
}

// Clone returns a deep copy of the artifact.
func (a Artifact) Clone() Artifact {
	out := a
	if a.Rank != nil {
		r := *a.Rank
		out.Rank = &r
	}
	if a.Blocks != nil {
		out.Blocks = append([]ContentBlock(nil), a.Blocks...)
	}
	if a.LinkedIDs != nil {
		out.LinkedIDs = append([]string(nil), a.LinkedIDs...)
	}
	return out
}

// WithRank returns a copy of the artifact tagged with the given variant rank.
func (a Artifact) WithRank(rank int) Artifact {
	out := a.Clone()
	out.Rank = &rank
	return out
}

// NewID returns a new UUIDv7 string. UUIDv7 values sort lexicographically by
// creation time, so history keys built from them page in time order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source fails; fall back to v4.
		return uuid.New().String()
	}
	return id.String()
}

// Mode is the deployment mode. It controls history retention.
type Mode string

const (
	// ModeDev keeps history records without expiry.
	ModeDev Mode = "dev"

	// ModeProd writes history records with a bounded TTL.
	ModeProd Mode = "prod"
)

// WorkerState represents where a pool worker is in its loop.
type WorkerState string

const (
	// WorkerStateIdle is the state at the top of every loop iteration.
	WorkerStateIdle WorkerState = "idle"

	// WorkerStateComputingBacklog indicates the worker is reading queue depth and active count.
	WorkerStateComputingBacklog WorkerState = "computing_backlog"

	// WorkerStateWorking indicates the worker holds an active-worker slot and is producing.
	WorkerStateWorking WorkerState = "working"

	// WorkerStateSleeping indicates there was no work to claim.
	WorkerStateSleeping WorkerState = "sleeping"

	// WorkerStateStopped is terminal.
	WorkerStateStopped WorkerState = "stopped"
)

// AllWorkerStates lists every worker state, in loop order.
var AllWorkerStates = []WorkerState{
	WorkerStateIdle,
	WorkerStateComputingBacklog,
	WorkerStateWorking,
	WorkerStateSleeping,
	WorkerStateStopped,
}

// ProduceFunc generates one artifact. It is the external generation call
// injected into the worker pool.
//
// Errors wrapped with Fatal stop the pool; all other errors are logged and
// the worker keeps looping.
type ProduceFunc func(ctx context.Context) (Artifact, error)

// WorkTodo returns the number of units of work needed to bring the buffer to
// target, given the current queue length and the number of workers already
// producing. It never returns a negative value.
func WorkTodo(target, queueLen, active int) int {
	return max(target-queueLen-active, 0)
}
