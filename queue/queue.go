package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/metrics"
	"github.com/getpup/synthbuffer/store"
)

const (
	// DefaultNamespace is the key prefix used when none is configured.
	DefaultNamespace = "synthetic"

	// DefaultHistoryTTL is how long history records live in prod mode.
	DefaultHistoryTTL = 4 * time.Hour
)

// ErrCorruptEntry indicates a stored record could not be decoded.
var ErrCorruptEntry = errors.New("corrupt queue entry")

// Config holds configuration for the durable queue.
type Config struct {
	// Store is the shared store holding the queue and history (required).
	Store store.SharedStore

	// Namespace prefixes every key (default: "synthetic").
	Namespace string

	// Mode selects history retention (default: dev, no expiry).
	Mode synthbuffer.Mode

	// HistoryTTL is the history record lifetime in prod mode (default: 4h).
	HistoryTTL time.Duration

	// Logger is for observability (optional).
	Logger es.Logger

	// Collector records queue operation metrics (optional).
	Collector *metrics.Collector
}

// Queue is a FIFO of ready artifacts in the shared store, with an
// independent history log keyed by artifact id.
// Every queue entry has its history record written before it is pushed.
type Queue struct {
	config Config
}

// New creates a new Queue with the given configuration.
// Applies default values for Namespace, Mode and HistoryTTL if not set.
func New(cfg Config) *Queue {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Mode == "" {
		cfg.Mode = synthbuffer.ModeDev
	}
	if cfg.HistoryTTL == 0 {
		cfg.HistoryTTL = DefaultHistoryTTL
	}

	return &Queue{config: cfg}
}

// Namespace returns the configured key prefix.
func (q *Queue) Namespace() string {
	return q.config.Namespace
}

// Key returns the store key of the live list.
func (q *Queue) Key() string {
	return q.config.Namespace + ":queue"
}

// HistoryKey returns the store key of the history record for id.
func (q *Queue) HistoryKey(id string) string {
	return q.historyPrefix() + id
}

func (q *Queue) historyPrefix() string {
	return q.config.Namespace + ":history:"
}

func (q *Queue) historyTTL() time.Duration {
	if q.config.Mode == synthbuffer.ModeProd {
		return q.config.HistoryTTL
	}
	return 0
}

// Enqueue records the artifact in history and appends it to the queue.
// An empty ID is filled with a new UUIDv7 and a zero CreatedAt with the current time.
// A failed history write aborts before the push.
// Returns the queue length after the push.
func (q *Queue) Enqueue(ctx context.Context, artifact synthbuffer.Artifact) (int, error) {
	artifact, data, err := q.prepare(artifact)
	if err != nil {
		return 0, err
	}

	if err := q.config.Store.Set(ctx, q.HistoryKey(artifact.ID), data, q.historyTTL()); err != nil {
		return 0, synthbuffer.Unavailable(fmt.Sprintf("failed to write history for %s", artifact.ID), err)
	}

	n, err := q.config.Store.Push(ctx, q.Key(), data)
	if err != nil {
		return 0, synthbuffer.Unavailable(fmt.Sprintf("failed to enqueue %s", artifact.ID), err)
	}

	q.countOp("enqueue")
	if q.config.Logger != nil {
		q.config.Logger.Debug(ctx, "artifact enqueued", "id", artifact.ID, "length", n)
	}

	return n, nil
}

// Put writes a history record only. It is used for derived artifacts that
// are looked up by id rather than consumed from the queue.
// Returns the artifact's id, assigning one if it was empty.
func (q *Queue) Put(ctx context.Context, artifact synthbuffer.Artifact) (string, error) {
	artifact, data, err := q.prepare(artifact)
	if err != nil {
		return "", err
	}

	if err := q.config.Store.Set(ctx, q.HistoryKey(artifact.ID), data, q.historyTTL()); err != nil {
		return "", synthbuffer.Unavailable(fmt.Sprintf("failed to write history for %s", artifact.ID), err)
	}

	q.countOp("put")
	return artifact.ID, nil
}

// Dequeue removes and returns the head of the queue, or nil if it is empty.
// The history record is left untouched.
func (q *Queue) Dequeue(ctx context.Context) (*synthbuffer.Artifact, error) {
	data, ok, err := q.config.Store.Pop(ctx, q.Key())
	if err != nil {
		return nil, synthbuffer.Unavailable("failed to dequeue", err)
	}
	if !ok {
		return nil, nil
	}

	q.countOp("dequeue")
	return decode(data)
}

// Peek returns the head of the queue without removing it, or nil if it is empty.
func (q *Queue) Peek(ctx context.Context) (*synthbuffer.Artifact, error) {
	data, ok, err := q.config.Store.Index(ctx, q.Key(), 0)
	if err != nil {
		return nil, synthbuffer.Unavailable("failed to peek", err)
	}
	if !ok {
		return nil, nil
	}

	q.countOp("peek")
	return decode(data)
}

// Len returns the number of artifacts in the queue.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.config.Store.Len(ctx, q.Key())
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to get queue length", err)
	}
	return n, nil
}

// RemoveByID removes the first queue entry with the given id, then deletes
// its history record and every linked record. The scan is O(n) in queue length.
// Entries that cannot be decoded are skipped.
// Returns the number of queue entries removed (0 if absent).
func (q *Queue) RemoveByID(ctx context.Context, id string) (int, error) {
	entries, err := q.config.Store.Range(ctx, q.Key())
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to scan queue", err)
	}

	for _, data := range entries {
		artifact, err := decode(data)
		if err != nil {
			if q.config.Logger != nil {
				q.config.Logger.Error(ctx, "skipping undecodable queue entry", "error", err)
			}
			continue
		}
		if artifact.ID != id {
			continue
		}

		removed, err := q.config.Store.RemoveFirst(ctx, q.Key(), data)
		if err != nil {
			return 0, synthbuffer.Unavailable(fmt.Sprintf("failed to remove %s", id), err)
		}
		if removed == 0 {
			// A concurrent consumer took it between the scan and the removal.
			return 0, nil
		}

		keys := make([]string, 0, 1+len(artifact.LinkedIDs))
		keys = append(keys, q.HistoryKey(id))
		for _, linked := range artifact.LinkedIDs {
			keys = append(keys, q.HistoryKey(linked))
		}
		if _, err := q.config.Store.Delete(ctx, keys...); err != nil {
			return removed, synthbuffer.Unavailable(fmt.Sprintf("failed to delete records for %s", id), err)
		}

		q.countOp("remove")
		if q.config.Logger != nil {
			q.config.Logger.Info(ctx, "artifact removed", "id", id, "linked", len(artifact.LinkedIDs))
		}
		return removed, nil
	}

	return 0, nil
}

// Get returns the history record for id.
// Returns synthbuffer.ErrArtifactNotFound if no record exists.
func (q *Queue) Get(ctx context.Context, id string) (synthbuffer.Artifact, error) {
	data, ok, err := q.config.Store.Get(ctx, q.HistoryKey(id))
	if err != nil {
		return synthbuffer.Artifact{}, synthbuffer.Unavailable(fmt.Sprintf("failed to get %s", id), err)
	}
	if !ok {
		return synthbuffer.Artifact{}, fmt.Errorf("%s: %w", id, synthbuffer.ErrArtifactNotFound)
	}

	artifact, err := decode(data)
	if err != nil {
		return synthbuffer.Artifact{}, err
	}
	return *artifact, nil
}

// History returns the ids of live history records in time order.
// A positive limit keeps only the newest limit ids.
func (q *Queue) History(ctx context.Context, limit int) ([]string, error) {
	keys, err := q.config.Store.Keys(ctx, q.historyPrefix())
	if err != nil {
		return nil, synthbuffer.Unavailable("failed to list history", err)
	}

	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = strings.TrimPrefix(key, q.historyPrefix())
	}
	return ids, nil
}

func (q *Queue) prepare(artifact synthbuffer.Artifact) (synthbuffer.Artifact, string, error) {
	if artifact.ID == "" {
		artifact.ID = synthbuffer.NewID()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return artifact, "", fmt.Errorf("failed to encode artifact %s: %w", artifact.ID, err)
	}
	return artifact, string(data), nil
}

func (q *Queue) countOp(op string) {
	if q.config.Collector != nil {
		q.config.Collector.IncQueueOperation(op)
	}
}

func decode(data string) (*synthbuffer.Artifact, error) {
	var artifact synthbuffer.Artifact
	if err := json.Unmarshal([]byte(data), &artifact); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	return &artifact, nil
}
