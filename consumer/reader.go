package consumer

import (
	"context"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/synthbuffer"
)

// Queue is the part of the durable queue a consumer reads from.
type Queue interface {
	Peek(ctx context.Context) (*synthbuffer.Artifact, error)
	Dequeue(ctx context.Context) (*synthbuffer.Artifact, error)
	RemoveByID(ctx context.Context, id string) (int, error)
	Get(ctx context.Context, id string) (synthbuffer.Artifact, error)
}

// Config holds configuration for the Reader.
type Config struct {
	// Queue is the buffer to read from (required).
	Queue Queue

	// PollInterval is how often Take retries an empty queue (default: 3s).
	PollInterval time.Duration

	// Logger is for observability (optional).
	Logger es.Logger
}

// Reader is the downstream side of the buffer. Read failures degrade to
// "nothing available" so callers never see transient store errors.
type Reader struct {
	config Config
}

// New creates a new Reader with the given configuration.
// Applies default values for PollInterval if not set.
func New(cfg Config) *Reader {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 3 * time.Second
	}

	return &Reader{config: cfg}
}

// Next returns the head of the queue without removing it, or nil if none is available.
func (r *Reader) Next(ctx context.Context) *synthbuffer.Artifact {
	artifact, err := r.config.Queue.Peek(ctx)
	if err != nil {
		r.logError(ctx, "failed to peek queue", err)
		return nil
	}
	return artifact
}

// Take removes and returns the head of the queue, polling until an artifact
// arrives. Returns the context error if it ends first.
func (r *Reader) Take(ctx context.Context) (synthbuffer.Artifact, error) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		artifact, err := r.config.Queue.Dequeue(ctx)
		if err != nil {
			r.logError(ctx, "failed to dequeue", err)
		} else if artifact != nil {
			return *artifact, nil
		}

		select {
		case <-ctx.Done():
			return synthbuffer.Artifact{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Delete removes the artifact with the given id and its linked records.
// Returns the number of queue entries removed; failures count as 0.
func (r *Reader) Delete(ctx context.Context, id string) int {
	removed, err := r.config.Queue.RemoveByID(ctx, id)
	if err != nil {
		r.logError(ctx, "failed to remove artifact", err, "id", id)
		return 0
	}
	return removed
}

// Lookup returns the history record for id, whether or not it is still queued.
func (r *Reader) Lookup(ctx context.Context, id string) (synthbuffer.Artifact, error) {
	return r.config.Queue.Get(ctx, id)
}

func (r *Reader) logError(ctx context.Context, msg string, err error, args ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Error(ctx, msg, append(args, "error", err)...)
	}
}
