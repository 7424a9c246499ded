package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Variants derives ranked variants from a base artifact.
type Variants interface {
	Generate(ctx context.Context, base synthbuffer.Artifact) ([]synthbuffer.Artifact, error)
}

// Records stores artifacts that are looked up by id instead of consumed from the queue.
type Records interface {
	Put(ctx context.Context, artifact synthbuffer.Artifact) (string, error)
}

// Config holds configuration for the pipeline.
type Config struct {
	// Produce generates the base artifact (required).
	Produce synthbuffer.ProduceFunc

	// Variants derives the paired artifacts (required).
	Variants Variants

	// Records receives each variant under its own id (required).
	Records Records

	// Logger is for observability (optional).
	Logger es.Logger

	// Tracer creates a span per produced base (optional).
	Tracer trace.Tracer
}

// Pipeline produces a base artifact together with its variants.
// The variants are written as standalone records and linked from the base,
// so removing the base from the queue also removes them.
type Pipeline struct {
	config Config
	tracer trace.Tracer
}

// New creates a new Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		config: cfg,
		tracer: tracing.TracerOrNoop(cfg.Tracer),
	}
}

// Produce generates a base artifact, derives and records its variants, and
// returns the base with LinkedIDs set. It has the signature of a
// synthbuffer.ProduceFunc so the pool can run it directly.
//
// Variant records already written when a later step fails are left to
// expire with the history log.
func (p *Pipeline) Produce(ctx context.Context) (synthbuffer.Artifact, error) {
	if p.config.Produce == nil || p.config.Variants == nil || p.config.Records == nil {
		return synthbuffer.Artifact{}, errors.New("pipeline requires Produce, Variants and Records")
	}

	ctx, span := p.tracer.Start(ctx, tracing.SpanPipelineProduce)
	defer span.End()

	base, err := p.config.Produce(ctx)
	if err != nil {
		return synthbuffer.Artifact{}, p.fail(span, fmt.Errorf("failed to produce base artifact: %w", err))
	}
	if base.ID == "" {
		base.ID = synthbuffer.NewID()
	}
	span.SetAttributes(attribute.String(tracing.AttrArtifactID, base.ID))

	variants, err := p.config.Variants.Generate(ctx, base)
	if err != nil {
		return synthbuffer.Artifact{}, p.fail(span, fmt.Errorf("failed to generate variants of %s: %w", base.ID, err))
	}

	linked := make([]string, 0, len(variants))
	for _, v := range variants {
		id, err := p.config.Records.Put(ctx, v)
		if err != nil {
			return synthbuffer.Artifact{}, p.fail(span, fmt.Errorf("failed to record variant of %s: %w", base.ID, err))
		}
		linked = append(linked, id)
	}

	base.LinkedIDs = append(base.LinkedIDs, linked...)

	if p.config.Logger != nil {
		p.config.Logger.Debug(ctx, "base artifact produced", "id", base.ID, "variants", len(linked))
	}

	return base, nil
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
