package variant

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/metrics"
	"github.com/getpup/synthbuffer/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Strategy names how a variant is derived from its base artifact.
type Strategy string

const (
	// StrategyPassThrough reuses the base content unchanged under a new id.
	StrategyPassThrough Strategy = "pass_through"

	// StrategyRewriteRequest rewrites the request and generates a fresh response to it.
	StrategyRewriteRequest Strategy = "rewrite_request"

	// StrategyQualitativeDefect degrades the quality of the base response.
	StrategyQualitativeDefect Strategy = "qualitative_defect"

	// StrategyPerformanceDefect degrades the runtime performance of the base response.
	StrategyPerformanceDefect Strategy = "performance_defect"
)

// DefaultStrategies returns the strategies picked from when none are configured.
func DefaultStrategies() []Strategy {
	return []Strategy{StrategyRewriteRequest, StrategyQualitativeDefect, StrategyPerformanceDefect}
}

// ParseStrategy returns the strategy with the given name.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(name); s {
	case StrategyPassThrough, StrategyRewriteRequest, StrategyQualitativeDefect, StrategyPerformanceDefect:
		return s, nil
	default:
		return "", fmt.Errorf("unknown variant strategy %q", name)
	}
}

// Request describes one variant generation call.
type Request struct {
	// Base is the artifact the variant is derived from.
	Base synthbuffer.Artifact

	// Rank is the variant's rank tag, 1..Count.
	Rank int

	// Strategy is the derivation strategy for this task.
	Strategy Strategy

	// Attempt is 1 for the first call and increments on each duplicate retry.
	Attempt int
}

// GenerateFunc produces one candidate variant. Wrap authentication and
// permission failures with synthbuffer.Fatal.
type GenerateFunc func(ctx context.Context, req Request) (synthbuffer.Artifact, error)

// Picker chooses the strategy for the task with the given rank.
type Picker func(rank int, strategies []Strategy) Strategy

// RandomPicker picks uniformly at random; repeats across ranks are allowed.
func RandomPicker(_ int, strategies []Strategy) Strategy {
	return strategies[rand.IntN(len(strategies))]
}

// Config holds configuration for the variant generator.
type Config struct {
	// Generate produces candidate variants (required).
	Generate GenerateFunc

	// Count is the number of variants per base, one per rank (default: 3).
	Count int

	// Strategies are the strategies to pick from (default: DefaultStrategies()).
	Strategies []Strategy

	// Threshold is the similarity above which a candidate is a duplicate (default: 0.99).
	Threshold float64

	// MaxAttempts bounds generation calls per task, duplicates included (default: 2).
	MaxAttempts int

	// Picker chooses each task's strategy (default: RandomPicker).
	Picker Picker

	// Logger is for observability (optional).
	Logger es.Logger

	// Tracer creates spans for the batch and each task (optional).
	Tracer trace.Tracer

	// Collector records attempt and duplicate metrics (optional).
	Collector *metrics.Collector
}

// Generator derives ranked variants of a base artifact concurrently.
type Generator struct {
	config Config
	tracer trace.Tracer
}

// New creates a new Generator with the given configuration.
// Applies default values for Count, Strategies, Threshold, MaxAttempts and Picker if not set.
// A non-positive Count or MaxAttempts also gets the default.
func New(cfg Config) *Generator {
	if cfg.Count <= 0 {
		cfg.Count = 3
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = DefaultStrategies()
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.99
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Picker == nil {
		cfg.Picker = RandomPicker
	}

	return &Generator{
		config: cfg,
		tracer: tracing.TracerOrNoop(cfg.Tracer),
	}
}

// Generate runs one task per rank 1..Count concurrently and waits for all of them.
// Results are ordered by rank. If any task fails the whole batch fails with
// every task error joined.
func (g *Generator) Generate(ctx context.Context, base synthbuffer.Artifact) ([]synthbuffer.Artifact, error) {
	if g.config.Generate == nil {
		return nil, errors.New("variant generator requires a Generate function")
	}

	ctx, span := g.tracer.Start(ctx, tracing.SpanVariantGenerate, trace.WithAttributes(
		attribute.String(tracing.AttrArtifactID, base.ID),
	))
	defer span.End()

	results := make([]synthbuffer.Artifact, g.config.Count)
	errs := make([]error, g.config.Count)

	var wg sync.WaitGroup
	for i := 0; i < g.config.Count; i++ {
		rank := i + 1
		strategy := g.config.Picker(rank, g.config.Strategies)

		wg.Add(1)
		go func() {
			defer wg.Done()
			variant, err := g.task(ctx, base, rank, strategy)
			if err != nil {
				errs[rank-1] = fmt.Errorf("variant %d (%s): %w", rank, strategy, err)
				return
			}
			results[rank-1] = variant
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return results, nil
}

// task produces the variant for one rank, retrying near-duplicates of the
// base with the same strategy until MaxAttempts calls have been made.
func (g *Generator) task(ctx context.Context, base synthbuffer.Artifact, rank int, strategy Strategy) (synthbuffer.Artifact, error) {
	ctx, span := g.tracer.Start(ctx, tracing.SpanVariantTask, trace.WithAttributes(
		attribute.Int(tracing.AttrVariantRank, rank),
		attribute.String(tracing.AttrStrategy, string(strategy)),
	))
	defer span.End()

	if strategy == StrategyPassThrough {
		return g.finalize(base.Clone(), base, rank, strategy), nil
	}

	baseContent := base.FullContent()
	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		if g.config.Collector != nil {
			g.config.Collector.IncVariantAttempts(string(strategy))
		}

		candidate, err := g.config.Generate(ctx, Request{
			Base:     base,
			Rank:     rank,
			Strategy: strategy,
			Attempt:  attempt,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return synthbuffer.Artifact{}, err
		}

		similarity := Similarity(baseContent, candidate.FullContent())
		span.SetAttributes(
			attribute.Int(tracing.AttrAttempt, attempt),
			attribute.Float64(tracing.AttrSimilarity, similarity),
		)

		if similarity <= g.config.Threshold {
			return g.finalize(candidate, base, rank, strategy), nil
		}

		if g.config.Collector != nil {
			g.config.Collector.IncDuplicateVariants(string(strategy))
		}
		if g.config.Logger != nil {
			g.config.Logger.Error(ctx, "variant is a near-duplicate of its base, retrying",
				"baseID", base.ID, "rank", rank, "strategy", strategy, "attempt", attempt, "similarity", similarity)
		}
	}

	span.SetStatus(codes.Error, synthbuffer.ErrDuplicateVariant.Error())
	return synthbuffer.Artifact{}, fmt.Errorf("%w after %d attempts", synthbuffer.ErrDuplicateVariant, g.config.MaxAttempts)
}

// finalize tags a candidate with its rank and strategy. Pass-through clones
// keep the base content but always get a new id.
func (g *Generator) finalize(candidate, base synthbuffer.Artifact, rank int, strategy Strategy) synthbuffer.Artifact {
	if candidate.ID == "" || candidate.ID == base.ID {
		candidate.ID = synthbuffer.NewID()
	}
	if candidate.Model == "" {
		candidate.Model = base.Model
	}
	candidate.CreatedAt = time.Now().UTC()
	candidate.Strategy = string(strategy)
	candidate.LinkedIDs = nil
	return candidate.WithRank(rank)
}
