// Package demo provides stand-in generation functions so the binary can run
// without an external model service.
package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/variant"
)

var topics = []string{
	"a todo list with local storage",
	"a pomodoro timer with pause and resume",
	"a markdown previewer",
	"a weather card that reads from a JSON fixture",
	"a sortable table of planets",
	"a dice roller with roll history",
}

var subjects = []string{"HTML", "CSS", "JavaScript"}

// Config configures the demo generator.
type Config struct {
	// Model is recorded on every artifact (default: "demo").
	Model string

	// Latency simulates generation time per call.
	Latency time.Duration
}

// Generator produces placeholder question artifacts and variants of them.
type Generator struct {
	config Config
}

// New creates a demo Generator.
func New(cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = "demo"
	}
	return &Generator{config: cfg}
}

// Produce implements synthbuffer.ProduceFunc.
func (g *Generator) Produce(ctx context.Context) (synthbuffer.Artifact, error) {
	if err := g.wait(ctx); err != nil {
		return synthbuffer.Artifact{}, err
	}

	topic := topics[rand.IntN(len(topics))]
	subject := subjects[rand.IntN(len(subjects))]

	return synthbuffer.Artifact{
		Model: g.config.Model,
		Blocks: []synthbuffer.ContentBlock{{
			Name:    "question",
			Content: fmt.Sprintf("Build %s in a single index.html file. Focus on clean %s.", topic, subject),
		}},
	}, nil
}

// Generate implements variant.GenerateFunc.
func (g *Generator) Generate(ctx context.Context, req variant.Request) (synthbuffer.Artifact, error) {
	if err := g.wait(ctx); err != nil {
		return synthbuffer.Artifact{}, err
	}

	blocks := make([]synthbuffer.ContentBlock, len(req.Base.Blocks))
	for i, b := range req.Base.Blocks {
		blocks[i] = synthbuffer.ContentBlock{Name: b.Name, Content: rewrite(req.Strategy, b.Content)}
	}

	return synthbuffer.Artifact{Model: g.config.Model, Blocks: blocks}, nil
}

func rewrite(strategy variant.Strategy, content string) string {
	switch strategy {
	case variant.StrategyRewriteRequest:
		words := strings.Fields(content)
		for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
			words[i], words[j] = words[j], words[i]
		}
		return "Rephrased request: " + strings.Join(words, " ")
	case variant.StrategyQualitativeDefect:
		words := strings.Fields(content)
		kept := words[:0:0]
		for i, w := range words {
			if i%2 == 0 {
				kept = append(kept, w)
			}
		}
		return "Degraded: " + strings.Join(kept, " ")
	case variant.StrategyPerformanceDefect:
		return content + "\n<!-- re-render the whole document on every animation frame -->\n" +
			"<script>function loop(){document.body.innerHTML=document.body.innerHTML;requestAnimationFrame(loop)}loop()</script>"
	default:
		return content
	}
}

func (g *Generator) wait(ctx context.Context) error {
	if g.config.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.config.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
