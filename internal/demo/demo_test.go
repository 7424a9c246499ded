package demo

import (
	"context"
	"testing"
	"time"

	"github.com/getpup/synthbuffer/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduce(t *testing.T) {
	g := New(Config{})

	a, err := g.Produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", a.Model)
	require.Len(t, a.Blocks, 1)
	assert.Contains(t, a.Blocks[0].Content, "index.html")
}

func TestProduce_HonoursCancellation(t *testing.T) {
	g := New(Config{Latency: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Produce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_VariantsAreNotDuplicates(t *testing.T) {
	g := New(Config{})
	base, err := g.Produce(context.Background())
	require.NoError(t, err)

	for _, s := range variant.DefaultStrategies() {
		v, err := g.Generate(context.Background(), variant.Request{Base: base, Rank: 1, Strategy: s, Attempt: 1})
		require.NoError(t, err)
		assert.Less(t, variant.Similarity(base.FullContent(), v.FullContent()), 0.99, "strategy %s", s)
	}
}

func TestGenerate_WithVariantGenerator(t *testing.T) {
	g := New(Config{})
	base, err := g.Produce(context.Background())
	require.NoError(t, err)

	variants, err := variant.New(variant.Config{Generate: g.Generate}).Generate(context.Background(), base)
	require.NoError(t, err)
	assert.Len(t, variants, 3)
}
