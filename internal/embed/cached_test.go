package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps a StaticEmbedder and counts how many texts
// reach the backend.
type countingEmbedder struct {
	*StaticEmbedder
	calls int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&c.calls, int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_CacheHit(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)
	defer cached.Close()

	ctx := context.Background()

	first, err := cached.Embed(ctx, "how do I configure the watcher")
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&inner.calls))

	second, err := cached.Embed(ctx, "how do I configure the watcher")
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&inner.calls), "second embed should be served from cache")
	assert.Equal(t, first, second)
}

func TestCachedEmbedder_BatchForwardsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)
	defer cached.Close()

	ctx := context.Background()

	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, int64(1), atomic.LoadInt64(&inner.calls))

	batch, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(3), atomic.LoadInt64(&inner.calls), "only beta and gamma should reach the backend")

	direct, err := inner.StaticEmbedder.Embed(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, direct, batch[1])
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 2)
	defer cached.Close()

	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := cached.Embed(ctx, text)
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), atomic.LoadInt64(&inner.calls))

	// "one" was evicted by "three" in a size-2 cache.
	_, err := cached.Embed(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, int64(4), atomic.LoadInt64(&inner.calls))
}

func TestCachedEmbedder_DelegatesMetadata(t *testing.T) {
	inner := NewStaticEmbedder()
	cached := NewCachedEmbedder(inner, 0)
	defer cached.Close()

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
}
