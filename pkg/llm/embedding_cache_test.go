package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls atomic.Int32
	texts atomic.Int32
	err   error
}

func (e *countingEmbedder) Name() string { return "counting" }

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.texts.Add(int32(len(texts)))
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func newCache(t *testing.T, inner EmbeddingProvider) (*CachedEmbeddingProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultEmbeddingCacheConfig()
	cfg.Namespace = "nomic-embed-text"
	return NewCachedEmbeddingProvider(inner, client, cfg), mr
}

func TestCachedEmbedding_HitAfterMiss(t *testing.T) {
	inner := &countingEmbedder{}
	c, _ := newCache(t, inner)
	ctx := context.Background()

	first, err := c.Embed(ctx, []string{"climate", "policy"})
	require.NoError(t, err)
	second, err := c.Embed(ctx, []string{"climate", "policy"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedding_PartialMissKeepsOrder(t *testing.T) {
	inner := &countingEmbedder{}
	c, _ := newCache(t, inner)
	ctx := context.Background()

	_, err := c.EmbedSingle(ctx, "bb")
	require.NoError(t, err)

	out, err := c.Embed(ctx, []string{"a", "bb", "cccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}, {4, 1}}, out)
	assert.EqualValues(t, 3, inner.texts.Load())
}

func TestCachedEmbedding_TTLAndNamespace(t *testing.T) {
	inner := &countingEmbedder{}
	c, mr := newCache(t, inner)
	ctx := context.Background()

	_, err := c.EmbedSingle(ctx, "x")
	require.NoError(t, err)

	key := c.cacheKey("x")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 24*time.Hour, mr.TTL(key))

	other := NewCachedEmbeddingProvider(inner, c.redis, &EmbeddingCacheConfig{
		Enabled: true, TTL: time.Hour, KeyPrefix: "kb:emb:", Namespace: "bge-m3",
	})
	assert.NotEqual(t, key, other.cacheKey("x"))
}

func TestCachedEmbedding_CorruptEntryRecomputed(t *testing.T) {
	inner := &countingEmbedder{}
	c, mr := newCache(t, inner)

	require.NoError(t, mr.Set(c.cacheKey("x"), "not-json"))
	out, err := c.EmbedSingle(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, out)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestCachedEmbedding_RedisDownFallsBack(t *testing.T) {
	inner := &countingEmbedder{}
	c, mr := newCache(t, inner)
	mr.Close()

	out, err := c.Embed(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}}, out)
}

func TestCachedEmbedding_ProviderError(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("boom")}
	c, _ := newCache(t, inner)

	_, err := c.Embed(context.Background(), []string{"abc"})
	assert.Error(t, err)
}

func TestCachedEmbedding_DisabledPassesThrough(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbeddingProvider(inner, nil, nil)

	_, err := c.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())
	assert.Equal(t, "counting-cached", c.Name())
}

func TestCachedEmbedding_ClearCache(t *testing.T) {
	inner := &countingEmbedder{}
	c, _ := newCache(t, inner)
	ctx := context.Background()

	_, err := c.Embed(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)

	n, err := c.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
