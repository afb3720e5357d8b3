package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/knowledge-base/internal/kb/model"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
)

func scored(category string, seq int64, score float64) model.ScoredChunk {
	return model.ScoredChunk{
		Chunk:    model.Chunk{ID: category + "-" + string(rune('a'+seq)), Category: category},
		Score:    score,
		Category: category,
		Seq:      seq,
	}
}

func TestMergeTopK_CrossCategory(t *testing.T) {
	a := []model.ScoredChunk{scored("A", 0, 0.9), scored("A", 1, 0.5)}
	b := []model.ScoredChunk{scored("B", 0, 0.8), scored("B", 1, 0.3)}

	got := MergeTopK([][]model.ScoredChunk{a, b}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{0.9, 0.8, 0.5}, []float64{got[0].Score, got[1].Score, got[2].Score})
	assert.Equal(t, []string{"A", "B", "A"}, []string{got[0].Category, got[1].Category, got[2].Category})
}

func TestMergeTopK_TiesKeepCategoryThenInsertionOrder(t *testing.T) {
	a := []model.ScoredChunk{scored("A", 0, 0.7), scored("A", 1, 0.7)}
	b := []model.ScoredChunk{scored("B", 0, 0.7)}

	got := MergeTopK([][]model.ScoredChunk{a, b}, 10)
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Category)
	assert.Equal(t, int64(0), got[0].Seq)
	assert.Equal(t, "A", got[1].Category)
	assert.Equal(t, int64(1), got[1].Seq)
	assert.Equal(t, "B", got[2].Category)

	assert.Empty(t, MergeTopK(nil, 3))
}

func TestRetriever_CrossCategoryMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 归一化分数 (cos+1)/2：0.9→0.8, 0.5→0, 0.8→0.6, 0.3→-0.4
	a, err := env.registry.Get("A")
	require.NoError(t, err)
	require.NoError(t, a.Insert(ctx, []model.Chunk{
		{ID: "a0", DocumentID: "da", Vector: unitVector(0.8)},
		{ID: "a1", DocumentID: "da", Ordinal: 1, Vector: unitVector(0)},
	}))
	b, err := env.registry.Get("B")
	require.NoError(t, err)
	require.NoError(t, b.Insert(ctx, []model.Chunk{
		{ID: "b0", DocumentID: "db", Vector: unitVector(0.6)},
		{ID: "b1", DocumentID: "db", Ordinal: 1, Vector: unitVector(-0.4)},
	}))

	r := NewRetriever(env.registry, fixedEmbedder{vec: []float32{1, 0}}, nil, nil)
	res, err := r.Retrieve(ctx, RetrieveRequest{Query: "q", K: 3})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)

	assert.Equal(t, []string{"a0", "b0", "a1"}, []string{res.Chunks[0].ID, res.Chunks[1].ID, res.Chunks[2].ID})
	assert.InDelta(t, 0.9, res.Chunks[0].Score, 1e-6)
	assert.InDelta(t, 0.8, res.Chunks[1].Score, 1e-6)
	assert.InDelta(t, 0.5, res.Chunks[2].Score, 1e-6)
	assert.Empty(t, res.Omitted)
}

func TestRetriever_EmptyKnowledgeBase(t *testing.T) {
	env := newTestEnv(t)
	emb := &hashEmbedder{}
	r := NewRetriever(env.registry, emb, nil, nil)

	res, err := r.Retrieve(context.Background(), RetrieveRequest{Query: "anything", K: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Zero(t, emb.calls.Load())

	res, err = r.Retrieve(context.Background(), RetrieveRequest{Query: "anything", Category: "Unknown", K: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	_, ok := env.registry.Lookup("Unknown")
	assert.False(t, ok)
}

func TestRetriever_Validation(t *testing.T) {
	env := newTestEnv(t)
	r := NewRetriever(env.registry, &hashEmbedder{}, nil, nil)

	_, err := r.Retrieve(context.Background(), RetrieveRequest{Query: "   ", K: 5})
	assert.True(t, kberrors.Is(err, kberrors.ErrValidation))
	_, err = r.Retrieve(context.Background(), RetrieveRequest{Query: "q", K: 0})
	assert.True(t, kberrors.Is(err, kberrors.ErrValidation))
}

func TestRetriever_OmitsUnhealthyCategory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	good, err := env.registry.Get("Good")
	require.NoError(t, err)
	require.NoError(t, good.Insert(ctx, []model.Chunk{{ID: "g0", DocumentID: "g", Vector: []float32{1, 0}}}))
	// 维度与查询向量不一致的类别
	odd, err := env.registry.Get("Odd")
	require.NoError(t, err)
	require.NoError(t, odd.Insert(ctx, []model.Chunk{{ID: "o0", DocumentID: "o", Vector: []float32{1, 0, 0}}}))

	r := NewRetriever(env.registry, fixedEmbedder{vec: []float32{1, 0}}, nil, nil)
	res, err := r.Retrieve(ctx, RetrieveRequest{Query: "q", K: 5})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "g0", res.Chunks[0].ID)
	assert.Equal(t, []string{"Odd"}, res.Omitted)

	// 指定类别时故障直接返回
	_, err = r.Retrieve(ctx, RetrieveRequest{Query: "q", Category: "Odd", K: 5})
	assert.True(t, kberrors.Is(err, kberrors.ErrEmbeddingDimensionMismatch))
}

func TestRetriever_EmbeddingFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	idx, err := env.registry.Get("Health")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, []model.Chunk{{ID: "h0", DocumentID: "h", Vector: hashVector("health")}}))

	boom := kberrors.ErrEmbeddingUnavailable.WithCause(errors.New("down"))
	r := NewRetriever(env.registry, &hashEmbedder{err: boom}, nil, nil)
	_, err = r.Retrieve(ctx, RetrieveRequest{Query: "health", K: 5})
	assert.True(t, kberrors.Is(err, kberrors.ErrEmbeddingUnavailable))
}

func TestRetriever_MinScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	idx, err := env.registry.Get("A")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, []model.Chunk{
		{ID: "near", DocumentID: "d", Vector: unitVector(0.9)},
		{ID: "far", DocumentID: "d", Ordinal: 1, Vector: unitVector(-0.9)},
	}))

	r := NewRetriever(env.registry, fixedEmbedder{vec: []float32{1, 0}}, nil, nil)
	res, err := r.Retrieve(ctx, RetrieveRequest{Query: "q", K: 5, MinScore: 0.6})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "near", res.Chunks[0].ID)
}
