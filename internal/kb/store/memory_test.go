package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IdenticalVectorScoresOne(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "c", 3))

	target := []float32{0.12, -0.7, 0.33}
	require.NoError(t, s.Insert(ctx, "c", []Record{
		{Seq: 0, ChunkID: "a", Vector: []float32{1, 0, 0}},
		{Seq: 1, ChunkID: "b", Vector: target},
		{Seq: 2, ChunkID: "c", Vector: []float32{0, 1, 0}},
	}))

	hits, err := s.Search(ctx, "c", target, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "b", hits[0].ChunkID)
	assert.Equal(t, 1.0, hits[0].Cosine)
}

func TestMemoryStore_TiesKeepInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "c", 2))
	require.NoError(t, s.Insert(ctx, "c", []Record{
		{Seq: 0, ChunkID: "first", Vector: []float32{1, 1}},
		{Seq: 1, ChunkID: "second", Vector: []float32{2, 2}},
		{Seq: 2, ChunkID: "third", Vector: []float32{3, 3}},
	}))

	hits, err := s.Search(ctx, "c", []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].ChunkID)
	assert.Equal(t, "second", hits[1].ChunkID)
}

func TestMemoryStore_DimensionChecks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "c", 2))
	assert.Error(t, s.CreateCollection(ctx, "c", 3))
	assert.Error(t, s.CreateCollection(ctx, "bad", 0))

	err := s.Insert(ctx, "c", []Record{
		{Seq: 0, Vector: []float32{1, 0}},
		{Seq: 1, Vector: []float32{1, 0, 0}},
	})
	assert.Error(t, err)
	n, _ := s.Count(ctx, "c")
	assert.Zero(t, n)

	_, err = s.Search(ctx, "c", []float32{1}, 1)
	assert.Error(t, err)
}

func TestMemoryStore_EmptyAndMissing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "c", 2))

	hits, err := s.Search(ctx, "c", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = s.Search(ctx, "missing", []float32{1, 0}, 5)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	_, err = s.Count(ctx, "missing")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.ErrorIs(t, s.Insert(ctx, "missing", nil), ErrCollectionNotFound)

	require.NoError(t, s.DropCollection(ctx, "missing"))
}

func TestMemoryStore_DropAndCollections(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "b", 2))
	require.NoError(t, s.CreateCollection(ctx, "a", 2))
	assert.Equal(t, []string{"a", "b"}, s.Collections())

	require.NoError(t, s.DropCollection(ctx, "a"))
	ok, err := s.HasCollection(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, s.Collections())
}

func TestMemoryStore_ZeroVector(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "c", 2))
	require.NoError(t, s.Insert(ctx, "c", []Record{{Seq: 0, Vector: []float32{0, 0}}}))

	hits, err := s.Search(ctx, "c", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, hits[0].Cosine)
}

func TestMemoryStore_InsertCopiesVectors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "c", 2))

	vec := []float32{1, 0}
	require.NoError(t, s.Insert(ctx, "c", []Record{{Seq: 0, Vector: vec}}))
	vec[0] = -1

	hits, err := s.Search(ctx, "c", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, hits[0].Cosine)
}
