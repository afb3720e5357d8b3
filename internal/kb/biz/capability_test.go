package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/knowledge-base/pkg/llm"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
)

type batchRecorder struct {
	batches [][]string
	err     error
	short   bool
}

func (p *batchRecorder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.batches = append(p.batches, texts)
	if p.err != nil {
		return nil, p.err
	}
	n := len(texts)
	if p.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

func (p *batchRecorder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (p *batchRecorder) Name() string { return "recorder" }

var _ llm.EmbeddingProvider = (*batchRecorder)(nil)

func TestLLMEmbedder_Batches(t *testing.T) {
	p := &batchRecorder{}
	e := NewLLMEmbedder(p, 2, "nomic-embed-text")

	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"}, "en")
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, float32(5), vecs[4][0])
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, p.batches)
	assert.Equal(t, "recorder/nomic-embed-text", e.Name())
}

func TestLLMEmbedder_Errors(t *testing.T) {
	_, err := NewLLMEmbedder(&batchRecorder{err: errors.New("connection refused")}, 0, "").
		Embed(context.Background(), []string{"a"}, "en")
	assert.True(t, kberrors.Is(err, kberrors.ErrEmbeddingUnavailable))

	_, err = NewLLMEmbedder(&batchRecorder{short: true}, 8, "").
		Embed(context.Background(), []string{"a", "b"}, "ta")
	assert.True(t, kberrors.Is(err, kberrors.ErrEmbeddingUnavailable))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLLMEmbedder(&batchRecorder{err: context.Canceled}, 8, "").Embed(ctx, []string{"a"}, "en")
	assert.ErrorIs(t, err, context.Canceled)
}
