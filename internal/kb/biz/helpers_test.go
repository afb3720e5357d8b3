package biz

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/knowledge-base/internal/kb/index"
	"github.com/kart-io/knowledge-base/internal/kb/repo"
	"github.com/kart-io/knowledge-base/internal/kb/store"
	metaopts "github.com/kart-io/knowledge-base/pkg/options/metadata"
)

const testDim = 64

// hashEmbedder 词袋哈希向量，相同词汇的文本余弦相似度更高。
type hashEmbedder struct {
	calls atomic.Int64
	err   error
}

func (e *hashEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func (e *hashEmbedder) Name() string { return "hash" }

func hashVector(text string) []float32 {
	v := make([]float32, testDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%testDim]++
	}
	// 避免全零向量
	v[testDim-1] += 0.01
	return v
}

// fixedEmbedder 返回固定查询向量。
type fixedEmbedder struct{ vec []float32 }

func (e fixedEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (fixedEmbedder) Name() string { return "fixed" }

// scriptedGenerator 依次返回预设结果。
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	last    GenerationRequest
}

func (g *scriptedGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.calls
	g.calls++
	g.last = req
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var err error
	if n < len(g.errs) {
		err = g.errs[n]
	}
	if err != nil {
		return "", err
	}
	if n < len(g.replies) {
		return g.replies[n], nil
	}
	return "", nil
}

func (g *scriptedGenerator) Name() string { return "scripted/test" }

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type testEnv struct {
	registry *index.Registry
	store    *store.MemoryStore
	docs     *repo.DocumentStore
	metas    *repo.CategoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	opts := metaopts.NewOptions()
	opts.DSN = ":memory:"
	db, err := repo.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(db) })

	env := &testEnv{
		store: store.NewMemoryStore(),
		docs:  repo.NewDocumentStore(db),
		metas: repo.NewCategoryStore(db),
	}
	env.registry = index.NewRegistry(env.store, env.metas, "kb", index.Hooks{})
	require.NoError(t, env.registry.Open(context.Background()))
	return env
}

// unitVector 返回与 (1,0) 夹角余弦为 cos 的二维单位向量。
func unitVector(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}
