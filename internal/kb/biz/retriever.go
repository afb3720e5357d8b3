package biz

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/knowledge-base/internal/kb/index"
	"github.com/kart-io/knowledge-base/internal/kb/metrics"
	"github.com/kart-io/knowledge-base/internal/kb/model"
	"github.com/kart-io/knowledge-base/pkg/infra/pool"
	"github.com/kart-io/knowledge-base/pkg/infra/tracing"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
)

// RetrieveRequest 检索请求。Category 为空时检索所有类别。
type RetrieveRequest struct {
	Query    string
	Category string
	Language string
	K        int
	// MinScore 归一化分数下限，0 表示不过滤
	MinScore float64
}

// RetrievalResult 检索结果。
type RetrievalResult struct {
	Chunks []model.ScoredChunk
	// Omitted 因索引故障而被跳过的类别
	Omitted []string
}

// Retriever 负责跨类别检索。
type Retriever struct {
	registry *index.Registry
	embedder Embedder
	pool     *pool.Pool
	metrics  *metrics.Metrics
}

// NewRetriever 创建检索器。searchPool 为 nil 时在调用方 goroutine 中并发检索。
func NewRetriever(registry *index.Registry, embedder Embedder, searchPool *pool.Pool, m *metrics.Metrics) *Retriever {
	return &Retriever{
		registry: registry,
		embedder: embedder,
		pool:     searchPool,
		metrics:  m,
	}
}

// Retrieve 向量化查询一次，检索目标类别并合并为全局 top-k。
func (r *Retriever) Retrieve(ctx context.Context, req RetrieveRequest) (res *RetrievalResult, err error) {
	scope := req.Category
	if scope == "" {
		scope = "all"
	}
	ctx, span := tracing.StartSpan(ctx, "kb.retrieve",
		attribute.String("kb.scope", scope),
		attribute.Int("kb.k", req.K),
	)
	start := time.Now()
	defer func() {
		tracing.RecordError(ctx, err)
		span.End()
		r.metrics.ObserveRetrieval(scope, time.Since(start), err)
	}()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, kberrors.ErrValidation.WithMessage("query must not be empty")
	}
	if req.K <= 0 {
		return nil, kberrors.ErrValidation.WithMessagef("k must be positive, got %d", req.K)
	}

	var targets []*index.CategoryIndex
	if req.Category != "" {
		idx, ok := r.registry.Lookup(req.Category)
		if !ok {
			return &RetrievalResult{Chunks: []model.ScoredChunk{}}, nil
		}
		targets = []*index.CategoryIndex{idx}
	} else {
		targets = r.registry.Indexes()
	}
	if len(targets) == 0 {
		return &RetrievalResult{Chunks: []model.ScoredChunk{}}, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query}, req.Language)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, kberrors.ErrEmbeddingUnavailable.WithMessagef("expected 1 query vector, got %d", len(vectors))
	}
	vector := vectors[0]

	lists, errs := r.fanOut(ctx, targets, vector, req.K, req.MinScore)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &RetrievalResult{}
	for i, e := range errs {
		if e == nil {
			continue
		}
		if errors.Is(e, context.Canceled) || errors.Is(e, context.DeadlineExceeded) {
			return nil, e
		}
		// 指定类别时故障直接上抛
		if req.Category != "" {
			return nil, e
		}
		name := targets[i].Name()
		result.Omitted = append(result.Omitted, name)
		r.metrics.RecordOmission(name)
		logger.Warnw("category omitted from retrieval",
			"category", name,
			"error", e.Error(),
		)
	}

	result.Chunks = MergeTopK(lists, req.K)
	span.SetAttributes(attribute.Int("kb.results", len(result.Chunks)))
	return result, nil
}

func (r *Retriever) fanOut(ctx context.Context, targets []*index.CategoryIndex, vector []float32, k int, minScore float64) ([][]model.ScoredChunk, []error) {
	lists := make([][]model.ScoredChunk, len(targets))
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, idx := range targets {
		task := func() {
			defer wg.Done()
			lists[i], errs[i] = idx.Search(ctx, vector, k, minScore)
		}
		wg.Add(1)
		if r.pool == nil {
			go task()
			continue
		}
		if err := r.pool.Submit(task); err != nil {
			// 池满时退化为直接执行
			logger.Debugw("search pool unavailable, searching inline",
				"category", idx.Name(),
				"error", err.Error(),
			)
			task()
		}
	}
	wg.Wait()
	return lists, errs
}

// MergeTopK 合并各类别的有序结果。分数降序；同分时按 lists 的顺序（类别顺序）
// 再按类别内插入顺序排列。每个列表本身须已按分数降序、插入顺序升序排好。
func MergeTopK(lists [][]model.ScoredChunk, k int) []model.ScoredChunk {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	merged := make([]model.ScoredChunk, 0, total)
	for _, l := range lists {
		merged = append(merged, l...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}
