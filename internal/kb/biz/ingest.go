package biz

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/knowledge-base/internal/kb/chunker"
	"github.com/kart-io/knowledge-base/internal/kb/index"
	"github.com/kart-io/knowledge-base/internal/kb/metrics"
	"github.com/kart-io/knowledge-base/internal/kb/model"
	"github.com/kart-io/knowledge-base/internal/kb/repo"
	"github.com/kart-io/knowledge-base/pkg/infra/pool"
	"github.com/kart-io/knowledge-base/pkg/infra/tracing"
	"github.com/kart-io/knowledge-base/pkg/llm/resilience"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
	"github.com/kart-io/knowledge-base/pkg/utils/id"
)

// DocumentRepository 文档持久化。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	UpdateStatus(ctx context.Context, id string, u repo.StatusUpdate) error
	List(ctx context.Context, f repo.DocumentFilter) (int64, []*model.Document, error)
	ListIndexable(ctx context.Context, category string) ([]*model.Document, error)
	Delete(ctx context.Context, id string) (*model.Document, error)
	DeleteByCategory(ctx context.Context, category string) (int64, error)
	ResetInFlight(ctx context.Context) (int64, error)
}

// IngestorConfig 摄取配置。
type IngestorConfig struct {
	// JobTimeout 单个摄取或重建任务的最长时间
	JobTimeout time.Duration
	// InsertRetry 类别正在重建时插入的重试策略
	InsertRetry *resilience.RetryConfig
}

// Ingestor 异步摄取文档，并按类别整体重建索引。
type Ingestor struct {
	docs        DocumentRepository
	registry    *index.Registry
	chunker     *chunker.Chunker
	embedder    Embedder
	ingestPool  *pool.Pool
	reindexPool *pool.Pool
	config      IngestorConfig
	metrics     *metrics.Metrics

	// 后台任务使用的根 context，Close 时取消
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu sync.Mutex
	// queued 每个类别最多一个排队中的重建任务
	queued map[string]*model.ReindexJob
	last   map[string]*model.ReindexJob
}

// NewIngestor 创建摄取服务。
func NewIngestor(
	docs DocumentRepository,
	registry *index.Registry,
	ch *chunker.Chunker,
	embedder Embedder,
	ingestPool, reindexPool *pool.Pool,
	config IngestorConfig,
	m *metrics.Metrics,
) *Ingestor {
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Minute
	}
	if config.InsertRetry == nil {
		config.InsertRetry = &resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: time.Second,
			MaxDelay:     15 * time.Second,
			Multiplier:   2,
		}
	}
	config.InsertRetry.Retryable = func(err error) bool {
		return kberrors.Is(err, kberrors.ErrReindexInProgress)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		docs:        docs,
		registry:    registry,
		chunker:     ch,
		embedder:    embedder,
		ingestPool:  ingestPool,
		reindexPool: reindexPool,
		config:      config,
		metrics:     m,
		baseCtx:     ctx,
		cancel:      cancel,
		queued:      make(map[string]*model.ReindexJob),
		last:        make(map[string]*model.ReindexJob),
	}
}

// Recover 把上次退出时未完成的文档标记为失败。
func (i *Ingestor) Recover(ctx context.Context) error {
	n, err := i.docs.ResetInFlight(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Warnw("marked interrupted documents as failed", "documents", n)
	}
	return nil
}

// Close 取消后台任务并等待其结束。
func (i *Ingestor) Close() {
	i.cancel()
	i.wg.Wait()
}

// Ingest 持久化文档并提交异步处理，立即返回 pending 状态。
func (i *Ingestor) Ingest(ctx context.Context, req *model.IngestRequest) (*model.IngestResponse, error) {
	idx, err := i.registry.Get(req.Category)
	if err != nil {
		return nil, err
	}
	if info := idx.Info(); info.Status == model.IndexCorrupt {
		return nil, kberrors.ErrCategoryIndexCorrupt.WithMessagef("category %s: %s", req.Category, info.Reason)
	}

	doc := &model.Document{
		Title:            req.Title,
		SourceType:       req.SourceType,
		SourceURL:        req.SourceURL,
		Category:         req.Category,
		Language:         req.Language,
		NeedsTranslation: req.NeedsTranslation,
		Status:           model.StatusPending,
		Content:          req.Text,
		SourceMeta:       req.SourceMeta,
	}
	if err := i.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	if err := i.submit(i.ingestPool, func(jobCtx context.Context) { i.process(jobCtx, doc) }); err != nil {
		_ = i.docs.UpdateStatus(ctx, doc.ID, repo.StatusUpdate{Status: model.StatusFailed, Error: err.Error()})
		i.metrics.RecordIngest(string(model.StatusFailed))
		return nil, kberrors.ErrPoolOverload.WithCause(err)
	}

	logger.Infow("document accepted",
		"document_id", doc.ID,
		"category", doc.Category,
		"language", doc.Language,
		"needs_translation", doc.NeedsTranslation,
	)
	return &model.IngestResponse{DocumentID: doc.ID, Status: doc.Status}, nil
}

// submit 在池中运行带超时 context 的任务。
func (i *Ingestor) submit(p *pool.Pool, job func(ctx context.Context)) error {
	if err := i.baseCtx.Err(); err != nil {
		return pool.ErrPoolClosed
	}
	i.wg.Add(1)
	task := func() {
		defer i.wg.Done()
		ctx, cancel := context.WithTimeout(i.baseCtx, i.config.JobTimeout)
		defer cancel()
		job(ctx)
	}
	if p == nil {
		go task()
		return nil
	}
	if err := p.Submit(task); err != nil {
		i.wg.Done()
		return err
	}
	return nil
}

func (i *Ingestor) process(ctx context.Context, doc *model.Document) {
	ctx, span := tracing.StartSpan(ctx, "kb.ingest",
		attribute.String("kb.document_id", doc.ID),
		attribute.String("kb.category", doc.Category),
	)
	defer span.End()

	if err := i.docs.UpdateStatus(ctx, doc.ID, repo.StatusUpdate{Status: model.StatusProcessing}); err != nil {
		logger.Warnw("document vanished before processing", "document_id", doc.ID, "error", err.Error())
		return
	}

	chunks, warnings, err := i.prepare(ctx, doc)
	if err != nil {
		tracing.RecordError(ctx, err)
		i.fail(doc, err)
		return
	}

	count := len(chunks)
	complete := func() error {
		update := repo.StatusUpdate{Status: model.StatusCompleted, ChunkCount: &count, Warnings: warnings}
		return i.docs.UpdateStatus(context.WithoutCancel(ctx), doc.ID, update)
	}

	var completeErr error
	if count == 0 {
		completeErr = complete()
	} else {
		// 完成状态在持有写权限时落库，之后开始的重建一定能读到本文档
		err = resilience.RetryWithBackoff(ctx, i.config.InsertRetry, func() error {
			idx, gerr := i.registry.Get(doc.Category)
			if gerr != nil {
				return gerr
			}
			if werr := idx.AwaitReindex(ctx); werr != nil {
				return werr
			}
			return idx.InsertCommit(ctx, chunks, func() error {
				completeErr = complete()
				return nil
			})
		})
		if err != nil {
			tracing.RecordError(ctx, err)
			i.fail(doc, err)
			return
		}
	}

	if completeErr != nil {
		if kberrors.Is(completeErr, kberrors.ErrDocumentNotFound) && count > 0 {
			// 处理期间文档被删除，重建类别以清除其片段
			logger.Warnw("document deleted during ingestion, rebuilding category",
				"document_id", doc.ID,
				"category", doc.Category,
			)
			_, _ = i.Reindex(context.WithoutCancel(ctx), doc.Category)
			return
		}
		logger.Errorw("failed to record ingestion result", "document_id", doc.ID, "error", completeErr.Error())
		return
	}

	i.metrics.RecordIngest(string(model.StatusCompleted))
	logger.Infow("document ingested",
		"document_id", doc.ID,
		"category", doc.Category,
		"chunks", count,
		"warnings", warnings,
	)
}

func (i *Ingestor) fail(doc *model.Document, cause error) {
	i.metrics.RecordIngest(string(model.StatusFailed))
	logger.Errorw("document ingestion failed",
		"document_id", doc.ID,
		"category", doc.Category,
		"error", cause.Error(),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := i.docs.UpdateStatus(ctx, doc.ID, repo.StatusUpdate{Status: model.StatusFailed, Error: cause.Error()}); err != nil {
		logger.Warnw("failed to record ingestion failure", "document_id", doc.ID, "error", err.Error())
	}
}

// prepare 切分并向量化文档。空文本返回零个片段和一条警告。
func (i *Ingestor) prepare(ctx context.Context, doc *model.Document) ([]model.Chunk, []string, error) {
	res := i.chunker.Chunk(doc.Content, doc.Language)
	warnings := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnings = append(warnings, string(w))
	}
	if len(res.Passages) == 0 {
		return nil, warnings, nil
	}

	vectors, err := i.embedder.Embed(ctx, res.Passages, doc.Language)
	if err != nil {
		return nil, warnings, err
	}
	if len(vectors) != len(res.Passages) {
		return nil, warnings, kberrors.ErrEmbeddingUnavailable.WithMessagef(
			"got %d vectors for %d passages", len(vectors), len(res.Passages))
	}

	meta := sourceMeta(doc)
	chunks := make([]model.Chunk, len(res.Passages))
	for n, passage := range res.Passages {
		chunks[n] = model.Chunk{
			ID:         model.ChunkID(doc.ID, n),
			DocumentID: doc.ID,
			Category:   doc.Category,
			Language:   doc.Language,
			Ordinal:    n,
			Title:      doc.Title,
			Content:    passage,
			SourceMeta: meta,
			Vector:     vectors[n],
		}
	}
	return chunks, warnings, nil
}

func sourceMeta(doc *model.Document) map[string]string {
	meta := make(map[string]string, len(doc.SourceMeta)+2)
	maps.Copy(meta, doc.SourceMeta)
	meta["source_type"] = string(doc.SourceType)
	if doc.SourceURL != "" {
		meta["source_url"] = doc.SourceURL
	}
	return meta
}

// Reindex 排队一次类别整体重建并立即返回。同一类别已有排队中的任务时复用该任务。
func (i *Ingestor) Reindex(ctx context.Context, category string) (*model.ReindexResponse, error) {
	idx, ok := i.registry.Lookup(category)
	if !ok {
		return nil, kberrors.ErrCategoryNotFound.WithMessagef("category %s", category)
	}
	if info := idx.Info(); info.Status == model.IndexCorrupt {
		return nil, kberrors.ErrCategoryIndexCorrupt.WithMessagef("category %s: %s", category, info.Reason)
	}

	i.mu.Lock()
	if job, ok := i.queued[category]; ok {
		i.mu.Unlock()
		return &model.ReindexResponse{Status: "started", Category: category, JobID: job.ID}, nil
	}
	job := &model.ReindexJob{
		ID:       id.NewULID(),
		Category: category,
		State:    model.ReindexQueued,
		QueuedAt: time.Now(),
	}
	i.queued[category] = job
	i.last[category] = job
	i.mu.Unlock()

	if err := i.submit(i.reindexPool, func(jobCtx context.Context) { i.rebuild(jobCtx, job) }); err != nil {
		i.finish(job, 0, 0, err)
		return nil, kberrors.ErrPoolOverload.WithCause(err)
	}

	logger.Infow("reindex queued", "category", category, "job_id", job.ID)
	return &model.ReindexResponse{Status: "started", Category: category, JobID: job.ID}, nil
}

func (i *Ingestor) rebuild(ctx context.Context, job *model.ReindexJob) {
	ctx, span := tracing.StartSpan(ctx, "kb.reindex",
		attribute.String("kb.category", job.Category),
		attribute.String("kb.job_id", job.ID),
	)
	defer span.End()

	i.mu.Lock()
	if i.queued[job.Category] == job {
		delete(i.queued, job.Category)
	}
	job.State = model.ReindexRunning
	i.mu.Unlock()

	// 先占住类别再读取文档：此后的插入要等本次发布之后才会写入
	rb, err := i.registry.BeginReindex(job.Category)
	if err != nil {
		tracing.RecordError(ctx, err)
		i.finish(job, 0, 0, err)
		return
	}
	defer rb.Abort()

	logger.Infow("reindex started", "category", job.Category, "job_id", job.ID, "generation", rb.Generation())

	docs, err := i.docs.ListIndexable(ctx, job.Category)
	if err != nil {
		tracing.RecordError(ctx, err)
		i.finish(job, 0, 0, err)
		return
	}

	var chunks []model.Chunk
	for _, doc := range docs {
		docChunks, _, err := i.prepare(ctx, doc)
		if err != nil {
			tracing.RecordError(ctx, err)
			i.finish(job, len(docs), 0, err)
			return
		}
		chunks = append(chunks, docChunks...)
	}

	err = rb.Publish(ctx, chunks)
	tracing.RecordError(ctx, err)
	i.finish(job, len(docs), len(chunks), err)
}

func (i *Ingestor) finish(job *model.ReindexJob, docs, chunks int, err error) {
	now := time.Now()
	i.mu.Lock()
	if i.queued[job.Category] == job {
		delete(i.queued, job.Category)
	}
	job.Documents = docs
	job.Chunks = chunks
	job.FinishedAt = &now
	if err != nil {
		job.State = model.ReindexFailed
		job.Error = err.Error()
	} else {
		job.State = model.ReindexSucceeded
	}
	i.mu.Unlock()

	i.metrics.RecordReindex(job.Category, err)
	if err != nil {
		logger.Errorw("reindex failed",
			"category", job.Category,
			"job_id", job.ID,
			"error", err.Error(),
		)
		return
	}
	logger.Infow("reindex completed",
		"category", job.Category,
		"job_id", job.ID,
		"documents", docs,
		"chunks", chunks,
		"duration", now.Sub(job.QueuedAt).String(),
	)
}

// LastReindex 返回类别最近一次重建任务的副本。
func (i *Ingestor) LastReindex(category string) *model.ReindexJob {
	i.mu.Lock()
	defer i.mu.Unlock()
	job, ok := i.last[category]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// GetDocument 返回文档及其摄取状态。
func (i *Ingestor) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return i.docs.Get(ctx, id)
}

// ListDocuments 分页列出文档。
func (i *Ingestor) ListDocuments(ctx context.Context, req *model.DocumentListRequest) (*model.DocumentList, error) {
	total, docs, err := i.docs.List(ctx, repo.DocumentFilter{
		Category: req.Category,
		Status:   req.Status,
		Offset:   req.Offset,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	return &model.DocumentList{Total: total, Items: docs}, nil
}

// DeleteDocument 删除文档。已索引的文档通过重建类别移除其片段，返回重建任务。
func (i *Ingestor) DeleteDocument(ctx context.Context, id string) (*model.ReindexResponse, error) {
	doc, err := i.docs.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.Infow("document deleted", "document_id", id, "category", doc.Category, "status", doc.Status)
	if doc.Status != model.StatusCompleted || doc.ChunkCount == 0 {
		return nil, nil
	}
	return i.Reindex(ctx, doc.Category)
}

// DropCategory 删除类别的索引、元数据和全部文档。用于恢复损坏的索引。
func (i *Ingestor) DropCategory(ctx context.Context, category string) (int64, error) {
	if err := i.registry.Drop(ctx, category); err != nil {
		return 0, err
	}
	n, err := i.docs.DeleteByCategory(ctx, category)
	if err != nil {
		return 0, err
	}

	i.mu.Lock()
	delete(i.last, category)
	i.mu.Unlock()
	i.metrics.ForgetCategory(category)

	logger.Warnw("category dropped", "category", category, "documents", n)
	return n, nil
}
