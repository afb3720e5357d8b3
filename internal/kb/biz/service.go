package biz

import (
	"context"
	"slices"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowledge-base/internal/kb/index"
	"github.com/kart-io/knowledge-base/internal/kb/model"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
)

// ServiceConfig 服务层配置。
type ServiceConfig struct {
	// DefaultLimit 搜索未指定 limit 时的返回数
	DefaultLimit int
	// MaxLimit 搜索允许的最大 limit
	MaxLimit int
	// Settings GET /settings 返回的静态信息
	Settings model.Settings
}

// Service 组合检索、问答、统计与摄取，供 HTTP 层调用。
type Service struct {
	registry  *index.Registry
	retriever *Retriever
	composer  *Composer
	stats     *StatsAggregator
	ingestor  *Ingestor
	cache     *QueryCache
	sessions  *SessionTracker
	config    ServiceConfig
}

// NewService 创建服务。cache 与 sessions 可为 nil。
func NewService(
	registry *index.Registry,
	retriever *Retriever,
	composer *Composer,
	stats *StatsAggregator,
	ingestor *Ingestor,
	cache *QueryCache,
	sessions *SessionTracker,
	config ServiceConfig,
) *Service {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 10
	}
	if config.MaxLimit < config.DefaultLimit {
		config.MaxLimit = config.DefaultLimit
	}
	return &Service{
		registry:  registry,
		retriever: retriever,
		composer:  composer,
		stats:     stats,
		ingestor:  ingestor,
		cache:     cache,
		sessions:  sessions,
		config:    config,
	}
}

// Search 语义搜索，返回按分数降序排列的片段。
func (s *Service) Search(ctx context.Context, req *model.SearchRequest, sessionID string) (*model.SearchResponse, error) {
	s.sessions.Touch(sessionID)

	limit := req.Limit
	if limit == 0 {
		limit = s.config.DefaultLimit
	}
	if limit < 0 || limit > s.config.MaxLimit {
		return nil, kberrors.ErrValidation.WithMessagef("limit must be between 1 and %d", s.config.MaxLimit)
	}
	key := model.SearchRequest{Query: strings.TrimSpace(req.Query), Category: req.Category, Limit: limit}

	fingerprint := s.registry.Fingerprint()
	var cached model.SearchResponse
	if s.cache.Get(ctx, "search", fingerprint, key, &cached) {
		return &cached, nil
	}

	res, err := s.retriever.Retrieve(ctx, RetrieveRequest{
		Query:    key.Query,
		Category: key.Category,
		K:        limit,
	})
	if err != nil {
		return nil, err
	}

	resp := &model.SearchResponse{
		Query:   key.Query,
		Results: make([]model.SearchHit, len(res.Chunks)),
		Total:   len(res.Chunks),
		Omitted: res.Omitted,
	}
	for i, ch := range res.Chunks {
		resp.Results[i] = model.SearchHit{
			ChunkID:    ch.ID,
			DocumentID: ch.DocumentID,
			Title:      ch.Title,
			Category:   ch.Category,
			Language:   ch.Language,
			Ordinal:    ch.Ordinal,
			Content:    ch.Content,
			Score:      ch.Score,
			SourceMeta: ch.SourceMeta,
		}
	}
	// 不缓存残缺结果
	if len(res.Omitted) == 0 {
		s.cache.Set(ctx, "search", fingerprint, key, resp)
	}
	return resp, nil
}

// TestQuery 执行一次 RAG 问答。生成服务不可用时同时返回兜底答案和错误。
func (s *Service) TestQuery(ctx context.Context, req *model.TestQueryRequest, sessionID string) (*model.RAGAnswer, error) {
	s.sessions.Touch(sessionID)

	fingerprint := s.registry.Fingerprint()
	var cached model.RAGAnswer
	if s.cache.Get(ctx, "answer", fingerprint, req, &cached) {
		return &cached, nil
	}

	answer, err := s.composer.Answer(ctx, req)
	if err != nil {
		return answer, err
	}
	if answer.Metadata.Type == model.AnswerRAG {
		s.cache.Set(ctx, "answer", fingerprint, req, answer)
	}
	return answer, nil
}

// Stats 返回全局统计。
func (s *Service) Stats() *model.Stats {
	return s.stats.Stats()
}

// Categories 返回各类别索引状态及最近一次重建任务。
func (s *Service) Categories() []model.CategoryInfo {
	infos := s.registry.Infos()
	for i := range infos {
		infos[i].LastReindex = s.ingestor.LastReindex(infos[i].Name)
	}
	return infos
}

// Settings 返回只读运行配置。
func (s *Service) Settings() model.Settings {
	out := s.config.Settings
	out.LanguagesSupported = slices.Clone(out.LanguagesSupported)
	return out
}

// Ingest 受理文档摄取。
func (s *Service) Ingest(ctx context.Context, req *model.IngestRequest) (*model.IngestResponse, error) {
	return s.ingestor.Ingest(ctx, req)
}

// Reindex 受理类别重建。
func (s *Service) Reindex(ctx context.Context, category string) (*model.ReindexResponse, error) {
	return s.ingestor.Reindex(ctx, category)
}

// GetDocument 返回文档状态。
func (s *Service) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return s.ingestor.GetDocument(ctx, id)
}

// ListDocuments 分页列出文档。
func (s *Service) ListDocuments(ctx context.Context, req *model.DocumentListRequest) (*model.DocumentList, error) {
	return s.ingestor.ListDocuments(ctx, req)
}

// DeleteDocument 删除文档，必要时触发类别重建。
func (s *Service) DeleteDocument(ctx context.Context, id string) (*model.ReindexResponse, error) {
	return s.ingestor.DeleteDocument(ctx, id)
}

// DropCategory 删除类别，并清空查询缓存。
func (s *Service) DropCategory(ctx context.Context, category string) (int64, error) {
	n, err := s.ingestor.DropCategory(ctx, category)
	if err != nil {
		return 0, err
	}
	if cleared, cerr := s.cache.Clear(ctx); cerr != nil {
		logger.Warnw("failed to clear query cache after drop", "category", category, "error", cerr.Error())
	} else if cleared > 0 {
		logger.Infow("query cache cleared", "category", category, "entries", cleared)
	}
	return n, nil
}
