// Package handler 提供知识库 HTTP 处理器。
package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/knowledge-base/internal/kb/model"
	"github.com/kart-io/knowledge-base/internal/pkg/httputils"
	"github.com/kart-io/knowledge-base/pkg/infra/middleware"
	"github.com/kart-io/knowledge-base/pkg/utils/errors"
	"github.com/kart-io/knowledge-base/pkg/utils/validator"
)

// KnowledgeBase 处理器依赖的业务能力，由 *biz.Service 实现。
type KnowledgeBase interface {
	Ingest(ctx context.Context, req *model.IngestRequest) (*model.IngestResponse, error)
	Search(ctx context.Context, req *model.SearchRequest, sessionID string) (*model.SearchResponse, error)
	TestQuery(ctx context.Context, req *model.TestQueryRequest, sessionID string) (*model.RAGAnswer, error)
	Reindex(ctx context.Context, category string) (*model.ReindexResponse, error)
	Stats() *model.Stats
	Categories() []model.CategoryInfo
	DropCategory(ctx context.Context, category string) (int64, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, req *model.DocumentListRequest) (*model.DocumentList, error)
	DeleteDocument(ctx context.Context, id string) (*model.ReindexResponse, error)
	Settings() model.Settings
}

// KBHandler 知识库 HTTP 处理器。
type KBHandler struct {
	svc          KnowledgeBase
	queryTimeout time.Duration
}

// NewKBHandler 创建处理器。queryTimeout 限制单次搜索与问答的耗时，0 表示 60 秒。
func NewKBHandler(svc KnowledgeBase, queryTimeout time.Duration) *KBHandler {
	if queryTimeout <= 0 {
		queryTimeout = 60 * time.Second
	}
	return &KBHandler{svc: svc, queryTimeout: queryTimeout}
}

// bindJSON 解析并校验请求体，失败时写出错误响应并返回 false。
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httputils.WriteResponse(c, errors.ErrBadRequest.WithMessage(err.Error()), nil)
		return false
	}
	return validate(c, req)
}

func bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		httputils.WriteResponse(c, errors.ErrValidation.WithMessage(err.Error()), nil)
		return false
	}
	return validate(c, req)
}

func validate(c *gin.Context, req any) bool {
	errs := validator.StructWithLang(req, middleware.LanguageFrom(c))
	if !errs.HasErrors() {
		return true
	}
	first := errs.First()
	httputils.WriteErrorWithData(c, errors.ErrValidation.WithMessages(first, first), errs.ByField())
	return false
}

func validCategoryParam(c *gin.Context) (string, bool) {
	category := c.Param("category")
	if !validator.IsValidCategory(category) {
		httputils.WriteResponse(c, errors.ErrValidation.WithMessagef("invalid category %q", category), nil)
		return "", false
	}
	return category, true
}

// Ingest 受理文档，立即返回 202 与 pending 状态。
func (h *KBHandler) Ingest(c *gin.Context) {
	var req model.IngestRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.svc.Ingest(c.Request.Context(), &req)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteAccepted(c, resp)
}

// Search 语义搜索。
func (h *KBHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if !bindQuery(c, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.queryTimeout)
	defer cancel()

	resp, err := h.svc.Search(ctx, &req, c.GetHeader(middleware.HeaderXSessionID))
	httputils.WriteResponse(c, err, resp)
}

// TestQuery RAG 问答。生成服务不可用时仍在 data 中返回兜底答案。
func (h *KBHandler) TestQuery(c *gin.Context) {
	var req model.TestQueryRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.queryTimeout)
	defer cancel()

	answer, err := h.svc.TestQuery(ctx, &req, c.GetHeader(middleware.HeaderXSessionID))
	if err != nil && answer != nil {
		httputils.WriteErrorWithData(c, err, answer)
		return
	}
	httputils.WriteResponse(c, err, answer)
}

// Reindex 排队类别重建，返回 {"status":"started"}。
func (h *KBHandler) Reindex(c *gin.Context) {
	category, ok := validCategoryParam(c)
	if !ok {
		return
	}
	resp, err := h.svc.Reindex(c.Request.Context(), category)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteAccepted(c, resp)
}

// Stats 全局统计。
func (h *KBHandler) Stats(c *gin.Context) {
	httputils.WriteResponse(c, nil, h.svc.Stats())
}

// ListCategories 各类别索引状态。
func (h *KBHandler) ListCategories(c *gin.Context) {
	httputils.WriteResponse(c, nil, h.svc.Categories())
}

// DropCategory 删除类别的索引、元数据与文档。
func (h *KBHandler) DropCategory(c *gin.Context) {
	category, ok := validCategoryParam(c)
	if !ok {
		return
	}
	n, err := h.svc.DropCategory(c.Request.Context(), category)
	httputils.WriteResponse(c, err, gin.H{"category": category, "documents_deleted": n})
}

// ListDocuments 分页列出文档。
func (h *KBHandler) ListDocuments(c *gin.Context) {
	var req model.DocumentListRequest
	if !bindQuery(c, &req) {
		return
	}
	list, err := h.svc.ListDocuments(c.Request.Context(), &req)
	httputils.WriteResponse(c, err, list)
}

// GetDocument 文档及其摄取状态。
func (h *KBHandler) GetDocument(c *gin.Context) {
	doc, err := h.svc.GetDocument(c.Request.Context(), c.Param("id"))
	httputils.WriteResponse(c, err, doc)
}

// DeleteDocument 删除文档；已索引的文档会触发类别重建。
func (h *KBHandler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	job, err := h.svc.DeleteDocument(c.Request.Context(), id)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	data := gin.H{"document_id": id, "deleted": true}
	if job != nil {
		data["reindex"] = job
		httputils.WriteAccepted(c, data)
		return
	}
	httputils.WriteResponse(c, nil, data)
}

// Settings 只读运行配置。
func (h *KBHandler) Settings(c *gin.Context) {
	httputils.WriteResponse(c, nil, h.svc.Settings())
}
