package repo

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kart-io/knowledge-base/internal/kb/model"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
)

// DocumentFilter 文档列表过滤条件。
type DocumentFilter struct {
	Category string
	Status   model.DocumentStatus
	Offset   int
	Limit    int
}

// DocumentStore 文档持久化。
type DocumentStore struct {
	db *gorm.DB
}

// NewDocumentStore 创建文档存储。
func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Create 保存新文档。
func (s *DocumentStore) Create(ctx context.Context, doc *model.Document) error {
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return kberrors.ErrDatabase.WithCause(err)
	}
	return nil
}

// Get 按 ID 读取文档（含正文）。
func (s *DocumentStore) Get(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kberrors.ErrDocumentNotFound.WithMessagef("document %s not found", id)
	}
	if err != nil {
		return nil, kberrors.ErrDatabase.WithCause(err)
	}
	return &doc, nil
}

// StatusUpdate 状态迁移时一并写入的字段。
type StatusUpdate struct {
	Status     model.DocumentStatus
	ChunkCount *int
	Warnings   []string
	Error      string
}

// UpdateStatus 更新文档状态。
func (s *DocumentStore) UpdateStatus(ctx context.Context, id string, u StatusUpdate) error {
	doc := model.Document{Status: u.Status, Error: u.Error, Warnings: u.Warnings}
	cols := []string{"status", "error"}
	if u.ChunkCount != nil {
		doc.ChunkCount = *u.ChunkCount
		cols = append(cols, "chunk_count")
	}
	if u.Warnings != nil {
		cols = append(cols, "warnings")
	}

	// 结构体更新才会经过 serializer:json
	res := s.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Select(cols).Updates(&doc)
	if res.Error != nil {
		return kberrors.ErrDatabase.WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return kberrors.ErrDocumentNotFound.WithMessagef("document %s not found", id)
	}
	return nil
}

// List 按条件分页列出文档，不加载正文。
func (s *DocumentStore) List(ctx context.Context, f DocumentFilter) (int64, []*model.Document, error) {
	q := s.db.WithContext(ctx).Model(&model.Document{})
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return 0, nil, kberrors.ErrDatabase.WithCause(err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var docs []*model.Document
	err := q.Omit("content").
		Order("created_at DESC").Order("id DESC").
		Offset(f.Offset).Limit(limit).
		Find(&docs).Error
	if err != nil {
		return 0, nil, kberrors.ErrDatabase.WithCause(err)
	}
	return total, docs, nil
}

// ListIndexable 返回类别中已完成摄取的文档（含正文），按创建顺序排列，供整体重建使用。
func (s *DocumentStore) ListIndexable(ctx context.Context, category string) ([]*model.Document, error) {
	var docs []*model.Document
	err := s.db.WithContext(ctx).
		Where("category = ? AND status = ?", category, model.StatusCompleted).
		Order("created_at ASC").Order("id ASC").
		Find(&docs).Error
	if err != nil {
		return nil, kberrors.ErrDatabase.WithCause(err)
	}
	return docs, nil
}

// Delete 删除文档，返回被删除文档的类别。
func (s *DocumentStore) Delete(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&model.Document{}, "id = ?", id).Error; err != nil {
		return nil, kberrors.ErrDatabase.WithCause(err)
	}
	return doc, nil
}

// DeleteByCategory 删除类别下的全部文档。
func (s *DocumentStore) DeleteByCategory(ctx context.Context, category string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&model.Document{}, "category = ?", category)
	if res.Error != nil {
		return 0, kberrors.ErrDatabase.WithCause(res.Error)
	}
	return res.RowsAffected, nil
}

// ResetInFlight 把上次进程退出时未完成的文档标记为失败，返回受影响的行数。
func (s *DocumentStore) ResetInFlight(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Document{}).
		Where("status IN ?", []model.DocumentStatus{model.StatusPending, model.StatusProcessing}).
		Updates(map[string]any{"status": model.StatusFailed, "error": "interrupted by restart"})
	if res.Error != nil {
		return 0, fmt.Errorf("reset in-flight documents: %w", res.Error)
	}
	return res.RowsAffected, nil
}
