package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/knowledge-base/internal/kb/model"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
)

// CategoryStore 类别元数据持久化。
type CategoryStore struct {
	db *gorm.DB
}

// NewCategoryStore 创建类别元数据存储。
func NewCategoryStore(db *gorm.DB) *CategoryStore {
	return &CategoryStore{db: db}
}

// Get 读取类别元数据，不存在时返回 (nil, nil)。
func (s *CategoryStore) Get(ctx context.Context, name string) (*model.CategoryMeta, error) {
	var meta model.CategoryMeta
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kberrors.ErrDatabase.WithCause(err)
	}
	return &meta, nil
}

// List 返回全部类别元数据，按名称排序。
func (s *CategoryStore) List(ctx context.Context) ([]*model.CategoryMeta, error) {
	var metas []*model.CategoryMeta
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&metas).Error; err != nil {
		return nil, kberrors.ErrDatabase.WithCause(err)
	}
	return metas, nil
}

// Save 写入类别元数据（按名称 upsert），描述为空时保留原值。
func (s *CategoryStore) Save(ctx context.Context, meta *model.CategoryMeta) error {
	cols := []string{"generation", "collection", "dimension", "documents", "vectors", "updated_at"}
	if meta.Description != "" {
		cols = append(cols, "description")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(meta).Error
	if err != nil {
		return kberrors.ErrDatabase.WithCause(err)
	}
	return nil
}

// EnsureDescribed 登记类别名与描述，不触碰代信息。
func (s *CategoryStore) EnsureDescribed(ctx context.Context, name, description string) error {
	meta := &model.CategoryMeta{Name: name, Description: description}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description"}),
	}).Create(meta).Error
	if err != nil {
		return kberrors.ErrDatabase.WithCause(err)
	}
	return nil
}

// Delete 删除类别元数据。
func (s *CategoryStore) Delete(ctx context.Context, name string) error {
	if err := s.db.WithContext(ctx).Delete(&model.CategoryMeta{}, "name = ?", name).Error; err != nil {
		return kberrors.ErrDatabase.WithCause(err)
	}
	return nil
}
