package model

import (
	"time"

	"gorm.io/gorm"

	"github.com/kart-io/knowledge-base/pkg/utils/id"
)

// SourceType 文档来源类型。
type SourceType string

const (
	SourcePDF     SourceType = "pdf"
	SourceYouTube SourceType = "youtube"
)

// DocumentStatus 文档摄取状态：pending -> processing -> completed | failed。
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal 表示状态不会再变化。
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document 一次摄取的源文档。保留抽取后的文本，以便按类别整体重建索引。
type Document struct {
	ID               string            `json:"id" gorm:"primaryKey;type:varchar(26)"`
	Title            string            `json:"title" gorm:"type:varchar(255);not null"`
	SourceType       SourceType        `json:"source_type" gorm:"type:varchar(16);not null"`
	SourceURL        string            `json:"source_url,omitempty" gorm:"type:varchar(1024)"`
	Category         string            `json:"category" gorm:"type:varchar(128);not null;index:idx_documents_category_status"`
	Language         string            `json:"language" gorm:"type:varchar(8);not null"`
	NeedsTranslation bool              `json:"needs_translation" gorm:"not null;default:false"`
	Status           DocumentStatus    `json:"status" gorm:"type:varchar(16);not null;index:idx_documents_category_status"`
	Content          string            `json:"-" gorm:"type:text"`
	SourceMeta       map[string]string `json:"source_meta,omitempty" gorm:"serializer:json"`
	ChunkCount       int               `json:"chunk_count" gorm:"not null;default:0"`
	Warnings         []string          `json:"warnings,omitempty" gorm:"serializer:json"`
	Error            string            `json:"error,omitempty" gorm:"type:text"`
	CreatedAt        time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "kb_documents"
}

// BeforeCreate assigns a ULID when the caller did not.
func (d *Document) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = id.NewULID()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	return nil
}

// CategoryMeta 类别索引的持久化元数据，记录当前活跃代的信息。
// 打开索引时用它与向量存储的实际行数对账。
type CategoryMeta struct {
	Name        string    `json:"name" gorm:"primaryKey;type:varchar(128)"`
	Description string    `json:"description,omitempty" gorm:"type:varchar(512)"`
	Generation  int64     `json:"generation" gorm:"not null;default:0"`
	Collection  string    `json:"collection" gorm:"type:varchar(255)"`
	Dimension   int       `json:"dimension" gorm:"not null;default:0"`
	Documents   int       `json:"documents" gorm:"not null;default:0"`
	Vectors     int64     `json:"vectors" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for CategoryMeta.
func (CategoryMeta) TableName() string {
	return "kb_categories"
}
