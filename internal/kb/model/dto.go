package model

import "time"

// IngestRequest POST /knowledge-base/ingest 请求体。
type IngestRequest struct {
	Title            string            `json:"title" validate:"required,trimmed,max=255"`
	SourceType       SourceType        `json:"source_type" validate:"required,oneof=pdf youtube"`
	SourceURL        string            `json:"source_url" validate:"omitempty,max=1024"`
	Category         string            `json:"category" validate:"required,kbcategory"`
	Language         string            `json:"language" validate:"required,kblang"`
	NeedsTranslation bool              `json:"needs_translation"`
	Text             string            `json:"text" validate:"max=5000000"`
	SourceMeta       map[string]string `json:"source_meta"`
}

// IngestResponse 摄取受理结果。
type IngestResponse struct {
	DocumentID string         `json:"document_id"`
	Status     DocumentStatus `json:"status"`
}

// SearchRequest GET /knowledge-base/search 查询参数。
type SearchRequest struct {
	Query    string `form:"query" json:"query" validate:"required,max=2000"`
	Category string `form:"category" json:"category" validate:"omitempty,kbcategory"`
	Limit    int    `form:"limit" json:"limit" validate:"omitempty,min=1"`
}

// SearchHit 单条搜索结果。
type SearchHit struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	Category   string            `json:"category"`
	Language   string            `json:"language"`
	Ordinal    int               `json:"ordinal"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	SourceMeta map[string]string `json:"source_meta,omitempty"`
}

// SearchResponse 搜索结果，Omitted 列出本次被跳过的不健康类别。
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
	Total   int         `json:"total"`
	Omitted []string    `json:"omitted_categories,omitempty"`
}

// ConversationTurn 先前的一轮问答。
type ConversationTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// TestQueryRequest POST /knowledge-base/test-query 请求体。
type TestQueryRequest struct {
	Query        string             `json:"query" validate:"required,max=2000"`
	Topic        string             `json:"topic" validate:"required"`
	Language     string             `json:"language" validate:"required,kblang"`
	Conversation []ConversationTurn `json:"conversation" validate:"max=50"`
}

// Source RAG 回答引用的来源。
type Source struct {
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	Category   string            `json:"category"`
	Excerpt    string            `json:"excerpt"`
	Score      float64           `json:"score"`
	SourceMeta map[string]string `json:"source_meta,omitempty"`
}

// AnswerType 回答类型。
type AnswerType string

const (
	AnswerRAG      AnswerType = "rag_response"
	AnswerFallback AnswerType = "fallback_response"
)

// AnswerMetadata 回答元信息。
type AnswerMetadata struct {
	SourcesCount      int        `json:"sources_count"`
	AvgRelevanceScore float64    `json:"avg_relevance_score"`
	Model             string     `json:"model,omitempty"`
	Type              AnswerType `json:"type"`
}

// RAGAnswer 组合后的回答，不持久化。
type RAGAnswer struct {
	Response string         `json:"response"`
	Sources  []Source       `json:"sources"`
	Context  []string       `json:"context"`
	Topic    string         `json:"topic"`
	Language string         `json:"language"`
	Metadata AnswerMetadata `json:"metadata"`
}

// ReindexResponse 重建索引受理结果。
type ReindexResponse struct {
	Status   string `json:"status"`
	Category string `json:"category"`
	JobID    string `json:"job_id"`
}

// CategoryCount 单个类别的计数。
type CategoryCount struct {
	Documents int   `json:"documents"`
	Vectors   int64 `json:"vectors"`
}

// GeneralStats 全局运行信息。
type GeneralStats struct {
	ActiveSessions     int      `json:"active_sessions"`
	LanguagesSupported []string `json:"languages_supported"`
}

// Stats GET /knowledge-base/stats 响应。
type Stats struct {
	TotalDocuments int                      `json:"total_documents"`
	TotalVectors   int64                    `json:"total_vectors"`
	Categories     map[string]CategoryCount `json:"categories"`
	General        GeneralStats             `json:"general"`
}

// IndexStatus 类别索引状态。
type IndexStatus string

const (
	IndexActive     IndexStatus = "active"
	IndexReindexing IndexStatus = "reindexing"
	IndexCorrupt    IndexStatus = "corrupt"
)

// CategoryInfo GET /knowledge-base/categories 中的一项。
type CategoryInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Generation  int64       `json:"generation"`
	Dimension   int         `json:"dimension"`
	Documents   int         `json:"documents"`
	Vectors     int64       `json:"vectors"`
	Status      IndexStatus `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	LastReindex *ReindexJob `json:"last_reindex,omitempty"`
}

// ReindexState 重建任务状态。
type ReindexState string

const (
	ReindexQueued    ReindexState = "queued"
	ReindexRunning   ReindexState = "running"
	ReindexSucceeded ReindexState = "succeeded"
	ReindexFailed    ReindexState = "failed"
)

// ReindexJob 一次类别重建任务。
type ReindexJob struct {
	ID         string       `json:"id"`
	Category   string       `json:"category"`
	State      ReindexState `json:"state"`
	Documents  int          `json:"documents"`
	Chunks     int          `json:"chunks"`
	Error      string       `json:"error,omitempty"`
	QueuedAt   time.Time    `json:"queued_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// DocumentListRequest GET /knowledge-base/documents 查询参数。
type DocumentListRequest struct {
	Category string         `form:"category" validate:"omitempty,kbcategory"`
	Status   DocumentStatus `form:"status" validate:"omitempty,oneof=pending processing completed failed"`
	Offset   int            `form:"offset" validate:"min=0"`
	Limit    int            `form:"limit" validate:"omitempty,min=1,max=500"`
}

// DocumentList 文档列表。
type DocumentList struct {
	Total int64       `json:"total"`
	Items []*Document `json:"items"`
}

// Settings GET /knowledge-base/settings 响应。
type Settings struct {
	LanguagesSupported []string `json:"languages_supported"`
	ChunkSize          int      `json:"chunk_size"`
	ChunkOverlap       int      `json:"chunk_overlap"`
	RAGTopK            int      `json:"rag_top_k"`
	MinRelevance       float64  `json:"min_relevance"`
	EmbeddingProvider  string   `json:"embedding_provider"`
	EmbeddingModel     string   `json:"embedding_model"`
	ChatProvider       string   `json:"chat_provider"`
	ChatModel          string   `json:"chat_model"`
	StoreBackend       string   `json:"store_backend"`
}
