// Package kb provides knowledge-base behaviour options: chunking, retrieval,
// answer composition and the vector store backend.
package kb

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/knowledge-base/pkg/options"
)

// Vector store backends.
const (
	StoreMemory = "memory"
	StoreMilvus = "milvus"
)

var _ options.IOptions = (*Options)(nil)

// Options 知识库核心配置。
type Options struct {
	// ChunkSize 每个片段的词元数
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`
	// ChunkOverlap 相邻片段重叠的词元数
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`
	// EmbedBatchSize 单次向量化请求的片段数
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	// DefaultLimit search 未指定 limit 时的返回数
	DefaultLimit int `json:"default-limit" mapstructure:"default-limit"`
	// MaxLimit search 允许的最大 limit
	MaxLimit int `json:"max-limit" mapstructure:"max-limit"`

	// RAGTopK 生成答案时检索的片段数
	RAGTopK int `json:"rag-top-k" mapstructure:"rag-top-k"`
	// MinRelevance 参与生成的最低相关度（[0,1]）
	MinRelevance float64 `json:"min-relevance" mapstructure:"min-relevance"`
	// HistoryTurns 拼入检索查询的历史轮数
	HistoryTurns int `json:"history-turns" mapstructure:"history-turns"`
	// GenerationRetries 生成结果为空时的重试次数
	GenerationRetries int `json:"generation-retries" mapstructure:"generation-retries"`

	// Languages 支持的语言
	Languages []string `json:"languages" mapstructure:"languages"`

	// StoreBackend memory | milvus
	StoreBackend string `json:"store-backend" mapstructure:"store-backend"`
	// CollectionPrefix 向量集合名前缀
	CollectionPrefix string `json:"collection-prefix" mapstructure:"collection-prefix"`
	// CategoriesFile 预置分类的 YAML 文件，可为空
	CategoriesFile string `json:"categories-file" mapstructure:"categories-file"`

	// SessionTTL 活跃会话统计窗口
	SessionTTL time.Duration `json:"session-ttl" mapstructure:"session-ttl"`
	// QueryTimeout 单次搜索或问答的超时
	QueryTimeout time.Duration `json:"query-timeout" mapstructure:"query-timeout"`
}

// NewOptions creates default knowledge-base options.
func NewOptions() *Options {
	return &Options{
		ChunkSize:         500,
		ChunkOverlap:      50,
		EmbedBatchSize:    32,
		DefaultLimit:      10,
		MaxLimit:          100,
		RAGTopK:           5,
		MinRelevance:      0.6,
		HistoryTurns:      3,
		GenerationRetries: 1,
		Languages:         []string{"en", "ta"},
		StoreBackend:      StoreMemory,
		CollectionPrefix:  "kb",
		SessionTTL:        30 * time.Minute,
		QueryTimeout:      60 * time.Second,
	}
}

// AddFlags adds flags for knowledge-base options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "kb."
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Tokens per passage.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Tokens shared by consecutive passages.")
	fs.IntVar(&o.EmbedBatchSize, p+"embed-batch-size", o.EmbedBatchSize, "Passages per embedding request.")
	fs.IntVar(&o.DefaultLimit, p+"default-limit", o.DefaultLimit, "Search results returned when limit is omitted.")
	fs.IntVar(&o.MaxLimit, p+"max-limit", o.MaxLimit, "Largest accepted search limit.")
	fs.IntVar(&o.RAGTopK, p+"rag-top-k", o.RAGTopK, "Passages retrieved for answer generation.")
	fs.Float64Var(&o.MinRelevance, p+"min-relevance", o.MinRelevance, "Minimum relevance score in [0,1] for a passage to ground an answer.")
	fs.IntVar(&o.HistoryTurns, p+"history-turns", o.HistoryTurns, "Previous conversation turns folded into the retrieval query.")
	fs.IntVar(&o.GenerationRetries, p+"generation-retries", o.GenerationRetries, "Retries when the chat model returns an empty answer.")
	fs.StringSliceVar(&o.Languages, p+"languages", o.Languages, "Supported languages.")
	fs.StringVar(&o.StoreBackend, p+"store-backend", o.StoreBackend, "Vector store backend (memory|milvus).")
	fs.StringVar(&o.CollectionPrefix, p+"collection-prefix", o.CollectionPrefix, "Prefix for vector collection names.")
	fs.StringVar(&o.CategoriesFile, p+"categories-file", o.CategoriesFile, "YAML file listing categories to create at start.")
	fs.DurationVar(&o.SessionTTL, p+"session-ttl", o.SessionTTL, "Window in which a session counts as active.")
	fs.DurationVar(&o.QueryTimeout, p+"query-timeout", o.QueryTimeout, "Deadline for a single search or test-query request.")
}

// Validate validates the knowledge-base options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("kb.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("kb.chunk-overlap must be in [0, chunk-size), got %d", o.ChunkOverlap))
	}
	if o.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("kb.embed-batch-size must be positive"))
	}
	if o.DefaultLimit <= 0 || o.MaxLimit < o.DefaultLimit {
		errs = append(errs, fmt.Errorf("kb.default-limit must be positive and not above kb.max-limit"))
	}
	if o.RAGTopK <= 0 {
		errs = append(errs, fmt.Errorf("kb.rag-top-k must be positive"))
	}
	if o.MinRelevance < 0 || o.MinRelevance > 1 {
		errs = append(errs, fmt.Errorf("kb.min-relevance must be in [0,1]"))
	}
	if o.HistoryTurns < 0 || o.GenerationRetries < 0 {
		errs = append(errs, fmt.Errorf("kb.history-turns and kb.generation-retries must not be negative"))
	}
	if len(o.Languages) == 0 {
		errs = append(errs, fmt.Errorf("kb.languages cannot be empty"))
	}
	switch o.StoreBackend {
	case StoreMemory, StoreMilvus:
	default:
		errs = append(errs, fmt.Errorf("kb.store-backend must be memory or milvus, got %q", o.StoreBackend))
	}
	if o.CollectionPrefix == "" {
		errs = append(errs, fmt.Errorf("kb.collection-prefix cannot be empty"))
	}
	if o.SessionTTL <= 0 || o.QueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("kb.session-ttl and kb.query-timeout must be positive"))
	}
	return errs
}
