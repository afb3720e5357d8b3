package biz

import (
	"context"
	"fmt"

	"github.com/kart-io/knowledge-base/pkg/llm"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
)

// Embedder 文本向量化能力。
type Embedder interface {
	// Embed 批量向量化，返回顺序与输入一致。
	Embed(ctx context.Context, texts []string, language string) ([][]float32, error)
	// Name 返回模型标识。
	Name() string
}

// GenerationRequest 一次答案生成请求。
type GenerationRequest struct {
	SystemPrompt string
	Prompt       string
	Question     string
	Language     string
}

// Generator 答案生成能力。
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Name 返回模型标识。
	Name() string
}

// LLMEmbedder 将 llm.EmbeddingProvider 适配为 Embedder，按批次切分请求。
type LLMEmbedder struct {
	provider  llm.EmbeddingProvider
	batchSize int
	model     string
}

// NewLLMEmbedder 创建 Embedder。model 仅用于展示。
func NewLLMEmbedder(provider llm.EmbeddingProvider, batchSize int, model string) *LLMEmbedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &LLMEmbedder{provider: provider, batchSize: batchSize, model: model}
}

// Embed 分批调用供应商。语言不影响向量化，英文与泰米尔文共享同一向量空间。
func (e *LLMEmbedder) Embed(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.provider.Embed(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, kberrors.ErrEmbeddingUnavailable.WithCause(err)
		}
		if len(vecs) != end-start {
			return nil, kberrors.ErrEmbeddingUnavailable.WithMessagef(
				"provider returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Name 返回 "<provider>/<model>"。
func (e *LLMEmbedder) Name() string {
	if e.model == "" {
		return e.provider.Name()
	}
	return fmt.Sprintf("%s/%s", e.provider.Name(), e.model)
}

// LLMGenerator 将 llm.ChatProvider 适配为 Generator。
type LLMGenerator struct {
	provider llm.ChatProvider
	model    string
}

// NewLLMGenerator 创建 Generator。
func NewLLMGenerator(provider llm.ChatProvider, model string) *LLMGenerator {
	return &LLMGenerator{provider: provider, model: model}
}

// Generate 以系统提示词 + 单轮用户提示调用对话模型。
func (g *LLMGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	return g.provider.Generate(ctx, req.Prompt, req.SystemPrompt)
}

// Name 返回 "<provider>/<model>"。
func (g *LLMGenerator) Name() string {
	if g.model == "" {
		return g.provider.Name()
	}
	return fmt.Sprintf("%s/%s", g.provider.Name(), g.model)
}
