package biz

import (
	"context"
	"errors"
	"strings"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/knowledge-base/internal/kb/metrics"
	"github.com/kart-io/knowledge-base/internal/kb/model"
	"github.com/kart-io/knowledge-base/pkg/infra/tracing"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
)

// GeneralTopic 不按类别过滤的话题。
const GeneralTopic = "general"

// ComposerConfig 答案组合配置。
type ComposerConfig struct {
	// TopK 检索片段数
	TopK int
	// MinRelevance 参与生成的最低归一化分数
	MinRelevance float64
	// HistoryTurns 拼入检索查询的历史轮数
	HistoryTurns int
	// Retries 生成结果为空或失败时的重试次数
	Retries int
}

// Composer 基于检索结果生成有出处的回答。
type Composer struct {
	retriever *Retriever
	generator Generator
	config    ComposerConfig
	metrics   *metrics.Metrics
}

// NewComposer 创建答案组合器。
func NewComposer(retriever *Retriever, generator Generator, config ComposerConfig, m *metrics.Metrics) *Composer {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	return &Composer{
		retriever: retriever,
		generator: generator,
		config:    config,
		metrics:   m,
	}
}

// Answer 检索并生成答案。
//
// 没有足够相关的片段时返回兜底答案（sources 为空），不调用生成服务。
// 生成服务重试后仍不可用时，返回带检索来源的兜底答案以及 ErrGenerationUnavailable。
func (c *Composer) Answer(ctx context.Context, req *model.TestQueryRequest) (answer *model.RAGAnswer, err error) {
	ctx, span := tracing.StartSpan(ctx, "kb.compose",
		attribute.String("kb.topic", req.Topic),
		attribute.String("kb.language", req.Language),
	)
	defer func() {
		tracing.RecordError(ctx, err)
		span.End()
	}()

	category := req.Topic
	if strings.EqualFold(req.Topic, GeneralTopic) {
		category = ""
	}

	res, err := c.retriever.Retrieve(ctx, RetrieveRequest{
		Query:    retrievalQuery(req.Query, req.Conversation, c.config.HistoryTurns),
		Category: category,
		Language: req.Language,
		K:        c.config.TopK,
		MinScore: c.config.MinRelevance,
	})
	if err != nil {
		c.metrics.RecordAnswer("error")
		return nil, err
	}

	if len(res.Chunks) == 0 {
		c.metrics.RecordAnswer(string(model.AnswerFallback))
		logger.Infow("no grounded context, returning fallback",
			"topic", req.Topic,
			"language", req.Language,
			"omitted", res.Omitted,
		)
		return c.fallback(req, fallbackText(req.Language, req.Topic), nil), nil
	}

	gen := GenerationRequest{
		SystemPrompt: systemPrompt(req.Language, req.Topic),
		Prompt:       userPrompt(strings.TrimSpace(req.Query), res.Chunks),
		Question:     req.Query,
		Language:     req.Language,
	}
	text, err := c.generate(ctx, gen)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.metrics.RecordGenerationFailure()
		c.metrics.RecordAnswer("error")
		return c.fallback(req, unavailableText(req.Language), res.Chunks),
			kberrors.ErrGenerationUnavailable.WithCause(err)
	}

	c.metrics.RecordAnswer(string(model.AnswerRAG))
	answer = &model.RAGAnswer{
		Response: text,
		Sources:  toSources(res.Chunks),
		Context:  toContext(res.Chunks),
		Topic:    req.Topic,
		Language: req.Language,
		Metadata: model.AnswerMetadata{
			SourcesCount:      len(res.Chunks),
			AvgRelevanceScore: avgScore(res.Chunks),
			Model:             c.generator.Name(),
			Type:              model.AnswerRAG,
		},
	}
	span.SetAttributes(attribute.Int("kb.sources", len(res.Chunks)))
	return answer, nil
}

var errEmptyGeneration = errors.New("generation returned empty text")

func (c *Composer) generate(ctx context.Context, req GenerationRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 0 {
			c.metrics.RecordGenerationRetry()
			logger.Warnw("retrying answer generation",
				"attempt", attempt+1,
				"error", lastErr.Error(),
			)
		}
		text, err := c.generator.Generate(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return text, nil
		}
		lastErr = errEmptyGeneration
	}
	return "", lastErr
}

func (c *Composer) fallback(req *model.TestQueryRequest, text string, chunks []model.ScoredChunk) *model.RAGAnswer {
	return &model.RAGAnswer{
		Response: text,
		Sources:  toSources(chunks),
		Context:  toContext(chunks),
		Topic:    req.Topic,
		Language: req.Language,
		Metadata: model.AnswerMetadata{
			SourcesCount:      len(chunks),
			AvgRelevanceScore: avgScore(chunks),
			Type:              model.AnswerFallback,
		},
	}
}

func toSources(chunks []model.ScoredChunk) []model.Source {
	out := make([]model.Source, len(chunks))
	for i, ch := range chunks {
		out[i] = model.Source{
			DocumentID: ch.DocumentID,
			Title:      ch.Title,
			Category:   ch.Category,
			Excerpt:    truncateRunes(ch.Content, excerptRunes),
			Score:      ch.Score,
			SourceMeta: ch.SourceMeta,
		}
	}
	return out
}

func toContext(chunks []model.ScoredChunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Content
	}
	return out
}

func avgScore(chunks []model.ScoredChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, ch := range chunks {
		sum += ch.Score
	}
	return sum / float64(len(chunks))
}
