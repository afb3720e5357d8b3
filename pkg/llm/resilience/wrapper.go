package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kart-io/knowledge-base/pkg/llm"
	"github.com/kart-io/knowledge-base/pkg/utils/httpclient"
)

// EmbeddingProvider 带重试和熔断的 Embedding Provider 包装器。
type EmbeddingProvider struct {
	provider llm.EmbeddingProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

// WrapEmbedding 创建带韧性功能的 Embedding Provider。
func WrapEmbedding(provider llm.EmbeddingProvider, retry *RetryConfig, cb *CircuitBreakerConfig) *EmbeddingProvider {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &EmbeddingProvider{provider: provider, retry: retry, cb: NewCircuitBreaker(cb)}
}

func (r *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := RetryWithCircuitBreaker(ctx, r.retry, r.cb, func() error {
		var err error
		out, err = r.provider.Embed(ctx, texts)
		return err
	})
	return out, err
}

func (r *EmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := RetryWithCircuitBreaker(ctx, r.retry, r.cb, func() error {
		var err error
		out, err = r.provider.EmbedSingle(ctx, text)
		return err
	})
	return out, err
}

func (r *EmbeddingProvider) Name() string { return r.provider.Name() }

// CircuitBreaker 返回熔断器实例（用于监控）。
func (r *EmbeddingProvider) CircuitBreaker() *CircuitBreaker { return r.cb }

// ChatProvider 带熔断的 Chat Provider 包装器。生成阶段的重试由调用方决定。
type ChatProvider struct {
	provider llm.ChatProvider
	cb       *CircuitBreaker
}

// WrapChat 创建带熔断的 Chat Provider。
func WrapChat(provider llm.ChatProvider, cb *CircuitBreakerConfig) *ChatProvider {
	return &ChatProvider{provider: provider, cb: NewCircuitBreaker(cb)}
}

func (r *ChatProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	var out string
	err := r.cb.Execute(func() error {
		var err error
		out, err = r.provider.Chat(ctx, messages)
		return err
	})
	return out, err
}

func (r *ChatProvider) Generate(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	var out string
	err := r.cb.Execute(func() error {
		var err error
		out, err = r.provider.Generate(ctx, prompt, systemPrompt)
		return err
	})
	return out, err
}

func (r *ChatProvider) Name() string { return r.provider.Name() }

// CircuitBreaker 返回熔断器实例（用于监控）。
func (r *ChatProvider) CircuitBreaker() *CircuitBreaker { return r.cb }

// IsRetryableError 判断错误是否可重试：网络错误、408、429 与 5xx。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitBreakerOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
