// Package middleware 提供知识库 HTTP 服务使用的 gin 中间件。
package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/knowledge-base/pkg/utils/errors"
	"github.com/kart-io/knowledge-base/pkg/utils/response"
)

const (
	// HeaderXRequestID carries the request id in and out.
	HeaderXRequestID = "X-Request-ID"
	// HeaderXSessionID identifies a client conversation for session stats.
	HeaderXSessionID = "X-Session-ID"

	ctxKeyRequestID = "kb.request_id"
	ctxKeyLanguage  = "kb.language"
)

type requestIDKey struct{}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID returns the request id stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// RequestIDFrom returns the request id set by RequestID for this gin context.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(ctxKeyRequestID)
}

// LanguageFrom returns the response language chosen by Language ("en" when unset).
func LanguageFrom(c *gin.Context) string {
	if lang := c.GetString(ctxKeyLanguage); lang != "" {
		return lang
	}
	return errors.LangEN
}

// ParseLanguage maps an Accept-Language value onto a supported language.
// Only the first preference is considered; anything other than Tamil is English.
func ParseLanguage(header string) string {
	first := strings.TrimSpace(strings.SplitN(header, ",", 2)[0])
	first = strings.ToLower(strings.SplitN(first, ";", 2)[0])
	if first == errors.LangTA || strings.HasPrefix(first, "ta-") || strings.HasPrefix(first, "ta_") {
		return errors.LangTA
	}
	return errors.LangEN
}

// abort writes the error envelope and stops the chain.
func abort(c *gin.Context, e *errors.Errno) {
	resp := response.ErrWithLang(e, LanguageFrom(c)).
		WithRequestID(RequestIDFrom(c)).
		WithTimestamp(time.Now())
	c.AbortWithStatusJSON(resp.HTTPStatus(), resp)
}
