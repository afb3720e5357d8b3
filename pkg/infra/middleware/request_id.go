package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/knowledge-base/pkg/utils/id"
)

// maxRequestIDLen bounds caller supplied ids.
const maxRequestIDLen = 128

// RequestID reuses the caller's X-Request-ID or generates a UUID, echoes it on
// the response and stores it on both the gin and the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = id.NewUUID()
		}

		c.Set(ctxKeyRequestID, requestID)
		c.Header(HeaderXRequestID, requestID)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))

		c.Next()
	}
}

// Language resolves the response language from Accept-Language.
func Language() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxKeyLanguage, ParseLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}
