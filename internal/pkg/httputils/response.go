// Package httputils provides HTTP utility functions.
package httputils

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/knowledge-base/pkg/infra/middleware"
	"github.com/kart-io/knowledge-base/pkg/utils/errors"
	"github.com/kart-io/knowledge-base/pkg/utils/response"
)

// WriteResponse writes the response to the client.
// It handles both success and error cases, ensuring consistent response format.
func WriteResponse(c *gin.Context, err error, data any) {
	if err != nil {
		write(c, response.ErrWithLang(ToErrno(err), middleware.LanguageFrom(c)), err)
		return
	}

	// data can be *response.Response (e.g. from response.Accepted) or raw data
	if resp, ok := data.(*response.Response); ok {
		write(c, resp, nil)
		return
	}
	write(c, response.Success(data), nil)
}

// WriteAccepted writes a 202 envelope for work that continues in the background.
func WriteAccepted(c *gin.Context, data any) {
	write(c, response.Accepted(data), nil)
}

// WriteErrorWithData writes an error envelope that still carries a payload.
func WriteErrorWithData(c *gin.Context, err error, data any) {
	write(c, response.ErrorWithData(ToErrno(err), middleware.LanguageFrom(c), data), err)
}

// ToErrno maps any error onto an Errno. Context errors become timeouts.
func ToErrno(err error) *errors.Errno {
	var e *errors.Errno
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.ErrRequestTimeout.WithCause(err)
	}
	return errors.ErrInternal.WithCause(err)
}

func write(c *gin.Context, resp *response.Response, cause error) {
	resp.WithRequestID(middleware.RequestIDFrom(c)).WithTimestamp(time.Now())
	status := resp.HTTPStatus()
	if cause != nil {
		_ = c.Error(cause)
		if status >= 500 {
			logger.Errorw("request failed",
				"path", c.FullPath(),
				"request_id", resp.RequestID,
				"error", cause.Error(),
			)
		}
	}
	c.JSON(status, resp)
}
