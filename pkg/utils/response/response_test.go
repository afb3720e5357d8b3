package response

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/knowledge-base/pkg/utils/errors"
)

func TestSuccessAndAccepted(t *testing.T) {
	r := Success(map[string]int{"n": 1})
	assert.True(t, r.IsSuccess())
	assert.Equal(t, http.StatusOK, r.HTTPStatus())

	a := Accepted("job")
	assert.True(t, a.IsSuccess())
	assert.Equal(t, http.StatusAccepted, a.HTTPStatus())
}

func TestErrWithLang(t *testing.T) {
	r := ErrWithLang(errors.ErrReindexInProgress, errors.LangTA)
	assert.False(t, r.IsSuccess())
	assert.Equal(t, errors.ErrReindexInProgress.Code, r.Code)
	assert.Equal(t, http.StatusConflict, r.HTTPStatus())
	assert.Equal(t, errors.ErrReindexInProgress.MessageTA, r.Message)

	assert.Equal(t, "Reindex in progress", Err(errors.ErrReindexInProgress).Message)
	assert.True(t, Err(nil).IsSuccess())
}

func TestErrorWithData(t *testing.T) {
	r := ErrorWithData(errors.ErrGenerationUnavailable, errors.LangEN, map[string]string{"response": "fallback"})
	assert.Equal(t, http.StatusServiceUnavailable, r.HTTPStatus())
	assert.NotNil(t, r.Data)
}

func TestHTTPStatus_CategoryFallback(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{errors.MakeCode(77, errors.CategoryRequest, 999), http.StatusBadRequest},
		{errors.MakeCode(77, errors.CategoryResource, 999), http.StatusNotFound},
		{errors.MakeCode(77, errors.CategoryConflict, 999), http.StatusConflict},
		{errors.MakeCode(77, errors.CategoryRateLimit, 999), http.StatusTooManyRequests},
		{errors.MakeCode(77, errors.CategoryNetwork, 999), http.StatusServiceUnavailable},
		{errors.MakeCode(77, errors.CategoryDatabase, 999), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		r := &Response{Code: tt.code}
		assert.Equal(t, tt.want, r.HTTPStatus(), "code %d", tt.code)
	}
}

func TestWithRequestIDAndTimestamp(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	r := Success(nil).WithRequestID("req-1").WithTimestamp(now)
	assert.Equal(t, "req-1", r.RequestID)
	assert.Equal(t, int64(1700000000000), r.Timestamp)
}
