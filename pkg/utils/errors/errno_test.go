package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestMakeCode(t *testing.T) {
	tests := []struct {
		service  int
		category int
		sequence int
		expected int
	}{
		{0, 0, 0, 0},
		{0, 1, 1, 1001},
		{20, 5, 1, 2005001},
		{90, 10, 1, 9010001},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tt.service, tt.category, tt.sequence), func(t *testing.T) {
			assert.Equal(t, tt.expected, MakeCode(tt.service, tt.category, tt.sequence))

			s, c, q := ParseCode(tt.expected)
			assert.Equal(t, tt.service, s)
			assert.Equal(t, tt.category, c)
			assert.Equal(t, tt.sequence, q)
		})
	}
}

func TestErrno_Message(t *testing.T) {
	assert.Equal(t, "Reindex in progress", ErrReindexInProgress.Message(LangEN))
	assert.Equal(t, "மறு குறியீட்டாக்கம் நடைபெற்று வருகிறது", ErrReindexInProgress.Message(LangTA))
	assert.Equal(t, ErrReindexInProgress.MessageTA, ErrReindexInProgress.Message("ta-IN"))
	assert.Equal(t, "Reindex in progress", ErrReindexInProgress.Message("fr"))

	custom := New(123, http.StatusTeapot, codes.Unknown, "only english", "")
	assert.Equal(t, "only english", custom.Message(LangTA))
}

func TestErrno_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  *Errno
		http int
		grpc codes.Code
	}{
		{"validation", ErrValidation, http.StatusBadRequest, codes.InvalidArgument},
		{"dimension", ErrEmbeddingDimensionMismatch, http.StatusUnprocessableEntity, codes.FailedPrecondition},
		{"reindex", ErrReindexInProgress, http.StatusConflict, codes.Aborted},
		{"corrupt", ErrCategoryIndexCorrupt, http.StatusInternalServerError, codes.Internal},
		{"generation", ErrGenerationUnavailable, http.StatusServiceUnavailable, codes.Unavailable},
		{"zero values", &Errno{Code: 1}, http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.http, tt.err.HTTPStatus())
			assert.Equal(t, tt.grpc, tt.err.GRPCStatus())
		})
	}
}

func TestErrno_WithCauseKeepsIdentity(t *testing.T) {
	cause := stderrors.New("store offline")
	err := ErrVectorStore.WithCause(cause)

	assert.True(t, Is(err, ErrVectorStore))
	assert.False(t, Is(err, ErrInternal))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "store offline")
	assert.Nil(t, ErrVectorStore.Unwrap(), "original must not be mutated")

	wrapped := fmt.Errorf("index politics: %w", err)
	assert.True(t, IsCode(wrapped, ErrVectorStore.Code))
	assert.Equal(t, ErrVectorStore.Code, GetCode(wrapped))
}

func TestErrno_WithMessage(t *testing.T) {
	err := ErrEmbeddingDimensionMismatch.WithMessagef("expected %d, got %d", 4, 3)
	assert.Equal(t, "expected 4, got 3", err.MessageEN)
	assert.Equal(t, ErrEmbeddingDimensionMismatch.MessageTA, err.MessageTA)
	assert.Equal(t, "Embedding dimension mismatch", ErrEmbeddingDimensionMismatch.MessageEN)

	both := ErrValidation.WithMessages("query is required", "கேள்வி அவசியம்")
	assert.Equal(t, "கேள்வி அவசியம்", both.Message(LangTA))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	plain := stderrors.New("boom")
	e := FromError(plain)
	require.NotNil(t, e)
	assert.Equal(t, ErrInternal.Code, e.Code)
	assert.ErrorIs(t, e, plain)

	wrapped := fmt.Errorf("ctx: %w", ErrDocumentNotFound)
	assert.Equal(t, ErrDocumentNotFound.Code, FromError(wrapped).Code)
	assert.Equal(t, -1, GetCode(plain))
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(&Errno{Code: ErrValidation.Code, MessageEN: "dup"})
	})

	got, ok := Lookup(ErrGenerationUnavailable.Code)
	require.True(t, ok)
	assert.Same(t, ErrGenerationUnavailable, got)
	assert.Contains(t, GetAllRegistered(), ErrPoolOverload.Code)
}

func TestErrno_Format(t *testing.T) {
	err := ErrReindexInProgress.WithCause(stderrors.New("politics"))
	out := fmt.Sprintf("%+v", err)
	assert.Contains(t, out, "HTTP 409")
	assert.Contains(t, out, "caused by: politics")
	assert.Equal(t, err.Error(), fmt.Sprintf("%s", err))
}

func TestCategoryHelpers(t *testing.T) {
	assert.True(t, IsClientError(ErrReindexInProgress.Code))
	assert.True(t, IsServerError(ErrCategoryIndexCorrupt.Code))
	assert.False(t, IsClientError(ErrCategoryIndexCorrupt.Code))
	assert.Equal(t, ServiceThirdPartyLLM, GetService(ErrGenerationUnavailable.Code))
}
