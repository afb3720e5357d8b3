package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// 知识库服务错误码: 20 (业务服务范围 20-79)

var (
	// ErrValidation 请求参数不合法（查询、类别、语言等），调用方可自行修正。
	ErrValidation = NewRequestErr(ServiceKnowledgeBase, 1,
		"Validation failed", "சரிபார்ப்பு தோல்வியடைந்தது")

	// ErrEmbeddingDimensionMismatch 向量维度与类别索引已确立的维度不一致。
	ErrEmbeddingDimensionMismatch = NewError(ServiceKnowledgeBase, CategoryRequest, 2,
		http.StatusUnprocessableEntity, codes.FailedPrecondition,
		"Embedding dimension mismatch", "உட்பொதிவு பரிமாணம் பொருந்தவில்லை")

	ErrCategoryNotFound = NewNotFoundErr(ServiceKnowledgeBase, 1,
		"Category not found", "வகை கிடைக்கவில்லை")

	ErrDocumentNotFound = NewNotFoundErr(ServiceKnowledgeBase, 2,
		"Document not found", "ஆவணம் கிடைக்கவில்லை")

	// ErrReindexInProgress 类别正在重建索引，可稍后重试。
	ErrReindexInProgress = NewConflictErr(ServiceKnowledgeBase, 1,
		"Reindex in progress", "மறு குறியீட்டாக்கம் நடைபெற்று வருகிறது")

	// ErrCategoryIndexCorrupt 持久化元数据与底层存储无法对齐，需要人工处理。
	ErrCategoryIndexCorrupt = NewInternalErr(ServiceKnowledgeBase, 1,
		"Category index corrupt", "வகை குறியீடு சிதைந்துள்ளது")

	ErrVectorStore = NewInternalErr(ServiceKnowledgeBase, 2,
		"Vector store operation failed", "திசையன் சேமிப்பக செயல்பாடு தோல்வியடைந்தது")

	ErrPoolOverload = NewNetworkErr(ServiceKnowledgeBase, 1,
		"Worker pool overloaded", "பணி வரிசை நிரம்பியுள்ளது")

	// ErrGenerationUnavailable 生成服务重试一次后仍失败。
	ErrGenerationUnavailable = NewNetworkErr(ServiceThirdPartyLLM, 1,
		"Generation service unavailable", "பதில் உருவாக்கும் சேவை கிடைக்கவில்லை")

	ErrEmbeddingUnavailable = NewNetworkErr(ServiceThirdPartyLLM, 2,
		"Embedding service unavailable", "உட்பொதிவு சேவை கிடைக்கவில்லை")

	// ErrRequestTimeout 请求在截止时间内未完成。
	ErrRequestTimeout = NewTimeoutErr(ServiceKnowledgeBase, 1,
		"Request timed out", "கோரிக்கை நேரம் கடந்தது")
)
