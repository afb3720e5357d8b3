package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/knowledge-base/pkg/component/milvus"
	"github.com/kart-io/knowledge-base/pkg/utils/json"
)

const (
	fieldSeq        = "seq"
	fieldChunkID    = "chunk_id"
	fieldDocumentID = "document_id"
	fieldOrdinal    = "ordinal"
	fieldLanguage   = "language"
	fieldTitle      = "title"
	fieldContent    = "content"
	fieldSourceMeta = "source_meta"
)

var milvusOutputFields = []string{
	fieldSeq, fieldChunkID, fieldDocumentID, fieldOrdinal,
	fieldLanguage, fieldTitle, fieldContent, fieldSourceMeta,
}

// MilvusStore 实现基于 Milvus 的向量存储。
type MilvusStore struct {
	client *milvus.Client
}

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client) *MilvusStore {
	return &MilvusStore{client: client}
}

// Name 返回后端名称。
func (s *MilvusStore) Name() string { return "milvus" }

// CreateCollection 创建 Milvus 集合（IVF_FLAT + COSINE）。
func (s *MilvusStore) CreateCollection(ctx context.Context, name string, dim int) error {
	schema := &milvus.CollectionSchema{
		Name:         name,
		Description:  "knowledge base category generation",
		Dimension:    dim,
		PrimaryField: fieldSeq,
		MetaFields: []milvus.MetaField{
			{Name: fieldChunkID, DataType: entity.FieldTypeVarChar, MaxLen: 128},
			{Name: fieldDocumentID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldOrdinal, DataType: entity.FieldTypeInt64},
			{Name: fieldLanguage, DataType: entity.FieldTypeVarChar, MaxLen: 8},
			{Name: fieldTitle, DataType: entity.FieldTypeVarChar, MaxLen: 512},
			{Name: fieldContent, DataType: entity.FieldTypeVarChar, MaxLen: 65535},
			{Name: fieldSourceMeta, DataType: entity.FieldTypeVarChar, MaxLen: 4096},
		},
	}
	return s.client.CreateCollection(ctx, schema)
}

// Insert 批量插入记录到 Milvus。
func (s *MilvusStore) Insert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	n := len(records)
	embeddings := make([][]float32, n)
	metadata := map[string][]any{
		fieldSeq:        make([]any, n),
		fieldChunkID:    make([]any, n),
		fieldDocumentID: make([]any, n),
		fieldOrdinal:    make([]any, n),
		fieldLanguage:   make([]any, n),
		fieldTitle:      make([]any, n),
		fieldContent:    make([]any, n),
		fieldSourceMeta: make([]any, n),
	}

	for i, r := range records {
		meta := "{}"
		if len(r.SourceMeta) > 0 {
			b, err := json.Marshal(r.SourceMeta)
			if err != nil {
				return fmt.Errorf("encode source meta of %s: %w", r.ChunkID, err)
			}
			meta = string(b)
		}
		embeddings[i] = r.Vector
		metadata[fieldSeq][i] = r.Seq
		metadata[fieldChunkID][i] = r.ChunkID
		metadata[fieldDocumentID][i] = r.DocumentID
		metadata[fieldOrdinal][i] = int64(r.Ordinal)
		metadata[fieldLanguage][i] = r.Language
		metadata[fieldTitle][i] = r.Title
		metadata[fieldContent][i] = r.Content
		metadata[fieldSourceMeta][i] = meta
	}

	if err := s.client.Insert(ctx, name, &milvus.InsertData{Embeddings: embeddings, Metadata: metadata}); err != nil {
		return fmt.Errorf("failed to insert into milvus: %w", err)
	}
	return nil
}

// Search 在 Milvus 中做余弦检索。
func (s *MilvusStore) Search(ctx context.Context, name string, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	results, err := s.client.Search(ctx, name, vector, k, milvusOutputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		h := Hit{Cosine: float64(r.Score)}
		h.Seq = r.ID
		h.ChunkID, _ = r.Metadata[fieldChunkID].(string)
		h.DocumentID, _ = r.Metadata[fieldDocumentID].(string)
		h.Language, _ = r.Metadata[fieldLanguage].(string)
		h.Title, _ = r.Metadata[fieldTitle].(string)
		h.Content, _ = r.Metadata[fieldContent].(string)
		if ord, ok := r.Metadata[fieldOrdinal].(int64); ok {
			h.Ordinal = int(ord)
		}
		if raw, ok := r.Metadata[fieldSourceMeta].(string); ok && raw != "" && raw != "{}" {
			_ = json.Unmarshal([]byte(raw), &h.SourceMeta)
		}
		hits = append(hits, h)
	}

	// Milvus 不保证同分顺序
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Cosine != hits[j].Cosine {
			return hits[i].Cosine > hits[j].Cosine
		}
		return hits[i].Seq < hits[j].Seq
	})
	return hits, nil
}

// Count 返回集合行数。
func (s *MilvusStore) Count(ctx context.Context, name string) (int64, error) {
	ok, err := s.client.HasCollection(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return s.client.RowCount(ctx, name)
}

// DropCollection 删除集合。
func (s *MilvusStore) DropCollection(ctx context.Context, name string) error {
	return s.client.DropCollection(ctx, name)
}

// HasCollection 判断集合是否存在。
func (s *MilvusStore) HasCollection(ctx context.Context, name string) (bool, error) {
	return s.client.HasCollection(ctx, name)
}

var _ VectorStore = (*MilvusStore)(nil)
