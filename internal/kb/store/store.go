// Package store 提供知识库的向量存储层。
//
// VectorStore 以集合为单位管理向量：每个类别索引的每一代对应一个集合，
// 集合一旦被新一代取代就整体删除，从不原地修改。
package store

import (
	"context"
	"errors"
)

// ErrCollectionNotFound 集合不存在。
var ErrCollectionNotFound = errors.New("collection not found")

// Record 一条向量记录。
type Record struct {
	// Seq 代内插入序号，同时作为主键，用于同分稳定排序。
	Seq        int64
	ChunkID    string
	DocumentID string
	Ordinal    int
	Language   string
	Title      string
	Content    string
	SourceMeta map[string]string
	Vector     []float32
}

// Hit 检索命中，Cosine 为原始余弦相似度 [-1, 1]。
type Hit struct {
	Record
	Cosine float64
}

// VectorStore 定义向量存储接口。所有实现必须使用余弦相似度。
type VectorStore interface {
	// Name 返回后端名称。
	Name() string

	// CreateCollection 创建集合，已存在时直接返回。
	CreateCollection(ctx context.Context, name string, dim int) error

	// Insert 批量插入记录。
	Insert(ctx context.Context, name string, records []Record) error

	// Search 返回最多 k 条命中，按 Cosine 降序，同分按 Seq 升序。
	Search(ctx context.Context, name string, vector []float32, k int) ([]Hit, error)

	// Count 返回集合中的记录数。
	Count(ctx context.Context, name string) (int64, error)

	// DropCollection 删除集合，集合不存在不是错误。
	DropCollection(ctx context.Context, name string) error

	// HasCollection 判断集合是否存在。
	HasCollection(ctx context.Context, name string) (bool, error)
}
