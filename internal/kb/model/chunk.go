package model

import "fmt"

// Chunk 检索单元：一段有界文本及其向量。
type Chunk struct {
	ID         string
	DocumentID string
	Category   string
	Language   string
	Ordinal    int
	Title      string
	Content    string
	SourceMeta map[string]string
	Vector     []float32
}

// ChunkID 由文档 ID 与序号确定，同一内容重复摄取得到相同的 ID。
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s-%04d", documentID, ordinal)
}

// ScoredChunk 检索结果：块、归一化分数 [0,1] 与所属类别。
type ScoredChunk struct {
	Chunk
	Score    float64
	Category string
	// Seq 类别内插入顺序，用于同分时稳定排序。
	Seq int64
}
