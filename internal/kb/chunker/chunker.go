// Package chunker 将文档文本切分为相互重叠、适合向量化与检索的片段。
package chunker

import (
	"fmt"
	"strings"
)

// Warning 切分过程中发现的非致命问题。
type Warning string

const (
	// WarnEmptyText 输入没有任何词元，未产生片段
	WarnEmptyText Warning = "empty_text"
)

// Result 切分结果。
type Result struct {
	Passages []string
	Warnings []Warning
}

// Chunker 按空白分词，每个窗口 size 个词元，相邻窗口共享 overlap 个。无状态，可并发使用。
type Chunker struct {
	size    int
	overlap int
}

// New 创建切分器。要求 size > 0 且 0 <= overlap < size。
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int { return c.size }

func (c *Chunker) Overlap() int { return c.overlap }

// Chunk 将文本切分为片段。连续空白折叠为单个空格，相同内容总是得到相同片段。
// 泰米尔语同样以空格分词，与英语走同一路径，因此不区分语言。
func (c *Chunker) Chunk(text, _ string) Result {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return Result{Warnings: []Warning{WarnEmptyText}}
	}

	step := c.size - c.overlap
	passages := make([]string, 0, (len(tokens)+step-1)/step)
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		passages = append(passages, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return Result{Passages: passages}
}
