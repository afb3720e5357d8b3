package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore 进程内向量存储，使用暴力余弦检索。
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dim     int
	records []Record
	// sq 每条记录的范数平方
	sq []float64
}

// NewMemoryStore 创建内存向量存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// Name 返回后端名称。
func (s *MemoryStore) Name() string { return "memory" }

// CreateCollection 创建集合。
func (s *MemoryStore) CreateCollection(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("collection %s exists with dimension %d", name, c.dim)
		}
		return nil
	}
	s.collections[name] = &memCollection{dim: dim}
	return nil
}

// Insert 批量插入，维度不符时整批拒绝。
func (s *MemoryStore) Insert(_ context.Context, name string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	for i := range records {
		if len(records[i].Vector) != c.dim {
			return fmt.Errorf("record %d has dimension %d, collection %s wants %d",
				i, len(records[i].Vector), name, c.dim)
		}
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		c.records = append(c.records, r)
		c.sq = append(c.sq, sqNorm(r.Vector))
	}
	return nil
}

// Search 暴力检索。
func (s *MemoryStore) Search(ctx context.Context, name string, vector []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	c, ok := s.collections[name]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	// 记录只追加，截取当前长度即可在锁外计算
	records := c.records[:len(c.records):len(c.records)]
	sq := c.sq[:len(records):len(records)]
	dim := c.dim
	s.mu.RUnlock()

	if len(vector) != dim {
		return nil, fmt.Errorf("query dimension %d, collection %s wants %d", len(vector), name, dim)
	}
	if k <= 0 || len(records) == 0 {
		return []Hit{}, nil
	}

	qsq := sqNorm(vector)
	hits := make([]Hit, len(records))
	for i := range records {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		hits[i] = Hit{Record: records[i], Cosine: cosine(vector, records[i].Vector, qsq, sq[i])}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Cosine != hits[j].Cosine {
			return hits[i].Cosine > hits[j].Cosine
		}
		return hits[i].Seq < hits[j].Seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count 返回记录数。
func (s *MemoryStore) Count(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return int64(len(c.records)), nil
}

// DropCollection 删除集合。
func (s *MemoryStore) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

// HasCollection 判断集合是否存在。
func (s *MemoryStore) HasCollection(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

// Collections 返回所有集合名，供测试和诊断使用。
func (s *MemoryStore) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for n := range s.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sqNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return sum
}

// cosine 使用预先计算的模平方，相同向量得分恰好为 1，零向量得分为 0。
func cosine(a, b []float32, sa, sb float64) float64 {
	if sa == 0 || sb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	c := dot / math.Sqrt(sa*sb)
	// 浮点误差可能略超出 [-1, 1]
	return math.Max(-1, math.Min(1, c))
}

var _ VectorStore = (*MemoryStore)(nil)
