package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowledge-base/internal/kb/model"
	"github.com/kart-io/knowledge-base/internal/kb/store"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
	"github.com/kart-io/knowledge-base/pkg/utils/id"
	"github.com/kart-io/knowledge-base/pkg/utils/validator"
)

// Registry 类别名到类别索引的映射。类别在首次插入时按需创建。
type Registry struct {
	store  store.VectorStore
	metas  MetaStore
	prefix string
	hooks  Hooks

	mu      sync.RWMutex
	indexes map[string]*CategoryIndex
	// 同一类别的重建串行执行，不同类别互不阻塞
	reindexMu sync.Map

	// 进程纪元 + 版本号，任何索引内容变化都会递增版本
	epoch   string
	version atomic.Int64
}

// NewRegistry 创建注册表，调用 Open 之前不包含任何类别。
func NewRegistry(st store.VectorStore, metas MetaStore, prefix string, hooks Hooks) *Registry {
	return &Registry{
		store:   st,
		metas:   metas,
		prefix:  prefix,
		hooks:   hooks,
		indexes: make(map[string]*CategoryIndex),
		epoch:   id.NewULID(),
	}
}

// Open 从持久化元数据恢复所有类别。元数据与存储不一致的类别被标记为损坏，
// 查询和写入都会返回 CategoryIndexCorrupt，直到运维删除该类别。
func (r *Registry) Open(ctx context.Context) error {
	metas, err := r.metas.List(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, meta := range metas {
		idx := r.newIndex(meta.Name, meta.Description)
		idx.restore(ctx, meta)
		r.indexes[meta.Name] = idx

		info := idx.Info()
		if info.Status == model.IndexCorrupt {
			logger.Errorw("category index is corrupt",
				"category", meta.Name,
				"generation", meta.Generation,
				"reason", info.Reason,
			)
			continue
		}
		logger.Infow("category index restored",
			"category", meta.Name,
			"generation", info.Generation,
			"vectors", info.Vectors,
		)
	}
	r.bump()
	return nil
}

func (r *Registry) newIndex(name, description string) *CategoryIndex {
	return newCategoryIndex(name, description, r.prefix, r.store, r.metas, r.hooks, r.bump)
}

func (r *Registry) bump() { r.version.Add(1) }

// Fingerprint 标识当前索引内容版本，用于查询缓存失效。
func (r *Registry) Fingerprint() string {
	return fmt.Sprintf("%s.%d", r.epoch, r.version.Load())
}

// Get 返回类别索引，不存在时创建空索引。
func (r *Registry) Get(name string) (*CategoryIndex, error) {
	if !validator.IsValidCategory(name) {
		return nil, kberrors.ErrValidation.WithMessagef("invalid category %q", name)
	}
	if idx, ok := r.Lookup(name); ok {
		return idx, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.indexes[name]; ok {
		return idx, nil
	}
	idx := r.newIndex(name, "")
	r.indexes[name] = idx
	return idx, nil
}

// Lookup 返回已存在的类别索引。
func (r *Registry) Lookup(name string) (*CategoryIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.indexes[name]
	return idx, ok
}

// Register 登记类别及描述（来自分类目录），不创建任何代。
func (r *Registry) Register(ctx context.Context, name, description string) error {
	if !validator.IsValidCategory(name) {
		return kberrors.ErrValidation.WithMessagef("invalid category %q", name)
	}
	if err := r.metas.EnsureDescribed(ctx, name, description); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.indexes[name]; ok {
		if idx.description == "" {
			idx.description = description
		}
		return nil
	}
	r.indexes[name] = r.newIndex(name, description)
	return nil
}

// Reindex 用 chunks 整体替换类别内容。同一类别的并发重建排队执行，
// 后到的调用等待前一次发布后再构建自己的新代。
func (r *Registry) Reindex(ctx context.Context, category string, chunks []model.Chunk) error {
	rb, err := r.BeginReindex(category)
	if err != nil {
		return err
	}
	return rb.Publish(ctx, chunks)
}

// BeginReindex 将类别标记为重建中并返回句柄。此后的插入返回 ReindexInProgress，
// 调用方可以在此期间读取文档并计算向量，再用 Publish 发布。
// 句柄必须以 Publish 或 Abort 结束。
func (r *Registry) BeginReindex(category string) (*Rebuild, error) {
	idx, err := r.Get(category)
	if err != nil {
		return nil, err
	}
	v, _ := r.reindexMu.LoadOrStore(category, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	gen, err := idx.beginReindex()
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	return &Rebuild{idx: idx, gen: gen, unlock: mu.Unlock}, nil
}

// Rebuild 进行中的一次类别重建。
type Rebuild struct {
	idx    *CategoryIndex
	gen    int64
	unlock func()
	once   sync.Once
}

// Generation 返回本次重建将发布的代号。
func (b *Rebuild) Generation() int64 { return b.gen }

// Publish 构建并发布新代。只有第一次 Publish 或 Abort 生效。
func (b *Rebuild) Publish(ctx context.Context, chunks []model.Chunk) error {
	var err error = kberrors.ErrInternal.WithMessagef("rebuild of %s already finished", b.idx.name)
	b.once.Do(func() {
		defer b.unlock()
		err = b.idx.publish(ctx, b.gen, chunks)
	})
	return err
}

// Abort 放弃重建，旧代保持活跃。已发布时无操作。
func (b *Rebuild) Abort() {
	b.once.Do(func() {
		b.idx.endReindex()
		b.unlock()
	})
}

// Stats 返回每个类别活跃代的计数，等同于 Counts。
func (r *Registry) Stats() map[string]model.CategoryCount {
	return r.Counts()
}

// Categories 返回按名称排序的类别列表。
func (r *Registry) Categories() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.indexes))
	for name := range r.indexes {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Indexes 按类别名顺序返回索引。
func (r *Registry) Indexes() []*CategoryIndex {
	names := r.Categories()
	out := make([]*CategoryIndex, 0, len(names))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if idx, ok := r.indexes[name]; ok {
			out = append(out, idx)
		}
	}
	return out
}

// Counts 返回每个类别活跃代的文档数与向量数，空类别计为 0。
func (r *Registry) Counts() map[string]model.CategoryCount {
	out := make(map[string]model.CategoryCount)
	for _, idx := range r.Indexes() {
		out[idx.Name()] = idx.Counts()
	}
	return out
}

// Infos 返回所有类别的索引描述。
func (r *Registry) Infos() []model.CategoryInfo {
	indexes := r.Indexes()
	out := make([]model.CategoryInfo, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, idx.Info())
	}
	return out
}

// Drop 删除类别：活跃代在读者释放后删除，元数据立即删除。
// 这是损坏索引的恢复手段，之后可以重新写入或重建。
func (r *Registry) Drop(ctx context.Context, name string) error {
	r.mu.Lock()
	idx, ok := r.indexes[name]
	if ok {
		delete(r.indexes, name)
	}
	r.mu.Unlock()
	if !ok {
		return kberrors.ErrCategoryNotFound.WithMessagef("category %s", name)
	}

	recorded := ""
	if meta, err := r.metas.Get(ctx, name); err == nil && meta != nil {
		recorded = meta.Collection
	}
	if err := idx.drop(ctx, recorded); err != nil {
		return err
	}
	if err := r.metas.Delete(ctx, name); err != nil {
		return err
	}
	r.bump()

	logger.Infow("category dropped", "category", name)
	return nil
}
