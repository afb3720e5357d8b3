package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowledge-base/internal/kb/model"
	"github.com/kart-io/knowledge-base/internal/kb/store"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
	"github.com/kart-io/knowledge-base/pkg/utils/id"
)

// buildBatchSize 重建时单次写入存储的记录数。
const buildBatchSize = 512

// MetaStore 持久化类别元数据。
type MetaStore interface {
	Get(ctx context.Context, name string) (*model.CategoryMeta, error)
	List(ctx context.Context) ([]*model.CategoryMeta, error)
	Save(ctx context.Context, meta *model.CategoryMeta) error
	EnsureDescribed(ctx context.Context, name, description string) error
	Delete(ctx context.Context, name string) error
}

// Hooks 索引生命周期回调，均可为 nil。
type Hooks struct {
	// OnPublish 新代发布或插入后调用。
	OnPublish func(category string, generation int64, vectors int64, replaced bool)
	// OnDrop 旧代集合被删除后调用。
	OnDrop func(category string, generation int64)
}

// CategoryIndex 单个类别的向量索引。
type CategoryIndex struct {
	name        string
	description string
	prefix      string
	store       store.VectorStore
	metas       MetaStore
	hooks       Hooks
	onChange    func()
	// token 区分同名类别的不同实例，删除后重建的类别不会复用旧集合名
	token string

	current atomic.Pointer[snapshot]

	mu         sync.Mutex
	cond       *sync.Cond
	writing    bool
	reindexing bool
	// reindexDone 在重建结束时关闭
	reindexDone chan struct{}
	dropped     bool
	corrupt     string
	lastGen     int64
	// docs 当前代已写入的文档，仅在 writing 或持锁时访问
	docs map[string]struct{}
}

func newCategoryIndex(name, description, prefix string, st store.VectorStore, metas MetaStore, hooks Hooks, onChange func()) *CategoryIndex {
	idx := &CategoryIndex{
		name:        name,
		description: description,
		prefix:      prefix,
		store:       st,
		metas:       metas,
		hooks:       hooks,
		onChange:    onChange,
		token:       strings.ToLower(id.NewULID()[18:]),
		docs:        make(map[string]struct{}),
	}
	idx.cond = sync.NewCond(&idx.mu)
	return idx
}

// Name 返回类别名。
func (c *CategoryIndex) Name() string { return c.name }

// restore 依据持久化元数据恢复活跃代，并与存储行数对账。对不上时标记为损坏，不做修复。
func (c *CategoryIndex) restore(ctx context.Context, meta *model.CategoryMeta) {
	c.lastGen = meta.Generation
	if meta.Generation == 0 || meta.Collection == "" {
		return
	}

	exists, err := c.store.HasCollection(ctx, meta.Collection)
	if err != nil {
		c.corrupt = fmt.Sprintf("cannot inspect collection %s: %v", meta.Collection, err)
		return
	}
	if !exists {
		c.corrupt = fmt.Sprintf("collection %s for generation %d is missing", meta.Collection, meta.Generation)
		return
	}
	count, err := c.store.Count(ctx, meta.Collection)
	if err != nil {
		c.corrupt = fmt.Sprintf("cannot count collection %s: %v", meta.Collection, err)
		return
	}
	if count != meta.Vectors {
		c.corrupt = fmt.Sprintf("metadata records %d vectors, store holds %d", meta.Vectors, count)
		return
	}

	c.current.Store(&snapshot{
		coll:      c.newCollection(meta.Generation, meta.Collection, meta.Dimension),
		documents: meta.Documents,
		vectors:   meta.Vectors,
		nextSeq:   meta.Vectors,
	})
}

func (c *CategoryIndex) newCollection(gen int64, name string, dim int) *collection {
	return &collection{
		category:   c.name,
		generation: gen,
		name:       name,
		dim:        dim,
		store:      c.store,
		onDrop:     c.hooks.OnDrop,
	}
}

// acquire 获取当前活跃代并持有引用；没有活跃代时返回 nil。
func (c *CategoryIndex) acquire() *snapshot {
	for {
		s := c.current.Load()
		if s == nil {
			return nil
		}
		s.coll.refs.Add(1)
		if !s.coll.retired.Load() {
			return s
		}
		// 发布与引用之间被取代，重新读取
		s.coll.release()
	}
}

// batchDimension 校验整批向量维度一致，返回该维度。
func batchDimension(chunks []model.Chunk) (int, error) {
	dim := len(chunks[0].Vector)
	if dim == 0 {
		return 0, kberrors.ErrEmbeddingDimensionMismatch.WithMessagef("chunk %s has an empty vector", chunks[0].ID)
	}
	for _, ch := range chunks[1:] {
		if len(ch.Vector) != dim {
			return 0, kberrors.ErrEmbeddingDimensionMismatch.WithMessagef(
				"chunk %s has dimension %d, batch has %d", ch.ID, len(ch.Vector), dim)
		}
	}
	return dim, nil
}

func toRecords(chunks []model.Chunk, firstSeq int64) []store.Record {
	records := make([]store.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = store.Record{
			Seq:        firstSeq + int64(i),
			ChunkID:    ch.ID,
			DocumentID: ch.DocumentID,
			Ordinal:    ch.Ordinal,
			Language:   ch.Language,
			Title:      ch.Title,
			Content:    ch.Content,
			SourceMeta: ch.SourceMeta,
			Vector:     ch.Vector,
		}
	}
	return records
}

// beginWrite 等待其他写入结束并占用写权限。
func (c *CategoryIndex) beginWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		switch {
		case c.dropped:
			return kberrors.ErrCategoryNotFound.WithMessagef("category %s was dropped", c.name)
		case c.corrupt != "":
			return kberrors.ErrCategoryIndexCorrupt.WithMessagef("category %s: %s", c.name, c.corrupt)
		case c.reindexing:
			return kberrors.ErrReindexInProgress.WithMessagef("category %s is being reindexed", c.name)
		case !c.writing:
			c.writing = true
			return nil
		}
		c.cond.Wait()
	}
}

func (c *CategoryIndex) endWrite() {
	c.mu.Lock()
	c.writing = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Insert 追加到当前代；类别没有活跃代时创建第一代。
// 维度与已确立维度不符时整批拒绝，索引不变。
func (c *CategoryIndex) Insert(ctx context.Context, chunks []model.Chunk) error {
	return c.InsertCommit(ctx, chunks, nil)
}

// InsertCommit 同 Insert，发布成功后在仍持有写权限时调用 commit。
// 重建在写入结束后才能开始，因此 commit 中落库的文档状态对随后的重建可见。
// commit 失败时向量已发布，错误原样返回。
func (c *CategoryIndex) InsertCommit(ctx context.Context, chunks []model.Chunk, commit func() error) error {
	if len(chunks) == 0 {
		if commit != nil {
			return commit()
		}
		return nil
	}
	dim, err := batchDimension(chunks)
	if err != nil {
		return err
	}
	if err := c.beginWrite(); err != nil {
		return err
	}
	defer c.endWrite()

	cur := c.current.Load()
	if cur != nil && cur.coll.dim != dim {
		return kberrors.ErrEmbeddingDimensionMismatch.WithMessagef(
			"category %s has dimension %d, got %d", c.name, cur.coll.dim, dim)
	}

	created := false
	if cur == nil {
		gen := c.nextGeneration()
		coll := c.newCollection(gen, collectionName(c.prefix, c.name, c.token, gen), dim)
		if err := c.createCollection(ctx, coll); err != nil {
			return err
		}
		cur = &snapshot{coll: coll}
		created = true
	}

	if err := c.store.Insert(ctx, cur.coll.name, toRecords(chunks, cur.nextSeq)); err != nil {
		if created {
			_ = c.store.DropCollection(context.WithoutCancel(ctx), cur.coll.name)
		}
		return kberrors.ErrVectorStore.WithCause(err)
	}

	if created {
		c.docs = make(map[string]struct{})
	}
	newDocs := 0
	for _, ch := range chunks {
		if _, ok := c.docs[ch.DocumentID]; !ok {
			c.docs[ch.DocumentID] = struct{}{}
			newDocs++
		}
	}
	next := &snapshot{
		coll:      cur.coll,
		documents: cur.documents + newDocs,
		vectors:   cur.vectors + int64(len(chunks)),
		nextSeq:   cur.nextSeq + int64(len(chunks)),
	}

	// 存储已写入，先发布内存视图再持久化；持久化失败会在下次启动对账时暴露
	c.current.Store(next)
	c.changed(next, false)
	if err := c.saveMeta(context.WithoutCancel(ctx), next); err != nil {
		return err
	}

	logger.Debugw("chunks inserted",
		"category", c.name,
		"generation", next.coll.generation,
		"chunks", len(chunks),
		"vectors", next.vectors,
	)
	if commit != nil {
		return commit()
	}
	return nil
}

func (c *CategoryIndex) nextGeneration() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastGen++
	return c.lastGen
}

func (c *CategoryIndex) createCollection(ctx context.Context, coll *collection) error {
	// 集合名含实例标识，同名集合只可能是本实例中断的构建遗留
	if err := c.store.DropCollection(ctx, coll.name); err != nil {
		return kberrors.ErrVectorStore.WithCause(err)
	}
	if err := c.store.CreateCollection(ctx, coll.name, coll.dim); err != nil {
		return kberrors.ErrVectorStore.WithCause(err)
	}
	return nil
}

func (c *CategoryIndex) saveMeta(ctx context.Context, s *snapshot) error {
	meta := &model.CategoryMeta{
		Name:        c.name,
		Description: c.description,
		Documents:   s.documents,
		Vectors:     s.vectors,
	}
	if s.coll != nil {
		meta.Generation = s.coll.generation
		meta.Collection = s.coll.name
		meta.Dimension = s.coll.dim
	} else {
		meta.Generation = c.lastGen
	}
	return c.metas.Save(ctx, meta)
}

func (c *CategoryIndex) changed(s *snapshot, replaced bool) {
	if c.onChange != nil {
		c.onChange()
	}
	if c.hooks.OnPublish != nil {
		var gen int64
		if s.coll != nil {
			gen = s.coll.generation
		}
		c.hooks.OnPublish(c.name, gen, s.vectors, replaced)
	}
}

// ReplaceAll 构建只包含 chunks 的新代并原子发布。新代的维度由 chunks 确立，
// 因此更换 Embedding 模型后可以通过重建切换维度。chunks 为空时发布空代。
// 构建期间普通插入会被拒绝；查询继续读取旧代。
func (c *CategoryIndex) ReplaceAll(ctx context.Context, chunks []model.Chunk) error {
	gen, err := c.beginReindex()
	if err != nil {
		return err
	}
	return c.publish(ctx, gen, chunks)
}

// publish 构建第 gen 代并发布，无论成败都结束重建状态。
func (c *CategoryIndex) publish(ctx context.Context, gen int64, chunks []model.Chunk) error {
	published := false
	defer func() {
		if !published {
			c.endReindex()
		}
	}()

	dim := 0
	if len(chunks) > 0 {
		d, err := batchDimension(chunks)
		if err != nil {
			return err
		}
		dim = d
	}

	next := &snapshot{}
	docs := make(map[string]struct{})
	if len(chunks) > 0 {
		coll := c.newCollection(gen, collectionName(c.prefix, c.name, c.token, gen), dim)
		if err := c.build(ctx, coll, chunks); err != nil {
			_ = c.store.DropCollection(context.WithoutCancel(ctx), coll.name)
			return err
		}
		for _, ch := range chunks {
			docs[ch.DocumentID] = struct{}{}
		}
		next = &snapshot{
			coll:      coll,
			documents: len(docs),
			vectors:   int64(len(chunks)),
			nextSeq:   int64(len(chunks)),
		}
	}

	// 先持久化再发布，失败时旧代保持活跃
	if err := c.saveMeta(context.WithoutCancel(ctx), next); err != nil {
		if next.coll != nil {
			_ = c.store.DropCollection(context.WithoutCancel(ctx), next.coll.name)
		}
		return err
	}

	c.mu.Lock()
	var old *snapshot
	if next.coll == nil {
		old = c.current.Swap(nil)
	} else {
		old = c.current.Swap(next)
	}
	c.docs = docs
	c.finishReindexLocked()
	c.mu.Unlock()
	c.cond.Broadcast()
	published = true

	if old != nil && old.coll != nil {
		old.coll.retire()
	}
	c.changed(next, true)

	logger.Infow("generation published",
		"category", c.name,
		"generation", gen,
		"documents", next.documents,
		"vectors", next.vectors,
	)
	return nil
}

func (c *CategoryIndex) beginReindex() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		switch {
		case c.dropped:
			return 0, kberrors.ErrCategoryNotFound.WithMessagef("category %s was dropped", c.name)
		case c.corrupt != "":
			return 0, kberrors.ErrCategoryIndexCorrupt.WithMessagef("category %s: %s", c.name, c.corrupt)
		case c.reindexing:
			return 0, kberrors.ErrReindexInProgress.WithMessagef("category %s is being reindexed", c.name)
		case !c.writing:
			c.reindexing = true
			c.reindexDone = make(chan struct{})
			c.lastGen++
			return c.lastGen, nil
		}
		c.cond.Wait()
	}
}

func (c *CategoryIndex) endReindex() {
	c.mu.Lock()
	c.finishReindexLocked()
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *CategoryIndex) finishReindexLocked() {
	c.reindexing = false
	if c.reindexDone != nil {
		close(c.reindexDone)
		c.reindexDone = nil
	}
}

// AwaitReindex 阻塞到进行中的重建结束；没有重建时立即返回。
func (c *CategoryIndex) AwaitReindex(ctx context.Context) error {
	c.mu.Lock()
	done := c.reindexDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CategoryIndex) build(ctx context.Context, coll *collection, chunks []model.Chunk) error {
	if err := c.createCollection(ctx, coll); err != nil {
		return err
	}
	records := toRecords(chunks, 0)
	for start := 0; start < len(records); start += buildBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+buildBatchSize, len(records))
		if err := c.store.Insert(ctx, coll.name, records[start:end]); err != nil {
			return kberrors.ErrVectorStore.WithCause(err)
		}
	}
	count, err := c.store.Count(ctx, coll.name)
	if err != nil {
		return kberrors.ErrVectorStore.WithCause(err)
	}
	if count != int64(len(records)) {
		return kberrors.ErrVectorStore.WithMessagef("generation %d holds %d vectors, want %d", coll.generation, count, len(records))
	}
	return nil
}

// Search 在活跃代中检索最多 k 条结果，分数归一化到 [0,1]，低于 threshold 的结果被丢弃。
// 没有活跃代时返回空结果。
func (c *CategoryIndex) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]model.ScoredChunk, error) {
	if reason := c.corruptReason(); reason != "" {
		return nil, kberrors.ErrCategoryIndexCorrupt.WithMessagef("category %s: %s", c.name, reason)
	}
	snap := c.acquire()
	if snap == nil || k <= 0 {
		if snap != nil {
			snap.coll.release()
		}
		return []model.ScoredChunk{}, nil
	}
	defer snap.coll.release()

	if len(vector) != snap.coll.dim {
		return nil, kberrors.ErrEmbeddingDimensionMismatch.WithMessagef(
			"category %s has dimension %d, query has %d", c.name, snap.coll.dim, len(vector))
	}

	hits, err := c.store.Search(ctx, snap.coll.name, vector, k)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, kberrors.ErrVectorStore.WithCause(err)
	}

	out := make([]model.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		score := NormalizeScore(h.Cosine)
		if score < threshold {
			continue
		}
		out = append(out, model.ScoredChunk{
			Chunk: model.Chunk{
				ID:         h.ChunkID,
				DocumentID: h.DocumentID,
				Category:   c.name,
				Language:   h.Language,
				Ordinal:    h.Ordinal,
				Title:      h.Title,
				Content:    h.Content,
				SourceMeta: h.SourceMeta,
			},
			Score:    score,
			Category: c.name,
			Seq:      h.Seq,
		})
	}
	return out, nil
}

// NormalizeScore 将余弦相似度 [-1,1] 映射到 [0,1]。
func NormalizeScore(cos float64) float64 {
	if math.IsNaN(cos) {
		return 0
	}
	return math.Max(0, math.Min(1, (cos+1)/2))
}

func (c *CategoryIndex) corruptReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrupt
}

// Info 返回当前活跃代的描述。
func (c *CategoryIndex) Info() model.CategoryInfo {
	c.mu.Lock()
	status := model.IndexActive
	reason := c.corrupt
	switch {
	case c.corrupt != "":
		status = model.IndexCorrupt
	case c.reindexing:
		status = model.IndexReindexing
	}
	lastGen := c.lastGen
	c.mu.Unlock()

	info := model.CategoryInfo{
		Name:        c.name,
		Description: c.description,
		Generation:  lastGen,
		Status:      status,
		Reason:      reason,
	}
	if s := c.current.Load(); s != nil {
		info.Generation = s.coll.generation
		info.Dimension = s.coll.dim
		info.Documents = s.documents
		info.Vectors = s.vectors
	}
	return info
}

// Counts 返回活跃代的文档数与向量数。
func (c *CategoryIndex) Counts() model.CategoryCount {
	s := c.current.Load()
	if s == nil {
		return model.CategoryCount{}
	}
	return model.CategoryCount{Documents: s.documents, Vectors: s.vectors}
}

// drop 下线索引：拒绝后续写入，清空活跃代并删除其集合（等待读者释放）。
func (c *CategoryIndex) drop(ctx context.Context, recorded string) error {
	c.mu.Lock()
	for c.writing || c.reindexing {
		c.cond.Wait()
	}
	c.dropped = true
	old := c.current.Swap(nil)
	c.mu.Unlock()
	c.cond.Broadcast()

	if old != nil {
		old.coll.retire()
		return nil
	}
	// 损坏或未恢复的索引：直接删除元数据记录的集合
	if recorded != "" {
		if err := c.store.DropCollection(ctx, recorded); err != nil {
			return kberrors.ErrVectorStore.WithCause(err)
		}
	}
	return nil
}
