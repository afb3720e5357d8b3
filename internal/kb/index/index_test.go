package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/knowledge-base/internal/kb/model"
	"github.com/kart-io/knowledge-base/internal/kb/store"
	kberrors "github.com/kart-io/knowledge-base/pkg/utils/errors"
)

type memMetas struct {
	mu    sync.Mutex
	metas map[string]model.CategoryMeta
}

func newMemMetas() *memMetas { return &memMetas{metas: make(map[string]model.CategoryMeta)} }

func (m *memMetas) Get(_ context.Context, name string) (*model.CategoryMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.metas[name]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

func (m *memMetas) List(_ context.Context) ([]*model.CategoryMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.CategoryMeta, 0, len(m.metas))
	for _, meta := range m.metas {
		meta := meta
		out = append(out, &meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memMetas) Save(_ context.Context, meta *model.CategoryMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metas[meta.Name] = *meta
	return nil
}

func (m *memMetas) EnsureDescribed(_ context.Context, name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.metas[name]
	meta.Name = name
	if meta.Description == "" {
		meta.Description = description
	}
	m.metas[name] = meta
	return nil
}

func (m *memMetas) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metas, name)
	return nil
}

func chunksFor(docID string, vectors ...[]float32) []model.Chunk {
	out := make([]model.Chunk, len(vectors))
	for i, v := range vectors {
		out[i] = model.Chunk{
			ID:         model.ChunkID(docID, i),
			DocumentID: docID,
			Ordinal:    i,
			Language:   "en",
			Title:      "doc " + docID,
			Content:    fmt.Sprintf("passage %d of %s", i, docID),
			Vector:     v,
		}
	}
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore, *memMetas) {
	t.Helper()
	st := store.NewMemoryStore()
	metas := newMemMetas()
	r := NewRegistry(st, metas, "kb", Hooks{})
	require.NoError(t, r.Open(context.Background()))
	return r, st, metas
}

func TestCategoryIndex_IdenticalVectorRanksFirst(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	idx, err := r.Get("Environmentalism")
	require.NoError(t, err)

	target := []float32{0.3, -0.2, 0.9}
	require.NoError(t, idx.Insert(ctx, chunksFor("d1", []float32{1, 0, 0}, target, []float32{0, 1, 0})))

	hits, err := idx.Search(ctx, target, 3, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, model.ChunkID("d1", 1), hits[0].ID)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, "Environmentalism", hits[0].Category)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		assert.GreaterOrEqual(t, hits[i].Score, 0.0)
	}
}

func TestCategoryIndex_EmptySearch(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	idx, err := r.Get("Health")
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), []float32{1, 2}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCategoryIndex_DimensionGuardLeavesIndexUnchanged(t *testing.T) {
	r, _, metas := newTestRegistry(t)
	ctx := context.Background()
	idx, err := r.Get("Health")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, chunksFor("d1", []float32{1, 0}, []float32{0, 1})))
	before := idx.Counts()
	fp := r.Fingerprint()

	err = idx.Insert(ctx, chunksFor("d2", []float32{1, 0, 0}))
	assert.True(t, kberrors.Is(err, kberrors.ErrEmbeddingDimensionMismatch))

	err = idx.Insert(ctx, chunksFor("d3", []float32{1, 0}, []float32{1, 0, 0}))
	assert.True(t, kberrors.Is(err, kberrors.ErrEmbeddingDimensionMismatch))

	_, err = idx.Search(ctx, []float32{1, 0, 0}, 3, 0)
	assert.True(t, kberrors.Is(err, kberrors.ErrEmbeddingDimensionMismatch))

	assert.Equal(t, before, idx.Counts())
	assert.Equal(t, fp, r.Fingerprint())
	meta, _ := metas.Get(ctx, "Health")
	assert.Equal(t, int64(2), meta.Vectors)
}

func TestCategoryIndex_ReplaceAllIsIdempotent(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()
	idx, err := r.Get("Agriculture")
	require.NoError(t, err)

	chunks := append(chunksFor("a", []float32{1, 0}, []float32{0.6, 0.8}), chunksFor("b", []float32{0, 1})...)
	query := []float32{0.9, 0.1}

	require.NoError(t, idx.ReplaceAll(ctx, chunks))
	first, err := idx.Search(ctx, query, 10, 0)
	require.NoError(t, err)
	firstCounts := idx.Counts()

	require.NoError(t, idx.ReplaceAll(ctx, chunks))
	second, err := idx.Search(ctx, query, 10, 0)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstCounts, idx.Counts())
	assert.Equal(t, model.CategoryCount{Documents: 2, Vectors: 3}, idx.Counts())
	assert.Equal(t, int64(2), idx.Info().Generation)
	// 旧代已删除，只剩一个集合
	assert.Len(t, st.Collections(), 1)
}

func TestCategoryIndex_ReplaceAllCanChangeDimension(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	idx, err := r.Get("Technology")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, chunksFor("a", []float32{1, 0})))

	require.NoError(t, idx.ReplaceAll(ctx, chunksFor("a", []float32{1, 0, 0})))
	assert.Equal(t, 3, idx.Info().Dimension)

	require.NoError(t, idx.ReplaceAll(ctx, nil))
	assert.Equal(t, model.CategoryCount{}, idx.Counts())
	hits, err := idx.Search(ctx, []float32{1}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCategoryIndex_SnapshotIsolation(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()
	idx, err := r.Get("Education")
	require.NoError(t, err)
	require.NoError(t, idx.ReplaceAll(ctx, chunksFor("old", []float32{1, 0}, []float32{0, 1})))

	// 模拟一个在发布前开始的查询
	held := idx.acquire()
	require.NotNil(t, held)
	oldName := held.coll.name

	require.NoError(t, idx.ReplaceAll(ctx, chunksFor("new", []float32{1, 1})))

	exists, err := st.HasCollection(ctx, oldName)
	require.NoError(t, err)
	assert.True(t, exists, "generation in use must survive publication")

	hits, err := st.Search(ctx, oldName, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "old", h.DocumentID)
	}

	// 新查询只看到新代
	fresh, err := idx.Search(ctx, []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "new", fresh[0].DocumentID)

	held.coll.release()
	exists, err = st.HasCollection(ctx, oldName)
	require.NoError(t, err)
	assert.False(t, exists, "retired generation is dropped after its last reader")
}

func TestCategoryIndex_ConcurrentSearchDuringReplace(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	idx, err := r.Get("Economics")
	require.NoError(t, err)

	genA := chunksFor("a", []float32{1, 0}, []float32{0.9, 0.1})
	genB := chunksFor("b", []float32{1, 0}, []float32{0.9, 0.1})
	require.NoError(t, idx.ReplaceAll(ctx, genA))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := idx.Search(ctx, []float32{1, 0}, 5, 0)
				if !assert.NoError(t, err) {
					return
				}
				// 每次查询只看到某一代的完整内容
				if assert.Len(t, hits, 2) {
					assert.Equal(t, hits[0].DocumentID, hits[1].DocumentID)
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			require.NoError(t, idx.ReplaceAll(ctx, genB))
		} else {
			require.NoError(t, idx.ReplaceAll(ctx, genA))
		}
	}
	close(stop)
	wg.Wait()
}

func TestCategoryIndex_InsertDuringReindexRejected(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	idx, err := r.Get("Health")
	require.NoError(t, err)

	idx.mu.Lock()
	idx.reindexing = true
	idx.mu.Unlock()

	err = idx.Insert(context.Background(), chunksFor("d", []float32{1, 0}))
	assert.True(t, kberrors.Is(err, kberrors.ErrReindexInProgress))
	err = idx.ReplaceAll(context.Background(), nil)
	assert.True(t, kberrors.Is(err, kberrors.ErrReindexInProgress))
	assert.Equal(t, model.IndexReindexing, idx.Info().Status)

	idx.endReindex()
	assert.NoError(t, idx.Insert(context.Background(), chunksFor("d", []float32{1, 0})))
}

func TestCategoryIndex_ConcurrentInsertsSerialize(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	idx, err := r.Get("Technology")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, idx.Insert(context.Background(),
				chunksFor(fmt.Sprintf("d%d", i), []float32{1, float32(i)}, []float32{float32(i), 1})))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, model.CategoryCount{Documents: 8, Vectors: 16}, idx.Counts())
	assert.Equal(t, int64(1), idx.Info().Generation)
}

func TestRegistry_OpenRestoresAndDetectsCorruption(t *testing.T) {
	st := store.NewMemoryStore()
	metas := newMemMetas()
	ctx := context.Background()

	r := NewRegistry(st, metas, "kb", Hooks{})
	require.NoError(t, r.Open(ctx))
	good, err := r.Get("Health")
	require.NoError(t, err)
	require.NoError(t, good.Insert(ctx, chunksFor("h", []float32{1, 0})))
	bad, err := r.Get("Technology")
	require.NoError(t, err)
	require.NoError(t, bad.Insert(ctx, chunksFor("t", []float32{0, 1})))

	// 元数据与存储不一致
	meta, _ := metas.Get(ctx, "Technology")
	meta.Vectors = 7
	require.NoError(t, metas.Save(ctx, meta))

	reopened := NewRegistry(st, metas, "kb", Hooks{})
	require.NoError(t, reopened.Open(ctx))

	h, ok := reopened.Lookup("Health")
	require.True(t, ok)
	hits, err := h.Search(ctx, []float32{1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "h", hits[0].DocumentID)

	tech, ok := reopened.Lookup("Technology")
	require.True(t, ok)
	assert.Equal(t, model.IndexCorrupt, tech.Info().Status)
	_, err = tech.Search(ctx, []float32{0, 1}, 1, 0)
	assert.True(t, kberrors.Is(err, kberrors.ErrCategoryIndexCorrupt))
	err = tech.ReplaceAll(ctx, chunksFor("t", []float32{0, 1}))
	assert.True(t, kberrors.Is(err, kberrors.ErrCategoryIndexCorrupt))

	// 删除类别后可以重新写入
	require.NoError(t, reopened.Drop(ctx, "Technology"))
	_, ok = reopened.Lookup("Technology")
	assert.False(t, ok)
	fresh, err := reopened.Get("Technology")
	require.NoError(t, err)
	require.NoError(t, fresh.Insert(ctx, chunksFor("t2", []float32{0, 1})))
	assert.Equal(t, int64(1), fresh.Counts().Vectors)
}

func TestRegistry_GetValidatesName(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Get("")
	assert.True(t, kberrors.Is(err, kberrors.ErrValidation))

	a, err := r.Get("Health")
	require.NoError(t, err)
	b, err := r.Get("Health")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRegistry_CountsAndFingerprint(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, "Social Justice", "rights and equity"))

	fp := r.Fingerprint()
	idx, err := r.Get("Health")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, chunksFor("h", []float32{1, 0}, []float32{0, 1})))
	assert.NotEqual(t, fp, r.Fingerprint())

	counts := r.Counts()
	assert.Equal(t, model.CategoryCount{Documents: 1, Vectors: 2}, counts["Health"])
	assert.Equal(t, model.CategoryCount{}, counts["Social Justice"])
	assert.Equal(t, []string{"Health", "Social Justice"}, r.Categories())

	infos := r.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, "rights and equity", infos[1].Description)
}

func TestRegistry_DropUnknown(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	err := r.Drop(context.Background(), "Nope")
	assert.True(t, kberrors.Is(err, kberrors.ErrCategoryNotFound))
}

func TestHooksFire(t *testing.T) {
	st := store.NewMemoryStore()
	var mu sync.Mutex
	published, dropped := 0, 0
	r := NewRegistry(st, newMemMetas(), "kb", Hooks{
		OnPublish: func(string, int64, int64, bool) { mu.Lock(); published++; mu.Unlock() },
		OnDrop:    func(string, int64) { mu.Lock(); dropped++; mu.Unlock() },
	})
	ctx := context.Background()
	require.NoError(t, r.Open(ctx))
	idx, err := r.Get("Health")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, chunksFor("a", []float32{1, 0})))
	require.NoError(t, idx.ReplaceAll(ctx, chunksFor("a", []float32{1, 0})))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, published)
	assert.Equal(t, 1, dropped)
}

func TestNormalizeScore(t *testing.T) {
	assert.Equal(t, 1.0, NormalizeScore(1))
	assert.Equal(t, 0.5, NormalizeScore(0))
	assert.Equal(t, 0.0, NormalizeScore(-1))
	assert.Equal(t, 1.0, NormalizeScore(1.0000001))
}

func TestCollectionName(t *testing.T) {
	assert.Regexp(t, `^kb_social_justice_[0-9a-f]{8}_x1_g3$`, collectionName("kb", "Social Justice", "x1", 3))
	// 非 ASCII 名称依靠哈希区分
	a := collectionName("kb", "சுகாதாரம்", "x1", 1)
	b := collectionName("kb", "கல்வி", "x1", 1)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^kb_c_[0-9a-f]{8}_x1_g1$`, a)
	assert.NotEqual(t, a, collectionName("kb", "சுகாதாரம்", "x2", 1))
}

func TestRegistry_DropThenRecreateKeepsNewCollection(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()

	old, err := r.Get("Health")
	require.NoError(t, err)
	require.NoError(t, old.Insert(ctx, chunksFor("a", []float32{1, 0})))

	// 旧代仍有读者时删除类别
	snap := old.acquire()
	require.NotNil(t, snap)
	require.NoError(t, r.Drop(ctx, "Health"))

	fresh, err := r.Get("Health")
	require.NoError(t, err)
	require.NotSame(t, old, fresh)
	require.NoError(t, fresh.Insert(ctx, chunksFor("b", []float32{0, 1})))
	current := fresh.current.Load()
	require.NotNil(t, current)
	assert.NotEqual(t, snap.coll.name, current.coll.name)
	assert.Equal(t, int64(1), current.coll.generation)

	// 最后一个读者释放后只删除旧集合
	snap.coll.release()
	assert.Equal(t, []string{current.coll.name}, st.Collections())

	hits, err := fresh.Search(ctx, []float32{0, 1}, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].DocumentID)
}

func TestRegistry_BeginReindexHoldsCategory(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	idx, err := r.Get("Education")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, chunksFor("a", []float32{1, 0})))

	rb, err := r.BeginReindex("Education")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rb.Generation())
	assert.Equal(t, model.IndexReindexing, idx.Info().Status)

	err = idx.Insert(ctx, chunksFor("b", []float32{0, 1}))
	assert.True(t, kberrors.Is(err, kberrors.ErrReindexInProgress))

	waited := make(chan error, 1)
	go func() { waited <- idx.AwaitReindex(ctx) }()
	select {
	case <-waited:
		t.Fatal("AwaitReindex returned before publish")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, rb.Publish(ctx, chunksFor("a", []float32{1, 0})))
	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitReindex did not return after publish")
	}

	rb.Abort()
	assert.Error(t, rb.Publish(ctx, nil))
	assert.Equal(t, model.IndexActive, idx.Info().Status)
	assert.Equal(t, int64(2), idx.Info().Generation)
	require.NoError(t, idx.Insert(ctx, chunksFor("b", []float32{0, 1})))
	assert.Equal(t, model.CategoryCount{Documents: 2, Vectors: 2}, idx.Counts())
}

func TestRegistry_AbortedRebuildKeepsGeneration(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	idx, err := r.Get("Economics")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, chunksFor("a", []float32{1, 0})))

	rb, err := r.BeginReindex("Economics")
	require.NoError(t, err)
	rb.Abort()
	rb.Abort()

	assert.Equal(t, model.IndexActive, idx.Info().Status)
	assert.Equal(t, int64(1), idx.Info().Generation)
	assert.NoError(t, idx.AwaitReindex(ctx))

	// 放弃后同一类别可以再次重建
	require.NoError(t, r.Reindex(ctx, "Economics", chunksFor("b", []float32{0, 1})))
	assert.Equal(t, model.CategoryCount{Documents: 1, Vectors: 1}, idx.Counts())
}

func TestCategoryIndex_InsertCommitRunsUnderWrite(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	idx, err := r.Get("Health")
	require.NoError(t, err)

	var writing bool
	require.NoError(t, idx.InsertCommit(ctx, chunksFor("a", []float32{1, 0}), func() error {
		idx.mu.Lock()
		writing = idx.writing
		idx.mu.Unlock()
		return nil
	}))
	assert.True(t, writing)

	boom := kberrors.ErrDocumentNotFound.WithMessagef("gone")
	err = idx.InsertCommit(ctx, chunksFor("b", []float32{0, 1}), func() error { return boom })
	assert.True(t, kberrors.Is(err, kberrors.ErrDocumentNotFound))
	assert.Equal(t, int64(2), idx.Counts().Vectors)
}

func TestCatalogue(t *testing.T) {
	c, err := ParseCatalogue([]byte(`
categories:
  - name: Environmentalism
    description: climate and ecology
  - name: Health
`))
	require.NoError(t, err)
	require.Len(t, c.Categories, 2)

	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.Seed(context.Background(), c))
	assert.Equal(t, []string{"Environmentalism", "Health"}, r.Categories())

	_, err = ParseCatalogue([]byte("categories:\n  - name: A\n  - name: A\n"))
	assert.Error(t, err)
	_, err = ParseCatalogue([]byte("categories:\n  - description: x\n"))
	assert.Error(t, err)
}

func TestRegistry_ReindexSerializesSameCategory(t *testing.T) {
	r, st, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.Reindex(ctx, "Politics", chunksFor(fmt.Sprintf("p%d", i), []float32{1, 0}, []float32{0, 1}))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	idx, ok := r.Lookup("Politics")
	require.True(t, ok)
	assert.Equal(t, int64(6), idx.Info().Generation)
	assert.Equal(t, model.CategoryCount{Documents: 1, Vectors: 2}, r.Stats()["Politics"])
	assert.Len(t, st.Collections(), 1)
}
