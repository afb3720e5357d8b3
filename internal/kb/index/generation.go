package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowledge-base/internal/kb/store"
)

const dropTimeout = 30 * time.Second

// collection 一代的底层存储集合及其读者引用计数。
type collection struct {
	category   string
	generation int64
	name       string
	dim        int

	refs    atomic.Int64
	retired atomic.Bool
	drop    sync.Once
	store   store.VectorStore
	onDrop  func(category string, generation int64)
}

func (c *collection) release() {
	if c.refs.Add(-1) == 0 && c.retired.Load() {
		c.dropNow()
	}
}

// retire 标记为已取代；没有读者时立即删除。
func (c *collection) retire() {
	c.retired.Store(true)
	if c.refs.Load() == 0 {
		c.dropNow()
	}
}

func (c *collection) dropNow() {
	c.drop.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), dropTimeout)
		defer cancel()
		if err := c.store.DropCollection(ctx, c.name); err != nil {
			logger.Errorw("failed to drop retired generation",
				"category", c.category,
				"generation", c.generation,
				"collection", c.name,
				"error", err.Error(),
			)
			return
		}
		logger.Infow("retired generation dropped",
			"category", c.category,
			"generation", c.generation,
			"collection", c.name,
		)
		if c.onDrop != nil {
			c.onDrop(c.category, c.generation)
		}
	})
}

// snapshot 某一时刻活跃代的不可变视图。插入会发布新的 snapshot，但共享同一 collection。
type snapshot struct {
	coll      *collection
	documents int
	vectors   int64
	// nextSeq 下一条记录的序号
	nextSeq int64
}

// collectionName 生成 <prefix>_<slug>_<hash8>_<token>_g<N>。哈希保证非 ASCII 类别名互不冲突，
// token 保证删除后重建的同名类别不会与尚未释放的旧代撞名。
func collectionName(prefix, category, token string, generation int64) string {
	sum := sha256.Sum256([]byte(category))
	return fmt.Sprintf("%s_%s_%s_%s_g%d", prefix, slug(category), hex.EncodeToString(sum[:4]), token, generation)
}

func slug(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
		if b.Len() >= 32 {
			break
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "c"
	}
	return out
}
