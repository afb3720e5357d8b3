package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/knowledge-base/internal/kb/metrics"
	"github.com/kart-io/knowledge-base/pkg/utils/json"
)

// QueryCacheConfig 查询缓存配置。
type QueryCacheConfig struct {
	// TTL 缓存过期时间
	TTL time.Duration
	// KeyPrefix 缓存键前缀
	KeyPrefix string
}

// QueryCache 搜索与问答结果缓存。键包含注册表指纹，任何类别发布新内容后旧键自然失效。
type QueryCache struct {
	redis   goredis.UniversalClient
	config  QueryCacheConfig
	metrics *metrics.Metrics
}

// NewQueryCache 创建查询缓存。redis 为 nil 时所有操作都是空操作。
func NewQueryCache(redis goredis.UniversalClient, config QueryCacheConfig, m *metrics.Metrics) *QueryCache {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "kb:"
	}
	return &QueryCache{redis: redis, config: config, metrics: m}
}

func (c *QueryCache) enabled() bool {
	return c != nil && c.redis != nil
}

// key 对 kind、指纹与请求的 JSON 编码做 SHA256。
func (c *QueryCache) key(kind, fingerprint string, request any) (string, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write(payload)
	return c.config.KeyPrefix + "q:" + kind + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// Get 读取缓存到 out，返回是否命中。Redis 故障视为未命中。
func (c *QueryCache) Get(ctx context.Context, kind, fingerprint string, request, out any) bool {
	if !c.enabled() {
		return false
	}
	key, err := c.key(kind, fingerprint, request)
	if err != nil {
		return false
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			logger.Warnw("failed to read query cache", "kind", kind, "error", err.Error())
		}
		c.metrics.RecordCache(kind, false)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Warnw("dropping corrupt query cache entry", "kind", kind, "key", key, "error", err.Error())
		_ = c.redis.Del(ctx, key).Err()
		c.metrics.RecordCache(kind, false)
		return false
	}
	c.metrics.RecordCache(kind, true)
	return true
}

// Set 写入缓存，失败只记录日志。
func (c *QueryCache) Set(ctx context.Context, kind, fingerprint string, request, value any) {
	if !c.enabled() {
		return
	}
	key, err := c.key(kind, fingerprint, request)
	if err != nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warnw("failed to encode query cache entry", "kind", kind, "error", err.Error())
		return
	}
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to write query cache", "kind", kind, "error", err.Error())
	}
}

// Clear 删除全部查询缓存，返回删除的键数。
func (c *QueryCache) Clear(ctx context.Context) (int, error) {
	if !c.enabled() {
		return 0, nil
	}
	deleted := 0
	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"q:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "key", iter.Val(), "error", err.Error())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
