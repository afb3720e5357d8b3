package kbsvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheopts "github.com/kart-io/knowledge-base/pkg/options/cache"
	httpopts "github.com/kart-io/knowledge-base/pkg/options/http"
	kbopts "github.com/kart-io/knowledge-base/pkg/options/kb"
	llmopts "github.com/kart-io/knowledge-base/pkg/options/llm"
	logopts "github.com/kart-io/knowledge-base/pkg/options/logger"
	metaopts "github.com/kart-io/knowledge-base/pkg/options/metadata"
	milvusopts "github.com/kart-io/knowledge-base/pkg/options/milvus"
	poolopts "github.com/kart-io/knowledge-base/pkg/options/pool"
	ratelimitopts "github.com/kart-io/knowledge-base/pkg/options/ratelimit"
	tracingopts "github.com/kart-io/knowledge-base/pkg/options/tracing"
)

func testConfig(t *testing.T) *Config {
	t.Helper()

	catalogue := filepath.Join(t.TempDir(), "categories.yaml")
	require.NoError(t, os.WriteFile(catalogue, []byte(`
categories:
  - name: Health
    description: Public health
  - name: Tamil Culture
`), 0o600))

	kb := kbopts.NewOptions()
	kb.CategoriesFile = catalogue

	meta := metaopts.NewOptions()
	meta.DSN = ":memory:"

	cache := cacheopts.NewOptions()
	cache.Enabled = false

	return &Config{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		KBOptions:        kb,
		MilvusOptions:    milvusopts.NewOptions(),
		MetadataOptions:  meta,
		CacheOptions:     cache,
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		PoolOptions:      poolopts.NewOptions(),
		TracingOptions:   tracingopts.NewOptions(),
		RateLimitOptions: ratelimitopts.NewOptions(),
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.http.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNewServer_MemoryBackend(t *testing.T) {
	s, err := testConfig(t).NewServer(context.Background())
	require.NoError(t, err)
	t.Cleanup(s.close)

	w := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"metadata":"ok"`)
	assert.Contains(t, w.Body.String(), `"vector_store":"ok"`)
	assert.NotContains(t, w.Body.String(), `"cache"`)

	w = get(t, s, "/knowledge-base/categories")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Tamil Culture")

	w = get(t, s, "/knowledge-base/settings")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store_backend":"memory"`)
	assert.Contains(t, w.Body.String(), `"languages_supported":["en","ta"]`)

	w = get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewServer_RedisCacheHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, ok := strings.Cut(mr.Addr(), ":")
	require.True(t, ok)

	cfg := testConfig(t)
	cfg.CacheOptions.Enabled = true
	cfg.CacheOptions.Redis.Host = host
	cfg.CacheOptions.Redis.Port, _ = strconv.Atoi(port)

	s, err := cfg.NewServer(context.Background())
	require.NoError(t, err)
	t.Cleanup(s.close)

	w := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cache":"ok"`)

	mr.Close()
	w = get(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewServer_UnreachableRedisDisablesCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheOptions.Enabled = true
	cfg.CacheOptions.Redis.Host = "127.0.0.1"
	cfg.CacheOptions.Redis.Port = 1

	s, err := cfg.NewServer(context.Background())
	require.NoError(t, err)
	t.Cleanup(s.close)

	w := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"cache"`)
}

func TestNewServer_BadCatalogue(t *testing.T) {
	cfg := testConfig(t)
	cfg.KBOptions.CategoriesFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := cfg.NewServer(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalogue")
}
