// Package kbsvc wires the knowledge-base service together.
package kbsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/kart-io/knowledge-base/internal/kb/biz"
	"github.com/kart-io/knowledge-base/internal/kb/chunker"
	"github.com/kart-io/knowledge-base/internal/kb/handler"
	"github.com/kart-io/knowledge-base/internal/kb/index"
	"github.com/kart-io/knowledge-base/internal/kb/metrics"
	"github.com/kart-io/knowledge-base/internal/kb/model"
	"github.com/kart-io/knowledge-base/internal/kb/repo"
	"github.com/kart-io/knowledge-base/internal/kb/router"
	"github.com/kart-io/knowledge-base/internal/kb/store"
	"github.com/kart-io/knowledge-base/pkg/component/milvus"
	"github.com/kart-io/knowledge-base/pkg/component/redis"
	"github.com/kart-io/knowledge-base/pkg/infra/app"
	"github.com/kart-io/knowledge-base/pkg/infra/middleware"
	"github.com/kart-io/knowledge-base/pkg/infra/pool"
	httpserver "github.com/kart-io/knowledge-base/pkg/infra/server/http"
	"github.com/kart-io/knowledge-base/pkg/infra/tracing"
	"github.com/kart-io/knowledge-base/pkg/llm"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/knowledge-base/pkg/llm/ollama"
	_ "github.com/kart-io/knowledge-base/pkg/llm/openai"
	"github.com/kart-io/knowledge-base/pkg/llm/resilience"
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

// Name is the name of the application.
const Name = "kb-server"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	KBOptions        *kbopts.Options
	MilvusOptions    *milvusopts.Options
	MetadataOptions  *metaopts.Options
	CacheOptions     *cacheopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	PoolOptions      *poolopts.Options
	TracingOptions   *tracingopts.Options
	RateLimitOptions *ratelimitopts.Options
}

// Server represents the knowledge-base server.
type Server struct {
	http     *httpserver.Server
	ingestor *biz.Ingestor
	closers  []func(ctx context.Context) error
}

// NewServer initializes and returns a new Server instance. Resources opened
// before a failing step are released before returning the error.
func (cfg *Config) NewServer(ctx context.Context) (srv *Server, err error) {
	printBanner(cfg)
	s := &Server{}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	// 1. 初始化日志
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting knowledge-base service...")

	// 2. 初始化链路追踪
	tp, err := tracing.NewProvider(ctx, cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.onClose(tp.Shutdown)
	logger.Infow("Tracing initialized", "enabled", tp.Enabled())

	// 3. 初始化元数据库
	db, err := repo.Open(ctx, cfg.MetadataOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}
	s.onClose(func(context.Context) error { return repo.Close(db) })
	logger.Infow("Metadata database initialized", "driver", cfg.MetadataOptions.Driver)

	// 4. 初始化向量存储
	vectorStore, err := cfg.newVectorStore(ctx, s)
	if err != nil {
		return nil, err
	}
	logger.Infow("Vector store initialized", "backend", vectorStore.Name())

	// 5. 初始化 Redis 客户端（缓存可选，连接失败时降级为无缓存）
	var redisClient goredis.UniversalClient
	if cfg.CacheOptions.Enabled {
		rc, err := redis.New(ctx, cfg.CacheOptions.Redis)
		if err != nil {
			logger.Warnw("failed to connect to redis, cache will be disabled", "error", err.Error())
		} else {
			redisClient = rc.Client()
			s.onClose(func(context.Context) error { return rc.Close() })
			logger.Infow("Redis cache initialized",
				"addr", cfg.CacheOptions.Redis.Addr(),
				"ttl", cfg.CacheOptions.TTL.String(),
			)
		}
	} else {
		logger.Info("Cache is disabled")
	}

	// 6. 初始化 LLM 供应商
	embedder, generator, err := cfg.newLLM(redisClient)
	if err != nil {
		return nil, err
	}

	// 7. 初始化索引注册表
	m := metrics.Default()
	registry := index.NewRegistry(vectorStore, repo.NewCategoryStore(db), cfg.KBOptions.CollectionPrefix, m.IndexHooks())
	if err := registry.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open index registry: %w", err)
	}
	if path := cfg.KBOptions.CategoriesFile; path != "" {
		catalogue, err := index.LoadCatalogue(path)
		if err != nil {
			return nil, err
		}
		if err := registry.Seed(ctx, catalogue); err != nil {
			return nil, fmt.Errorf("failed to seed categories: %w", err)
		}
	}
	logger.Infow("Index registry opened", "categories", len(registry.Categories()))

	// 8. 初始化任务池
	pools, err := cfg.newPools(m, s)
	if err != nil {
		return nil, err
	}

	// 9. 初始化 Biz 层
	ch, err := chunker.New(cfg.KBOptions.ChunkSize, cfg.KBOptions.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	docs := repo.NewDocumentStore(db)
	ingestor := biz.NewIngestor(docs, registry, ch, embedder, pools.ingest, pools.reindex, biz.IngestorConfig{}, m)
	s.ingestor = ingestor
	if err := ingestor.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover interrupted documents: %w", err)
	}

	retriever := biz.NewRetriever(registry, embedder, pools.search, m)
	composer := biz.NewComposer(retriever, generator, biz.ComposerConfig{
		TopK:         cfg.KBOptions.RAGTopK,
		MinRelevance: cfg.KBOptions.MinRelevance,
		HistoryTurns: cfg.KBOptions.HistoryTurns,
		Retries:      cfg.KBOptions.GenerationRetries,
	}, m)
	sessions := biz.NewSessionTracker(cfg.KBOptions.SessionTTL)
	stats := biz.NewStatsAggregator(registry, sessions, cfg.KBOptions.Languages)
	queryCache := biz.NewQueryCache(redisClient, biz.QueryCacheConfig{
		TTL:       cfg.CacheOptions.TTL,
		KeyPrefix: cfg.CacheOptions.KeyPrefix,
	}, m)
	service := biz.NewService(registry, retriever, composer, stats, ingestor, queryCache, sessions, biz.ServiceConfig{
		DefaultLimit: cfg.KBOptions.DefaultLimit,
		MaxLimit:     cfg.KBOptions.MaxLimit,
		Settings:     cfg.settings(vectorStore.Name()),
	})
	logger.Infow("Knowledge-base service initialized",
		"chunk_size", cfg.KBOptions.ChunkSize,
		"chunk_overlap", cfg.KBOptions.ChunkOverlap,
		"rag_top_k", cfg.KBOptions.RAGTopK,
		"min_relevance", cfg.KBOptions.MinRelevance,
		"cache.enabled", redisClient != nil,
	)

	// 10. 初始化 HTTP 服务器并注册路由
	s.http = httpserver.NewServer(cfg.HTTPOptions)
	routes := router.Config{
		MaxBodyBytes: cfg.HTTPOptions.MaxBodyBytes,
		Metrics:      m.Handler(),
		Health:       healthChecks(db, vectorStore, redisClient),
	}
	if cfg.RateLimitOptions.Enabled {
		routes.Limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RPS:   cfg.RateLimitOptions.RPS,
			Burst: cfg.RateLimitOptions.Burst,
		})
	}
	router.Register(s.http.Engine(), handler.NewKBHandler(service, cfg.KBOptions.QueryTimeout), routes)

	logger.Info("Knowledge-base service is ready")
	return s, nil
}

func (cfg *Config) newVectorStore(ctx context.Context, s *Server) (store.VectorStore, error) {
	if cfg.KBOptions.StoreBackend != kbopts.StoreMilvus {
		return store.NewMemoryStore(), nil
	}
	client, err := milvus.New(ctx, cfg.MilvusOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	s.onClose(client.Close)
	return store.NewMilvusStore(client), nil
}

func (cfg *Config) newLLM(redisClient goredis.UniversalClient) (biz.Embedder, biz.Generator, error) {
	embedProvider, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	embedBreaker := resilience.DefaultCircuitBreakerConfig()
	embedBreaker.Name = "embedding"
	embedBreaker.OnStateChange = logBreaker
	embedProvider = resilience.WrapEmbedding(embedProvider, resilience.DefaultRetryConfig(), embedBreaker)
	if redisClient != nil && cfg.CacheOptions.EmbeddingTTL > 0 {
		embedProvider = llm.NewCachedEmbeddingProvider(embedProvider, redisClient, &llm.EmbeddingCacheConfig{
			Enabled:   true,
			TTL:       cfg.CacheOptions.EmbeddingTTL,
			KeyPrefix: cfg.CacheOptions.KeyPrefix + "emb:",
			Namespace: cfg.EmbeddingOptions.Provider + ":" + cfg.EmbeddingOptions.Model,
		})
	}
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
	)

	chatProvider, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	chatBreaker := resilience.DefaultCircuitBreakerConfig()
	chatBreaker.Name = "chat"
	chatBreaker.OnStateChange = logBreaker
	logger.Infow("Chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"model", cfg.ChatOptions.Model,
	)

	return biz.NewLLMEmbedder(embedProvider, cfg.KBOptions.EmbedBatchSize, cfg.EmbeddingOptions.Model),
		biz.NewLLMGenerator(resilience.WrapChat(chatProvider, chatBreaker), cfg.ChatOptions.Model),
		nil
}

func logBreaker(name string, from, to resilience.State) {
	logger.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
}

type pools struct {
	ingest  *pool.Pool
	reindex *pool.Pool
	search  *pool.Pool
}

func (cfg *Config) newPools(m *metrics.Metrics, s *Server) (*pools, error) {
	o := cfg.PoolOptions
	build := func(name string, capacity int, nonblocking bool) (*pool.Pool, error) {
		p, err := pool.New(name, &pool.Config{
			Capacity:         capacity,
			ExpiryDuration:   o.ExpiryDuration,
			Nonblocking:      nonblocking,
			MaxBlockingTasks: o.QueueSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s pool: %w", name, err)
		}
		s.onClose(func(context.Context) error { return p.Release(o.ShutdownTimeout) })
		if err := m.RegisterPool(p); err != nil {
			logger.Warnw("failed to register pool metrics", "pool", name, "error", err.Error())
		}
		return p, nil
	}

	var (
		out pools
		err error
	)
	if out.ingest, err = build("ingest", o.IngestWorkers, false); err != nil {
		return nil, err
	}
	if out.reindex, err = build("reindex", o.ReindexWorkers, false); err != nil {
		return nil, err
	}
	// 检索扇出不排队：池满时在请求 goroutine 中直接执行
	if out.search, err = build("search", o.SearchWorkers, true); err != nil {
		return nil, err
	}
	logger.Infow("Worker pools initialized",
		"ingest", o.IngestWorkers,
		"reindex", o.ReindexWorkers,
		"search", o.SearchWorkers,
	)
	return &out, nil
}

func (cfg *Config) settings(backend string) model.Settings {
	return model.Settings{
		LanguagesSupported: cfg.KBOptions.Languages,
		ChunkSize:          cfg.KBOptions.ChunkSize,
		ChunkOverlap:       cfg.KBOptions.ChunkOverlap,
		RAGTopK:            cfg.KBOptions.RAGTopK,
		MinRelevance:       cfg.KBOptions.MinRelevance,
		EmbeddingProvider:  cfg.EmbeddingOptions.Provider,
		EmbeddingModel:     cfg.EmbeddingOptions.Model,
		ChatProvider:       cfg.ChatOptions.Provider,
		ChatModel:          cfg.ChatOptions.Model,
		StoreBackend:       backend,
	}
}

func healthChecks(db *gorm.DB, st store.VectorStore, rdb goredis.UniversalClient) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{
		"metadata": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"vector_store": func(ctx context.Context) error {
			_, err := st.HasCollection(ctx, "kb_healthz")
			return err
		},
	}
	if rdb != nil {
		checks["cache"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	return checks
}

// Run serves until ctx is cancelled, then drains background jobs and closes
// every resource in reverse order of creation.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()
	return s.http.Run(ctx)
}

func (s *Server) onClose(fn func(ctx context.Context) error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) close() {
	if s.ingestor != nil {
		s.ingestor.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		logger.Warnw("errors while shutting down", "error", err.Error())
	}
	logger.Info("Knowledge-base service stopped")
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Store: %s\n", cfg.KBOptions.StoreBackend)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
}
