// Package metrics 提供知识库服务的 Prometheus 业务指标。
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kart-io/knowledge-base/internal/kb/index"
	"github.com/kart-io/knowledge-base/pkg/infra/pool"
)

const namespace = "kb"

// Metrics 知识库业务指标。所有方法对 nil 接收者安全。
type Metrics struct {
	gatherer prometheus.Gatherer

	searches         *prometheus.CounterVec
	retrievalLatency *prometheus.HistogramVec
	ragQueries       *prometheus.CounterVec
	cacheRequests    *prometheus.CounterVec
	omissions        *prometheus.CounterVec
	genRetries       prometheus.Counter
	genFailures      prometheus.Counter
	ingested         *prometheus.CounterVec
	reindexRuns      *prometheus.CounterVec
	publishes        *prometheus.CounterVec
	drops            *prometheus.CounterVec
	vectors          *prometheus.GaugeVec

	reg prometheus.Registerer
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default 返回注册到 prometheus 默认注册表的全局指标实例。
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return defaultMetrics
}

// New 创建注册到独立注册表的指标实例，主要用于测试。
func New(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		reg:      reg,
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of retrievals by scope and status.",
		}, []string{"scope", "status"}),
		retrievalLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval latency including query embedding.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"scope"}),
		ragQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rag_queries_total",
			Help:      "Total number of RAG answers by answer type.",
		}, []string{"type"}),
		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		omissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_omissions_total",
			Help:      "Categories left out of merged retrieval results because their index failed.",
		}, []string{"category"}),
		genRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_retries_total",
			Help:      "Answer generations retried after empty or failed output.",
		}),
		genFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Answer generations that failed after the retry.",
		}),
		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Ingested documents by final status.",
		}, []string{"status"}),
		reindexRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reindex_runs_total",
			Help:      "Category reindex runs by outcome.",
		}, []string{"category", "outcome"}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_publishes_total",
			Help:      "Index publications by kind (insert or replace).",
		}, []string{"category", "kind"}),
		drops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_drops_total",
			Help:      "Retired generations whose backing collection was dropped.",
		}, []string{"category"}),
		vectors: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "category_vectors",
			Help:      "Vectors in the active generation of each category.",
		}, []string{"category"}),
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRetrieval 记录一次检索。scope 为类别名或 "all"。
func (m *Metrics) ObserveRetrieval(scope string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(scope, statusLabel(err)).Inc()
	if err == nil {
		m.retrievalLatency.WithLabelValues(scope).Observe(d.Seconds())
	}
}

// RecordAnswer 记录 RAG 答案类型（rag_response、fallback_response 或 error）。
func (m *Metrics) RecordAnswer(answerType string) {
	if m == nil {
		return
	}
	m.ragQueries.WithLabelValues(answerType).Inc()
}

// RecordCache 记录缓存命中或未命中。
func (m *Metrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(cache, result).Inc()
}

// RecordOmission 记录被跳过的类别。
func (m *Metrics) RecordOmission(category string) {
	if m == nil {
		return
	}
	m.omissions.WithLabelValues(category).Inc()
}

// RecordGenerationRetry 记录一次生成重试。
func (m *Metrics) RecordGenerationRetry() {
	if m == nil {
		return
	}
	m.genRetries.Inc()
}

// RecordGenerationFailure 记录重试后仍失败的生成。
func (m *Metrics) RecordGenerationFailure() {
	if m == nil {
		return
	}
	m.genFailures.Inc()
}

// RecordIngest 记录文档摄取的最终状态。
func (m *Metrics) RecordIngest(status string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(status).Inc()
}

// RecordReindex 记录重建结果。
func (m *Metrics) RecordReindex(category string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.reindexRuns.WithLabelValues(category, outcome).Inc()
}

// IndexHooks 返回把索引生命周期事件转成指标的回调。
func (m *Metrics) IndexHooks() index.Hooks {
	if m == nil {
		return index.Hooks{}
	}
	return index.Hooks{
		OnPublish: func(category string, _ int64, vectors int64, replaced bool) {
			kind := "insert"
			if replaced {
				kind = "replace"
			}
			m.publishes.WithLabelValues(category, kind).Inc()
			m.vectors.WithLabelValues(category).Set(float64(vectors))
		},
		OnDrop: func(category string, _ int64) {
			m.drops.WithLabelValues(category).Inc()
		},
	}
}

// ForgetCategory 删除类别后清理其指标序列。
func (m *Metrics) ForgetCategory(category string) {
	if m == nil {
		return
	}
	m.vectors.DeleteLabelValues(category)
}

// RegisterPool 以 GaugeFunc 暴露工作池运行状态。
func (m *Metrics) RegisterPool(p *pool.Pool) error {
	if m == nil || p == nil {
		return nil
	}
	labels := prometheus.Labels{"pool": p.Name()}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pool_running_workers",
			Help:        "Workers currently running in the pool.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.Stats().Running) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pool_waiting_tasks",
			Help:        "Tasks waiting for a worker.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.Stats().Waiting) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pool_rejected_tasks_total",
			Help:        "Tasks rejected because the pool was full.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.Stats().Rejected) }),
	}
	for _, c := range collectors {
		if err := m.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
