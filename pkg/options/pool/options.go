// Package pool provides worker pool options.
package pool

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/knowledge-base/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 异步任务池配置。
type Options struct {
	// IngestWorkers 摄取任务并发数
	IngestWorkers int `json:"ingest-workers" mapstructure:"ingest-workers"`
	// ReindexWorkers 重建索引并发数（不同分类之间）
	ReindexWorkers int `json:"reindex-workers" mapstructure:"reindex-workers"`
	// SearchWorkers 检索扇出并发数
	SearchWorkers int `json:"search-workers" mapstructure:"search-workers"`
	// QueueSize 每个池允许排队的任务数，超出时返回过载
	QueueSize int `json:"queue-size" mapstructure:"queue-size"`
	// ExpiryDuration 空闲 worker 回收时间
	ExpiryDuration time.Duration `json:"expiry-duration" mapstructure:"expiry-duration"`
	// ShutdownTimeout 关闭时等待运行中任务的时间
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewOptions creates default pool options.
func NewOptions() *Options {
	return &Options{
		IngestWorkers:   4,
		ReindexWorkers:  2,
		SearchWorkers:   32,
		QueueSize:       256,
		ExpiryDuration:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// AddFlags adds flags for pool options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "pool."
	fs.IntVar(&o.IngestWorkers, p+"ingest-workers", o.IngestWorkers, "Concurrent document ingestion jobs.")
	fs.IntVar(&o.ReindexWorkers, p+"reindex-workers", o.ReindexWorkers, "Concurrent category reindex jobs.")
	fs.IntVar(&o.SearchWorkers, p+"search-workers", o.SearchWorkers, "Concurrent per-category searches across all requests.")
	fs.IntVar(&o.QueueSize, p+"queue-size", o.QueueSize, "Jobs allowed to wait per pool before submissions are rejected.")
	fs.DurationVar(&o.ExpiryDuration, p+"expiry-duration", o.ExpiryDuration, "Idle worker expiry.")
	fs.DurationVar(&o.ShutdownTimeout, p+"shutdown-timeout", o.ShutdownTimeout, "Time to wait for running jobs on shutdown.")
}

// Validate validates the pool options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.IngestWorkers <= 0 || o.ReindexWorkers <= 0 || o.SearchWorkers <= 0 {
		errs = append(errs, fmt.Errorf("pool worker counts must be positive"))
	}
	if o.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("pool.queue-size must not be negative"))
	}
	if o.ExpiryDuration <= 0 || o.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pool durations must be positive"))
	}
	return errs
}
