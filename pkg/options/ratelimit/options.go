// Package ratelimit provides request rate limiting options.
package ratelimit

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/knowledge-base/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 按客户端 IP 的令牌桶限流配置，只作用于写入与生成类接口。
type Options struct {
	Enabled bool    `json:"enabled" mapstructure:"enabled"`
	RPS     float64 `json:"rps" mapstructure:"rps"`
	Burst   int     `json:"burst" mapstructure:"burst"`
}

// NewOptions creates default rate limit options.
func NewOptions() *Options {
	return &Options{
		Enabled: true,
		RPS:     5,
		Burst:   10,
	}
}

// AddFlags adds flags for rate limit options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "ratelimit."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Rate limit ingest, reindex and test-query per client IP.")
	fs.Float64Var(&o.RPS, p+"rps", o.RPS, "Sustained requests per second per client.")
	fs.IntVar(&o.Burst, p+"burst", o.Burst, "Burst size per client.")
}

// Validate validates the rate limit options.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}
	if o.RPS <= 0 || o.Burst <= 0 {
		return []error{fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive")}
	}
	return nil
}
