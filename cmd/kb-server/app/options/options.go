// Package options contains flags and options for initializing the knowledge-base server.
package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	kbsvc "github.com/kart-io/knowledge-base/internal/kb"
	"github.com/kart-io/knowledge-base/pkg/infra/app"
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

var _ app.CliOptions = (*ServerOptions)(nil)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// KBOptions contains chunking, retrieval and answer settings.
	KBOptions *kbopts.Options `json:"kb" mapstructure:"kb"`

	// MilvusOptions contains Milvus configuration, used when kb.store-backend is milvus.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// MetadataOptions contains the document and category database configuration.
	MetadataOptions *metaopts.Options `json:"metadata" mapstructure:"metadata"`

	// CacheOptions contains Redis cache configuration.
	CacheOptions *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// PoolOptions contains worker pool sizes.
	PoolOptions *poolopts.Options `json:"pool" mapstructure:"pool"`

	// TracingOptions contains OpenTelemetry configuration.
	TracingOptions *tracingopts.Options `json:"tracing" mapstructure:"tracing"`

	// RateLimitOptions contains rate limiting for write and generation endpoints.
	RateLimitOptions *ratelimitopts.Options `json:"ratelimit" mapstructure:"ratelimit"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		KBOptions:        kbopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		MetadataOptions:  metaopts.NewOptions(),
		CacheOptions:     cacheopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		PoolOptions:      poolopts.NewOptions(),
		TracingOptions:   tracingopts.NewOptions(),
		RateLimitOptions: ratelimitopts.NewOptions(),
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss app.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.KBOptions.AddFlags(fss.FlagSet("kb"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.MetadataOptions.AddFlags(fss.FlagSet("metadata"))
	o.CacheOptions.AddFlags(fss.FlagSet("cache"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"))
	o.ChatOptions.AddFlags(fss.FlagSet("chat"))
	o.PoolOptions.AddFlags(fss.FlagSet("pool"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))
	o.RateLimitOptions.AddFlags(fss.FlagSet("ratelimit"))
	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.EmbeddingOptions.Complete(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := o.ChatOptions.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := o.CacheOptions.Complete(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if o.TracingOptions.ServiceName == "" {
		o.TracingOptions.ServiceName = kbsvc.Name
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.KBOptions.Validate()...)
	if o.KBOptions.StoreBackend == kbopts.StoreMilvus {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}
	errs = append(errs, o.MetadataOptions.Validate()...)
	errs = append(errs, o.CacheOptions.Validate()...)
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.PoolOptions.Validate()...)
	errs = append(errs, o.TracingOptions.Validate()...)
	errs = append(errs, o.RateLimitOptions.Validate()...)

	return utilerrors.NewAggregate(errs)
}

// Config builds a kbsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*kbsvc.Config, error) {
	return &kbsvc.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		KBOptions:        o.KBOptions,
		MilvusOptions:    o.MilvusOptions,
		MetadataOptions:  o.MetadataOptions,
		CacheOptions:     o.CacheOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		PoolOptions:      o.PoolOptions,
		TracingOptions:   o.TracingOptions,
		RateLimitOptions: o.RateLimitOptions,
	}, nil
}
