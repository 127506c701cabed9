// Package ragsvc wires the hybrid retrieval service together:
// configuration, dependency construction and server lifecycle.
package ragsvc

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	llmopts "github.com/kart-io/nexus/pkg/options/llm"
	logopts "github.com/kart-io/nexus/pkg/options/logger"
	milvusopts "github.com/kart-io/nexus/pkg/options/milvus"
	postgresopts "github.com/kart-io/nexus/pkg/options/postgres"
	redisopts "github.com/kart-io/nexus/pkg/options/redis"
)

// HTTPOptions HTTP 服务监听配置。
type HTTPOptions struct {
	// Addr 监听地址。
	Addr string `json:"addr" mapstructure:"addr"`

	// ShutdownTimeout 优雅关闭的最长等待时间。
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHTTPOptions 返回默认 HTTP 配置。
func NewHTTPOptions() *HTTPOptions {
	return &HTTPOptions{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
	}
}

// AddFlags adds HTTP server flags to the flagset.
func (o *HTTPOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "HTTP server listen address.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout.")
}

// Validate validates the HTTP options.
func (o *HTTPOptions) Validate() []error {
	var errs []error
	if o.Addr == "" {
		errs = append(errs, fmt.Errorf("http addr is required"))
	}
	if o.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http shutdown-timeout must be positive"))
	}
	return errs
}

// PipelineOptions 检索与生成管线的可调参数。
type PipelineOptions struct {
	// ParentChunkSize 父块目标长度（字符）。
	ParentChunkSize int `json:"parent-chunk-size" mapstructure:"parent-chunk-size"`

	// ParentChunkOverlap 父块重叠长度。
	ParentChunkOverlap int `json:"parent-chunk-overlap" mapstructure:"parent-chunk-overlap"`

	// ChildChunkSize 子块目标长度。
	ChildChunkSize int `json:"child-chunk-size" mapstructure:"child-chunk-size"`

	// ChildChunkOverlap 子块重叠长度。
	ChildChunkOverlap int `json:"child-chunk-overlap" mapstructure:"child-chunk-overlap"`

	// TopKChildren 融合后保留的子块数量。
	TopKChildren int `json:"top-k-children" mapstructure:"top-k-children"`

	// RerankTopK 重排后保留的父块数量。
	RerankTopK int `json:"rerank-top-k" mapstructure:"rerank-top-k"`

	// ChatThreshold 语义路由判定为闲聊的余弦相似度阈值。
	ChatThreshold float64 `json:"chat-threshold" mapstructure:"chat-threshold"`

	// MaxContextTokens 生成上下文预算（token）。
	MaxContextTokens int `json:"max-context-tokens" mapstructure:"max-context-tokens"`

	// DenseDim 稠密向量维度，需与嵌入模型一致。
	DenseDim int `json:"dense-dim" mapstructure:"dense-dim"`

	// SessionTTL 会话滑动过期时间。
	SessionTTL time.Duration `json:"session-ttl" mapstructure:"session-ttl"`

	// SessionMaxTurns 会话保留的最大轮次数。
	SessionMaxTurns int `json:"session-max-turns" mapstructure:"session-max-turns"`

	// CacheTTL 父块缓存过期时间。
	CacheTTL time.Duration `json:"cache-ttl" mapstructure:"cache-ttl"`
}

// NewPipelineOptions 返回默认管线参数。
func NewPipelineOptions() *PipelineOptions {
	return &PipelineOptions{
		ParentChunkSize:    2000,
		ParentChunkOverlap: 200,
		ChildChunkSize:     400,
		ChildChunkOverlap:  50,
		TopKChildren:       10,
		RerankTopK:         3,
		ChatThreshold:      0.75,
		MaxContextTokens:   2500,
		DenseDim:           384,
		SessionTTL:         1 * time.Hour,
		SessionMaxTurns:    20,
		CacheTTL:           24 * time.Hour,
	}
}

// AddFlags adds pipeline tuning flags to the flagset.
func (o *PipelineOptions) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.ParentChunkSize, "pipeline.parent-chunk-size", o.ParentChunkSize, "Target parent chunk size in characters.")
	fs.IntVar(&o.ParentChunkOverlap, "pipeline.parent-chunk-overlap", o.ParentChunkOverlap, "Parent chunk overlap in characters.")
	fs.IntVar(&o.ChildChunkSize, "pipeline.child-chunk-size", o.ChildChunkSize, "Target child chunk size in characters.")
	fs.IntVar(&o.ChildChunkOverlap, "pipeline.child-chunk-overlap", o.ChildChunkOverlap, "Child chunk overlap in characters.")
	fs.IntVar(&o.TopKChildren, "pipeline.top-k-children", o.TopKChildren, "Number of child chunks kept after fusion.")
	fs.IntVar(&o.RerankTopK, "pipeline.rerank-top-k", o.RerankTopK, "Number of parent chunks kept after reranking.")
	fs.Float64Var(&o.ChatThreshold, "pipeline.chat-threshold", o.ChatThreshold, "Cosine similarity threshold for chit-chat routing.")
	fs.IntVar(&o.MaxContextTokens, "pipeline.max-context-tokens", o.MaxContextTokens, "Context budget for generation in tokens.")
	fs.IntVar(&o.DenseDim, "pipeline.dense-dim", o.DenseDim, "Dense embedding dimension, must match the embedding model.")
	fs.DurationVar(&o.SessionTTL, "pipeline.session-ttl", o.SessionTTL, "Session memory sliding expiration.")
	fs.IntVar(&o.SessionMaxTurns, "pipeline.session-max-turns", o.SessionMaxTurns, "Maximum session turns retained.")
	fs.DurationVar(&o.CacheTTL, "pipeline.cache-ttl", o.CacheTTL, "Parent chunk cache expiration.")
}

// Validate validates the pipeline options.
func (o *PipelineOptions) Validate() []error {
	var errs []error
	if o.ParentChunkSize <= 0 || o.ChildChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk sizes must be positive"))
	}
	if o.ParentChunkOverlap >= o.ParentChunkSize {
		errs = append(errs, fmt.Errorf("parent chunk overlap must be smaller than parent chunk size"))
	}
	if o.ChildChunkOverlap >= o.ChildChunkSize {
		errs = append(errs, fmt.Errorf("child chunk overlap must be smaller than child chunk size"))
	}
	if o.ChildChunkSize > o.ParentChunkSize {
		errs = append(errs, fmt.Errorf("child chunk size must not exceed parent chunk size"))
	}
	if o.TopKChildren <= 0 {
		errs = append(errs, fmt.Errorf("top-k-children must be positive"))
	}
	if o.RerankTopK <= 0 {
		errs = append(errs, fmt.Errorf("rerank-top-k must be positive"))
	}
	if o.ChatThreshold < 0 || o.ChatThreshold > 1 {
		errs = append(errs, fmt.Errorf("chat-threshold must be within [0, 1]"))
	}
	if o.MaxContextTokens <= 0 {
		errs = append(errs, fmt.Errorf("max-context-tokens must be positive"))
	}
	if o.DenseDim <= 0 {
		errs = append(errs, fmt.Errorf("dense-dim must be positive"))
	}
	return errs
}

// Options 汇总 RAG 服务的全部可配置项。
type Options struct {
	HTTP      *HTTPOptions              `json:"http" mapstructure:"http"`
	Log       *logopts.Options          `json:"log" mapstructure:"log"`
	Milvus    *milvusopts.Options       `json:"milvus" mapstructure:"milvus"`
	Postgres  *postgresopts.Options     `json:"postgres" mapstructure:"postgres"`
	Redis     *redisopts.Options        `json:"redis" mapstructure:"redis"`
	Embedding *llmopts.ProviderOptions  `json:"embedding" mapstructure:"embedding"`
	Sparse    *llmopts.ProviderOptions  `json:"sparse" mapstructure:"sparse"`
	Chat      *llmopts.ProviderOptions  `json:"chat" mapstructure:"chat"`
	Rerank    *llmopts.ProviderOptions  `json:"rerank" mapstructure:"rerank"`
	Pipeline  *PipelineOptions          `json:"pipeline" mapstructure:"pipeline"`
}

// NewOptions 创建带默认值的服务配置。
func NewOptions() *Options {
	return &Options{
		HTTP:      NewHTTPOptions(),
		Log:       logopts.NewOptions(),
		Milvus:    milvusopts.NewOptions(),
		Postgres:  postgresopts.NewOptions(),
		Redis:     redisopts.NewOptions(),
		Embedding: llmopts.NewEmbeddingOptions(),
		Sparse:    llmopts.NewSparseOptions(),
		Chat:      llmopts.NewChatOptions(),
		Rerank:    llmopts.NewRerankOptions(),
		Pipeline:  NewPipelineOptions(),
	}
}

// AddFlags adds all service flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.HTTP.AddFlags(fs)
	o.Log.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.Postgres.AddFlags(fs)
	o.Redis.AddFlags(fs)
	o.Embedding.AddFlags(fs, "embedding")
	o.Sparse.AddFlags(fs, "sparse")
	o.Chat.AddFlags(fs, "chat")
	o.Rerank.AddFlags(fs, "rerank")
	o.Pipeline.AddFlags(fs)
}

// Validate validates all option groups.
func (o *Options) Validate() []error {
	var errs []error
	errs = append(errs, o.HTTP.Validate()...)
	if err := o.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, o.Milvus.Validate()...)
	if err := o.Postgres.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := o.Redis.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, o.Embedding.Validate()...)
	errs = append(errs, o.Sparse.Validate()...)
	errs = append(errs, o.Chat.Validate()...)
	errs = append(errs, o.Rerank.Validate()...)
	errs = append(errs, o.Pipeline.Validate()...)
	return errs
}

// Complete fills in defaults that depend on other values.
func (o *Options) Complete() error {
	if err := o.Log.Complete(); err != nil {
		return err
	}
	for _, p := range []*llmopts.ProviderOptions{o.Embedding, o.Sparse, o.Chat, o.Rerank} {
		if err := p.Complete(); err != nil {
			return err
		}
	}
	return nil
}

// Config 从校验后的 Options 构建运行时配置。
func (o *Options) Config() (*Config, error) {
	if errs := o.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid options: %v", errs)
	}
	return &Config{Options: o}, nil
}
