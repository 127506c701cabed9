// Package llm 提供统一的 LLM 供应商抽象层。
// Embedding、Sparse Embedding、Chat 和 Rerank 可以使用不同供应商的模型。
package llm

import (
	"context"
	"fmt"
	"sync"
)

// EmbeddingProvider 定义稠密向量 Embedding 供应商接口。
type EmbeddingProvider interface {
	// Embed 为多个文本生成向量嵌入。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle 为单个文本生成向量嵌入。
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name 返回供应商名称。
	Name() string
}

// SparseVector 表示稀疏向量，索引与权重一一对应。
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// SparseEmbeddingProvider 定义稀疏向量 Embedding 供应商接口。
type SparseEmbeddingProvider interface {
	// EmbedSparse 为多个文本生成稀疏向量嵌入。
	EmbedSparse(ctx context.Context, texts []string) ([]SparseVector, error)

	// EmbedSparseSingle 为单个文本生成稀疏向量嵌入。
	EmbedSparseSingle(ctx context.Context, text string) (SparseVector, error)

	// Name 返回供应商名称。
	Name() string
}

// ChatProvider 定义 Chat 供应商接口。
type ChatProvider interface {
	// Chat 进行多轮对话。
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream 进行多轮对话并通过回调逐段输出。
	// 回调返回错误时中止流式传输。
	ChatStream(ctx context.Context, messages []Message, onDelta func(delta string) error) error

	// Name 返回供应商名称。
	Name() string
}

// RerankResult 表示重排序结果，Index 对应输入文档的下标。
type RerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// RerankProvider 定义交叉编码器重排序供应商接口。
type RerankProvider interface {
	// Rerank 根据 query 对 documents 重排序，返回按分数降序的结果。
	Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error)

	// Name 返回供应商名称。
	Name() string
}

// Message 表示对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role 定义消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// EmbeddingProviderFactory Embedding 供应商工厂函数类型。
type EmbeddingProviderFactory func(config map[string]any) (EmbeddingProvider, error)

// SparseEmbeddingProviderFactory 稀疏 Embedding 供应商工厂函数类型。
type SparseEmbeddingProviderFactory func(config map[string]any) (SparseEmbeddingProvider, error)

// ChatProviderFactory Chat 供应商工厂函数类型。
type ChatProviderFactory func(config map[string]any) (ChatProvider, error)

// RerankProviderFactory Rerank 供应商工厂函数类型。
type RerankProviderFactory func(config map[string]any) (RerankProvider, error)

// registry 供应商注册表。
var registry = &providerRegistry{
	embeddingProviders: make(map[string]EmbeddingProviderFactory),
	sparseProviders:    make(map[string]SparseEmbeddingProviderFactory),
	chatProviders:      make(map[string]ChatProviderFactory),
	rerankProviders:    make(map[string]RerankProviderFactory),
}

type providerRegistry struct {
	mu                 sync.RWMutex
	embeddingProviders map[string]EmbeddingProviderFactory
	sparseProviders    map[string]SparseEmbeddingProviderFactory
	chatProviders      map[string]ChatProviderFactory
	rerankProviders    map[string]RerankProviderFactory
}

// RegisterEmbeddingProvider 注册 Embedding 供应商工厂。
func RegisterEmbeddingProvider(name string, factory EmbeddingProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.embeddingProviders[name] = factory
}

// RegisterSparseEmbeddingProvider 注册稀疏 Embedding 供应商工厂。
func RegisterSparseEmbeddingProvider(name string, factory SparseEmbeddingProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.sparseProviders[name] = factory
}

// RegisterChatProvider 注册 Chat 供应商工厂。
func RegisterChatProvider(name string, factory ChatProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.chatProviders[name] = factory
}

// RegisterRerankProvider 注册 Rerank 供应商工厂。
func RegisterRerankProvider(name string, factory RerankProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.rerankProviders[name] = factory
}

// NewEmbeddingProvider 根据名称创建 Embedding 供应商实例。
func NewEmbeddingProvider(name string, config map[string]any) (EmbeddingProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.embeddingProviders[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s", name)
	}
	return factory(config)
}

// NewSparseEmbeddingProvider 根据名称创建稀疏 Embedding 供应商实例。
func NewSparseEmbeddingProvider(name string, config map[string]any) (SparseEmbeddingProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.sparseProviders[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown sparse embedding provider: %s", name)
	}
	return factory(config)
}

// NewChatProvider 根据名称创建 Chat 供应商实例。
func NewChatProvider(name string, config map[string]any) (ChatProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.chatProviders[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown chat provider: %s", name)
	}
	return factory(config)
}

// NewRerankProvider 根据名称创建 Rerank 供应商实例。
func NewRerankProvider(name string, config map[string]any) (RerankProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.rerankProviders[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown rerank provider: %s", name)
	}
	return factory(config)
}

// ListProviders 列出所有已注册的供应商名称。
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string

	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for name := range registry.embeddingProviders {
		add(name)
	}
	for name := range registry.sparseProviders {
		add(name)
	}
	for name := range registry.chatProviders {
		add(name)
	}
	for name := range registry.rerankProviders {
		add(name)
	}

	return names
}
