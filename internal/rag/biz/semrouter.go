package biz

import (
	"context"
	"fmt"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/nexus/internal/pkg/rag/textutil"
	"github.com/kart-io/nexus/pkg/llm"
)

// Route 表示查询的路由结果。
type Route string

const (
	// RouteChat 闲聊路径，跳过检索直接对话。
	RouteChat Route = "chat"
	// RouteRAG 检索增强路径。
	RouteRAG Route = "rag"
)

// chatExemplars 是闲聊意图的示例语句，用于语义路由。
var chatExemplars = []string{
	"hi",
	"hello",
	"hey",
	"greetings",
	"good morning",
	"good afternoon",
	"good evening",
	"how are you",
	"how's it going",
	"what's up",
	"thanks",
	"thank you",
	"bye",
	"goodbye",
	"see you",
	"nice to meet you",
}

// defaultChatThreshold 未配置时的闲聊路由相似度阈值。
const defaultChatThreshold = 0.75

// SemanticRouterConfig 语义路由配置。
type SemanticRouterConfig struct {
	// ChatThreshold 与闲聊示例的最大余弦相似度达到该值时路由到 chat。
	ChatThreshold float64
}

// SemanticRouter 基于嵌入相似度区分闲聊与知识检索查询。
// 示例嵌入在首次使用时计算一次并缓存。
type SemanticRouter struct {
	embedProvider llm.EmbeddingProvider
	config        *SemanticRouterConfig

	mu        sync.Mutex
	exemplars [][]float32
}

// NewSemanticRouter 创建语义路由实例。
func NewSemanticRouter(embedProvider llm.EmbeddingProvider, config *SemanticRouterConfig) *SemanticRouter {
	if config == nil {
		config = &SemanticRouterConfig{}
	}
	if config.ChatThreshold <= 0 {
		config.ChatThreshold = defaultChatThreshold
	}
	return &SemanticRouter{
		embedProvider: embedProvider,
		config:        config,
	}
}

// Route 判定查询走 chat 还是 rag 路径。
// 嵌入失败时不阻断请求，保守地路由到 rag。
func (r *SemanticRouter) Route(ctx context.Context, question string) Route {
	exemplars, err := r.exemplarEmbeddings(ctx)
	if err != nil {
		logger.Warnw("chat exemplar embedding unavailable, routing to rag", "error", err.Error())
		return RouteRAG
	}

	queryVec, err := r.embedProvider.EmbedSingle(ctx, question)
	if err != nil {
		logger.Warnw("query embedding failed, routing to rag", "error", err.Error())
		return RouteRAG
	}

	maxSim := -1.0
	for _, exemplar := range exemplars {
		if sim := textutil.CosineSimilarity(queryVec, exemplar); sim > maxSim {
			maxSim = sim
		}
	}

	if maxSim >= r.config.ChatThreshold {
		logger.Debugw("routed to chat", "similarity", maxSim)
		return RouteChat
	}
	logger.Debugw("routed to rag", "similarity", maxSim)
	return RouteRAG
}

// exemplarEmbeddings 返回缓存的示例嵌入，失败时下次请求重试。
func (r *SemanticRouter) exemplarEmbeddings(ctx context.Context) ([][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exemplars != nil {
		return r.exemplars, nil
	}

	embeddings, err := r.embedProvider.Embed(ctx, chatExemplars)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(chatExemplars) {
		return nil, fmt.Errorf("exemplar embedding count mismatch: expected %d, got %d",
			len(chatExemplars), len(embeddings))
	}

	r.exemplars = embeddings
	return embeddings, nil
}
