package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/pkg/llm"
)

// RerankerConfig 重排配置。
type RerankerConfig struct {
	// TopK 重排后保留的父块数量。
	TopK int
}

// Reranker 用交叉编码器对候选父块做精排。
type Reranker struct {
	provider llm.RerankProvider
	config   *RerankerConfig
}

// NewReranker 创建重排器实例。
func NewReranker(provider llm.RerankProvider, config *RerankerConfig) *Reranker {
	if config.TopK <= 0 {
		config.TopK = 3
	}
	return &Reranker{provider: provider, config: config}
}

// Rerank 按 (问题, 父块文本) 对打分并保留 TopK。
// 提供方故障时降级为按融合排序截断，不向上传播错误。
func (r *Reranker) Rerank(ctx context.Context, question string, parents []model.ScoredParent) []model.ScoredParent {
	if len(parents) == 0 {
		return parents
	}

	keep := r.config.TopK
	if keep > len(parents) {
		keep = len(parents)
	}

	documents := make([]string, len(parents))
	for i, p := range parents {
		documents[i] = p.Text
	}

	results, err := r.provider.Rerank(ctx, question, documents)
	if err != nil {
		logger.Warnw("rerank failed, keeping fused order", "error", err.Error())
		return parents[:keep]
	}

	reranked := make([]model.ScoredParent, 0, keep)
	for _, result := range results {
		if result.Index < 0 || result.Index >= len(parents) {
			logger.Warnw("rerank result index out of range", "index", result.Index)
			continue
		}
		p := parents[result.Index]
		p.Score = result.Score
		reranked = append(reranked, p)
		if len(reranked) == keep {
			break
		}
	}
	if len(reranked) == 0 {
		return parents[:keep]
	}
	return reranked
}
