package biz

import (
	"context"
	"fmt"
	"sort"

	"github.com/kart-io/logger"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/rag/store"
	"github.com/kart-io/nexus/pkg/llm"
)

// rrfK 是 Reciprocal Rank Fusion 的平滑常数。
const rrfK = 60

// RetrieverConfig 检索配置。
type RetrieverConfig struct {
	// TopKChildren 融合后保留的子块数量。每路召回取其 2 倍作为候选。
	TopKChildren int
}

// Retriever 在稠密与稀疏两个向量空间中召回子块，并用 RRF 融合多路排序结果。
type Retriever struct {
	vectorStore    store.VectorStore
	embedProvider  llm.EmbeddingProvider
	sparseProvider llm.SparseEmbeddingProvider
	config         *RetrieverConfig
}

// NewRetriever 创建检索器实例。
func NewRetriever(
	vectorStore store.VectorStore,
	embedProvider llm.EmbeddingProvider,
	sparseProvider llm.SparseEmbeddingProvider,
	config *RetrieverConfig,
) *Retriever {
	if config.TopKChildren <= 0 {
		config.TopKChildren = 10
	}
	return &Retriever{
		vectorStore:    vectorStore,
		embedProvider:  embedProvider,
		sparseProvider: sparseProvider,
		config:         config,
	}
}

// Retrieve 对两个查询文本（独立问题与 HyDE 段落）各执行一次稠密与一次稀疏检索，
// 最多产生四路排序列表，融合后返回 TopKChildren 个子块。
// 嵌入失败视为依赖不可用；单路检索失败降级跳过，全部失败才报错。
func (r *Retriever) Retrieve(ctx context.Context, team, question, passage string) ([]model.ScoredChunk, error) {
	queries := []string{question}
	if passage != "" && passage != question {
		queries = append(queries, passage)
	}

	searchK := r.config.TopKChildren * 2
	var lists [][]model.ScoredChunk
	var failed int

	for _, query := range queries {
		dense, err := r.embedProvider.EmbedSingle(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("%w: dense embedding: %v", ErrDependencyUnavailable, err)
		}
		sparse, err := r.sparseProvider.EmbedSparseSingle(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("%w: sparse embedding: %v", ErrDependencyUnavailable, err)
		}

		if hits, err := r.vectorStore.SearchDense(ctx, team, dense, searchK); err != nil {
			logger.Warnw("dense search failed, skipping list", "team", team, "error", err.Error())
			failed++
		} else {
			lists = append(lists, hits)
		}

		if hits, err := r.vectorStore.SearchSparse(ctx, team, sparse, searchK); err != nil {
			logger.Warnw("sparse search failed, skipping list", "team", team, "error", err.Error())
			failed++
		} else {
			lists = append(lists, hits)
		}
	}

	if len(lists) == 0 {
		return nil, fmt.Errorf("%w: all vector searches failed (%d lists)", ErrDependencyUnavailable, failed)
	}

	fused := fuseRRF(lists)
	if len(fused) > r.config.TopKChildren {
		fused = fused[:r.config.TopKChildren]
	}
	logger.Debugw("retrieval fused", "team", team, "lists", len(lists), "candidates", len(fused))
	return fused, nil
}

// fuseRRF 按子块 id 聚合各列表中的排名得分 score = Σ 1/(rank+60)，
// 降序排序，同分时按 id 字典序保证确定性。
func fuseRRF(lists [][]model.ScoredChunk) []model.ScoredChunk {
	scores := make(map[string]float64)
	chunks := make(map[string]model.ChildChunk)

	for _, list := range lists {
		for rank, hit := range list {
			scores[hit.ID] += 1.0 / float64(rank+rrfK)
			if _, ok := chunks[hit.ID]; !ok {
				chunks[hit.ID] = hit.ChildChunk
			}
		}
	}

	fused := make([]model.ScoredChunk, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, model.ScoredChunk{ChildChunk: chunks[id], Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}
