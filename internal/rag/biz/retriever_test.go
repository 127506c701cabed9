package biz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/rag/biz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetriever(vs *fakeVectorStore, topK int) *biz.Retriever {
	return biz.NewRetriever(vs, newFakeEmbedder(4), &fakeSparseEmbedder{}, &biz.RetrieverConfig{
		TopKChildren: topK,
	})
}

func TestRetrieveFusesDenseAndSparse(t *testing.T) {
	vs := newFakeVectorStore()
	vs.denseHits = []model.ScoredChunk{
		scoredChunk("c1", "p1", "alpha", "a.md", 0.9),
		scoredChunk("c2", "p1", "beta", "a.md", 0.8),
	}
	vs.sparseHits = []model.ScoredChunk{
		scoredChunk("c2", "p1", "beta", "a.md", 12.0),
		scoredChunk("c3", "p2", "gamma", "b.md", 8.0),
	}
	r := newTestRetriever(vs, 10)

	got, err := r.Retrieve(context.Background(), "team_a", "question", "question")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// c2 出现在两路排名中，融合得分最高
	assert.Equal(t, "c2", got[0].ID)
	assert.InDelta(t, 1.0/61+1.0/60, got[0].Score, 1e-12)
	// c1 位于稠密第 1 位，高于稀疏第 2 位的 c3
	assert.Equal(t, "c1", got[1].ID)
	assert.Equal(t, "c3", got[2].ID)
}

func TestRetrieveTieBreaksByID(t *testing.T) {
	vs := newFakeVectorStore()
	vs.denseHits = []model.ScoredChunk{scoredChunk("z9", "p1", "x", "f.md", 1)}
	vs.sparseHits = []model.ScoredChunk{scoredChunk("a1", "p2", "y", "f.md", 1)}
	r := newTestRetriever(vs, 10)

	got, err := r.Retrieve(context.Background(), "team_a", "q", "q")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, got[0].Score, got[1].Score)
	assert.Equal(t, "a1", got[0].ID)
}

func TestRetrieveHydePassageAddsLists(t *testing.T) {
	vs := newFakeVectorStore()
	vs.denseHits = []model.ScoredChunk{scoredChunk("c1", "p1", "alpha", "a.md", 0.9)}
	r := newTestRetriever(vs, 10)

	// 相同文本只检索一次
	got, err := r.Retrieve(context.Background(), "team_a", "q", "q")
	require.NoError(t, err)
	assert.InDelta(t, 1.0/60, got[0].Score, 1e-12)

	// 不同的 HyDE 段落产生第二轮检索，同一命中得分翻倍
	got, err = r.Retrieve(context.Background(), "team_a", "q", "hypothetical passage")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/60, got[0].Score, 1e-12)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	vs := newFakeVectorStore()
	for i := 0; i < 8; i++ {
		vs.denseHits = append(vs.denseHits,
			scoredChunk(string(rune('a'+i)), "p", "text", "f.md", float64(8-i)))
	}
	r := newTestRetriever(vs, 3)

	got, err := r.Retrieve(context.Background(), "team_a", "q", "q")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
}

func TestRetrieveMonotonicity(t *testing.T) {
	// 同等排名下，出现在更多列表中的子块得分不低于出现更少的
	vs := newFakeVectorStore()
	vs.denseHits = []model.ScoredChunk{scoredChunk("both", "p1", "x", "f.md", 1)}
	vs.sparseHits = []model.ScoredChunk{
		scoredChunk("both", "p1", "x", "f.md", 1),
		scoredChunk("single", "p2", "y", "f.md", 1),
	}
	r := newTestRetriever(vs, 10)

	got, err := r.Retrieve(context.Background(), "team_a", "q", "q")
	require.NoError(t, err)
	require.Equal(t, "both", got[0].ID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestRetrieveEmbeddingFailureIsFatal(t *testing.T) {
	vs := newFakeVectorStore()
	embedder := newFakeEmbedder(4)
	embedder.err = errors.New("embed down")
	r := biz.NewRetriever(vs, embedder, &fakeSparseEmbedder{}, &biz.RetrieverConfig{TopKChildren: 10})

	_, err := r.Retrieve(context.Background(), "team_a", "q", "q")
	assert.ErrorIs(t, err, biz.ErrDependencyUnavailable)
}

func TestRetrieveAllSearchesFailed(t *testing.T) {
	vs := newFakeVectorStore()
	vs.searchErr = errors.New("milvus down")
	r := newTestRetriever(vs, 10)

	_, err := r.Retrieve(context.Background(), "team_a", "q", "q")
	assert.ErrorIs(t, err, biz.ErrDependencyUnavailable)
}
