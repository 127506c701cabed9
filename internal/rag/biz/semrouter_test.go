package biz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kart-io/nexus/internal/rag/biz"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(threshold float64) (*biz.SemanticRouter, *fakeEmbedder) {
	embedder := newFakeEmbedder(4)
	// 闲聊示例落在 (0,1,0,0) 方向
	for _, exemplar := range []string{"hi", "hello", "thanks", "bye"} {
		embedder.set(exemplar, []float32{0, 1, 0, 0})
	}
	router := biz.NewSemanticRouter(embedder, &biz.SemanticRouterConfig{ChatThreshold: threshold})
	return router, embedder
}

func TestRouterChatWhenAboveThreshold(t *testing.T) {
	router, embedder := newTestRouter(0.75)
	embedder.set("hello there", []float32{0, 1, 0, 0})

	assert.Equal(t, biz.RouteChat, router.Route(context.Background(), "hello there"))
}

func TestRouterRAGWhenBelowThreshold(t *testing.T) {
	router, embedder := newTestRouter(0.75)
	// 与闲聊方向正交
	embedder.set("what is the retry policy", []float32{1, 0, 0, 0})

	assert.Equal(t, biz.RouteRAG, router.Route(context.Background(), "what is the retry policy"))
}

func TestRouterBoundaryIsInclusive(t *testing.T) {
	router, embedder := newTestRouter(0.8)
	// cos((3,4,0,0),(0,1,0,0)) = 4/5，相似度恰好等于阈值时路由到 chat
	embedder.set("hm", []float32{3, 4, 0, 0})

	assert.Equal(t, biz.RouteChat, router.Route(context.Background(), "hm"))
}

func TestRouterDefaultsThresholdWhenUnset(t *testing.T) {
	embedder := newFakeEmbedder(4)
	for _, exemplar := range []string{"hi", "hello", "thanks", "bye"} {
		embedder.set(exemplar, []float32{0, 1, 0, 0})
	}
	// 零值阈值回落到 0.75，否则任何查询都会被路由到 chat
	router := biz.NewSemanticRouter(embedder, &biz.SemanticRouterConfig{})

	embedder.set("what is the retry policy", []float32{1, 0, 0, 0})
	assert.Equal(t, biz.RouteRAG, router.Route(context.Background(), "what is the retry policy"))

	embedder.set("hello there", []float32{0, 1, 0, 0})
	assert.Equal(t, biz.RouteChat, router.Route(context.Background(), "hello there"))
}

func TestRouterFailsOpenToRAG(t *testing.T) {
	embedder := newFakeEmbedder(4)
	embedder.err = errors.New("embedding service down")
	router := biz.NewSemanticRouter(embedder, &biz.SemanticRouterConfig{ChatThreshold: 0.75})

	assert.Equal(t, biz.RouteRAG, router.Route(context.Background(), "hello"))
}

func TestRouterCachesExemplarEmbeddings(t *testing.T) {
	router, embedder := newTestRouter(0.75)

	router.Route(context.Background(), "first question")
	callsAfterFirst := embedder.calls
	router.Route(context.Background(), "second question")

	// 第二次路由只应产生一次查询嵌入调用
	assert.Equal(t, callsAfterFirst+1, embedder.calls)
}
