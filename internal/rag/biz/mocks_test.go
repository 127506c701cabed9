package biz_test

import (
	"context"
	"strings"
	"sync"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/rag/store"
	"github.com/kart-io/nexus/pkg/llm"
)

// fakeEmbedder 按词表返回确定性的向量。未登记的文本返回 fallback 向量。
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	fallback := make([]float32, dim)
	fallback[0] = 1
	return &fakeEmbedder{
		vectors:  make(map[string][]float32),
		fallback: fallback,
	}
}

func (f *fakeEmbedder) set(text string, vec []float32) {
	f.vectors[text] = vec
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := f.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = f.fallback
		}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) Name() string { return "fake-embed" }

// fakeSparseEmbedder 返回基于文本长度的确定性稀疏向量。
type fakeSparseEmbedder struct {
	err error
}

func (f *fakeSparseEmbedder) EmbedSparse(_ context.Context, texts []string) ([]llm.SparseVector, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]llm.SparseVector, len(texts))
	for i, text := range texts {
		out[i] = llm.SparseVector{
			Indices: []uint32{uint32(len(text) % 97)},
			Values:  []float32{1.0},
		}
	}
	return out, nil
}

func (f *fakeSparseEmbedder) EmbedSparseSingle(ctx context.Context, text string) (llm.SparseVector, error) {
	vecs, err := f.EmbedSparse(ctx, []string{text})
	if err != nil {
		return llm.SparseVector{}, err
	}
	return vecs[0], nil
}

func (f *fakeSparseEmbedder) Name() string { return "fake-sparse" }

// fakeChat 按收到的最后一条用户消息回放脚本化响应。
type fakeChat struct {
	responses map[string]string // substring of last user message -> reply
	fallback  string
	err       error
	requests  [][]llm.Message
}

func newFakeChat(fallback string) *fakeChat {
	return &fakeChat{
		responses: make(map[string]string),
		fallback:  fallback,
	}
}

func (f *fakeChat) reply(messages []llm.Message) string {
	var lastUser string
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			lastUser = m.Content
		}
	}
	for needle, reply := range f.responses {
		if strings.Contains(lastUser, needle) {
			return reply
		}
	}
	return f.fallback
}

func (f *fakeChat) Chat(_ context.Context, messages []llm.Message) (string, error) {
	f.requests = append(f.requests, messages)
	if f.err != nil {
		return "", f.err
	}
	return f.reply(messages), nil
}

func (f *fakeChat) ChatStream(_ context.Context, messages []llm.Message, onDelta func(string) error) error {
	f.requests = append(f.requests, messages)
	if f.err != nil {
		return f.err
	}
	// 按单词切分模拟流式输出
	words := strings.SplitAfter(f.reply(messages), " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		if err := onDelta(w); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeChat) Name() string { return "fake-chat" }

// fakeReranker 按文档下标的预设分数排序。
type fakeReranker struct {
	scores map[string]float64 // document substring -> score
	err    error
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, documents []string) ([]llm.RerankResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	results := make([]llm.RerankResult, len(documents))
	for i, doc := range documents {
		score := 0.01
		for needle, s := range f.scores {
			if strings.Contains(doc, needle) {
				score = s
			}
		}
		results[i] = llm.RerankResult{Index: i, Score: score}
	}
	// 降序
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[i].Score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	return results, nil
}

func (f *fakeReranker) Name() string { return "fake-rerank" }

// fakeVectorStore 内存向量存储，检索结果由测试预先注入。
type fakeVectorStore struct {
	mu          sync.Mutex
	collections map[string]bool
	points      map[string][]store.ChildPoint
	denseHits   []model.ScoredChunk
	sparseHits  []model.ScoredChunk
	searchErr   error
	upsertErr   error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		collections: make(map[string]bool),
		points:      make(map[string][]store.ChildPoint),
	}
}

func (f *fakeVectorStore) EnsureCollection(_ context.Context, team string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[team] = true
	return nil
}

func (f *fakeVectorStore) Upsert(_ context.Context, team string, points []store.ChildPoint) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[team] = append(f.points[team], points...)
	return nil
}

func (f *fakeVectorStore) SearchDense(_ context.Context, _ string, _ []float32, topK int) ([]model.ScoredChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.denseHits) > topK {
		return f.denseHits[:topK], nil
	}
	return f.denseHits, nil
}

func (f *fakeVectorStore) SearchSparse(_ context.Context, _ string, _ llm.SparseVector, topK int) ([]model.ScoredChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.sparseHits) > topK {
		return f.sparseHits[:topK], nil
	}
	return f.sparseHits, nil
}

func (f *fakeVectorStore) DeleteByFile(_ context.Context, team, fileName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []store.ChildPoint
	for _, p := range f.points[team] {
		if p.Chunk.FileName != fileName {
			kept = append(kept, p)
		}
	}
	f.points[team] = kept
	return nil
}

func (f *fakeVectorStore) DropCollection(_ context.Context, team string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, team)
	delete(f.points, team)
	return nil
}

func (f *fakeVectorStore) HasCollection(_ context.Context, team string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[team], nil
}

func (f *fakeVectorStore) Stats(_ context.Context, team string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.points[team])), nil
}

func (f *fakeVectorStore) Ping(context.Context) error  { return nil }
func (f *fakeVectorStore) Close(context.Context) error { return nil }

// fakeParentStore 内存父块存储。
type fakeParentStore struct {
	mu      sync.Mutex
	parents map[string]model.ParentChunk // key: team+"/"+id
	getErr  error
	gets    int
}

func newFakeParentStore() *fakeParentStore {
	return &fakeParentStore{parents: make(map[string]model.ParentChunk)}
}

func parentKey(team, id string) string { return team + "/" + id }

func (f *fakeParentStore) SaveParents(_ context.Context, team string, parents []model.ParentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range parents {
		f.parents[parentKey(team, p.ID)] = p
	}
	return nil
}

func (f *fakeParentStore) GetParent(_ context.Context, team, parentID string) (*model.ParentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if p, ok := f.parents[parentKey(team, parentID)]; ok {
		copied := p
		return &copied, nil
	}
	return nil, store.ErrParentNotFound
}

func (f *fakeParentStore) ListParentIDs(_ context.Context, team, fileName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for key, p := range f.parents {
		if strings.HasPrefix(key, team+"/") && p.FileName == fileName {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (f *fakeParentStore) DeleteByFile(_ context.Context, team, fileName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, p := range f.parents {
		if strings.HasPrefix(key, team+"/") && p.FileName == fileName {
			delete(f.parents, key)
		}
	}
	return nil
}

func (f *fakeParentStore) ListFiles(_ context.Context, team string) ([]model.DocumentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for key, p := range f.parents {
		if strings.HasPrefix(key, team+"/") {
			counts[p.FileName]++
		}
	}
	var docs []model.DocumentInfo
	for name, count := range counts {
		docs = append(docs, model.DocumentInfo{FileName: name, ParentChunks: count})
	}
	return docs, nil
}

func (f *fakeParentStore) DeleteTeam(_ context.Context, team string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.parents {
		if strings.HasPrefix(key, team+"/") {
			delete(f.parents, key)
		}
	}
	return nil
}

func (f *fakeParentStore) Ping(context.Context) error { return nil }

// fakeParentCache 内存父块缓存。
type fakeParentCache struct {
	mu     sync.Mutex
	items  map[string]model.ParentChunk
	gets   int
	hits   int
	setErr error
}

func newFakeParentCache() *fakeParentCache {
	return &fakeParentCache{items: make(map[string]model.ParentChunk)}
}

func (f *fakeParentCache) GetParent(_ context.Context, team, parentID string) (*model.ParentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if p, ok := f.items[parentKey(team, parentID)]; ok {
		f.hits++
		copied := p
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeParentCache) SetParents(_ context.Context, team string, parents []model.ParentChunk) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range parents {
		f.items[parentKey(team, p.ID)] = p
	}
	return nil
}

func (f *fakeParentCache) DeleteByIDs(_ context.Context, team string, parentIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range parentIDs {
		delete(f.items, parentKey(team, id))
	}
	return nil
}

// fakeSessionStore 内存会话存储，带裁剪语义。
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string][]model.SessionTurn
	maxTurns int
}

func newFakeSessionStore(maxTurns int) *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string][]model.SessionTurn),
		maxTurns: maxTurns,
	}
}

func (f *fakeSessionStore) Append(_ context.Context, sessionID string, turns ...model.SessionTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := append(f.sessions[sessionID], turns...)
	if len(s) > f.maxTurns {
		s = s[len(s)-f.maxTurns:]
	}
	f.sessions[sessionID] = s
	return nil
}

func (f *fakeSessionStore) History(_ context.Context, sessionID string) ([]model.SessionTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SessionTurn(nil), f.sessions[sessionID]...), nil
}

func (f *fakeSessionStore) Clear(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeSessionStore) Ping(context.Context) error { return nil }

// scoredChunk 构造检索结果的便捷函数。
func scoredChunk(id, parentID, text, file string, score float64) model.ScoredChunk {
	return model.ScoredChunk{
		ChildChunk: model.ChildChunk{
			ID:       id,
			ParentID: parentID,
			Text:     text,
			FileName: file,
			Page:     1,
		},
		Score: score,
	}
}
