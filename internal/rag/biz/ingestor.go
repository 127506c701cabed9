package biz

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/pkg/rag/docparse"
	"github.com/kart-io/nexus/internal/rag/store"
	"github.com/kart-io/nexus/pkg/llm"
)

// upsertBatchSize 向量写入的批大小。
const upsertBatchSize = 100

// IngestService 定义摄取侧的服务接口。
type IngestService interface {
	// Ingest 摄取一份上传的文档。
	Ingest(ctx context.Context, team, fileName string, data []byte) (*model.IngestStats, error)
	// DeleteDocument 级联删除一个文件。
	DeleteDocument(ctx context.Context, team, fileName string) error
	// DeleteTeam 删除团队的全部数据。
	DeleteTeam(ctx context.Context, team string) error
	// ListDocuments 列出团队内的文档。
	ListDocuments(ctx context.Context, team string) ([]model.DocumentInfo, error)
}

// IngestorConfig 摄取管线配置。
type IngestorConfig struct {
	ParentChunkSize    int
	ParentChunkOverlap int
	ChildChunkSize     int
	ChildChunkOverlap  int
}

// NewIngestorConfig 返回默认摄取配置。
func NewIngestorConfig() *IngestorConfig {
	return &IngestorConfig{
		ParentChunkSize:    2000,
		ParentChunkOverlap: 200,
		ChildChunkSize:     400,
		ChildChunkOverlap:  50,
	}
}

// Ingestor 实现父子两级的混合摄取管线：
// 解析文档、父块与子块递归分割、稠密与稀疏双路嵌入、向量入库。
type Ingestor struct {
	vectorStore    store.VectorStore
	parentStore    store.ParentStore
	parentCache    store.ParentCache
	embedProvider  llm.EmbeddingProvider
	sparseProvider llm.SparseEmbeddingProvider

	parentChunker *Chunker
	childChunker  *Chunker
}

// NewIngestor 创建摄取器实例。
func NewIngestor(
	vectorStore store.VectorStore,
	parentStore store.ParentStore,
	parentCache store.ParentCache,
	embedProvider llm.EmbeddingProvider,
	sparseProvider llm.SparseEmbeddingProvider,
	config *IngestorConfig,
) *Ingestor {
	if config == nil {
		config = NewIngestorConfig()
	}
	return &Ingestor{
		vectorStore:    vectorStore,
		parentStore:    parentStore,
		parentCache:    parentCache,
		embedProvider:  embedProvider,
		sparseProvider: sparseProvider,
		parentChunker: NewChunker(&ChunkerConfig{
			ChunkSize:    config.ParentChunkSize,
			ChunkOverlap: config.ParentChunkOverlap,
		}),
		childChunker: NewChunker(&ChunkerConfig{
			ChunkSize:    config.ChildChunkSize,
			ChunkOverlap: config.ChildChunkOverlap,
		}),
	}
}

// Ingest 处理一次文件上传：解析、分块、嵌入并写入各存储。
// 无法提取任何内容的文件按无效请求处理。
func (in *Ingestor) Ingest(ctx context.Context, team, fileName string, data []byte) (*model.IngestStats, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file %q", ErrBadRequest, fileName)
	}

	pages, err := docparse.Parse(fileName, data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", ErrBadRequest, fileName, err)
	}

	parents, children := in.buildChunks(pages, fileName)
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: no content extracted from %q", ErrBadRequest, fileName)
	}
	logger.Infow("document chunked",
		"team", team, "file", fileName,
		"pages", len(pages), "parents", len(parents), "children", len(children))

	if err := in.vectorStore.EnsureCollection(ctx, team); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	if err := in.parentStore.SaveParents(ctx, team, parents); err != nil {
		return nil, fmt.Errorf("save parent chunks: %w", err)
	}
	// 缓存预热失败不影响摄取结果
	if in.parentCache != nil {
		if err := in.parentCache.SetParents(ctx, team, parents); err != nil {
			logger.Warnw("parent cache warm-up failed", "file", fileName, "error", err.Error())
		}
	}

	if err := in.indexChildren(ctx, team, children); err != nil {
		return nil, err
	}

	stats := &model.IngestStats{
		FileName:     fileName,
		Pages:        len(pages),
		ParentChunks: len(parents),
		ChildChunks:  len(children),
	}
	logger.Infow("ingestion complete", "team", team, "file", fileName,
		"parent_chunks", stats.ParentChunks, "child_chunks", stats.ChildChunks)
	return stats, nil
}

// buildChunks 构建父子两级块。每个子块通过 parent_id 指回其父块。
func (in *Ingestor) buildChunks(pages []docparse.Page, fileName string) ([]model.ParentChunk, []model.ChildChunk) {
	var parents []model.ParentChunk
	var children []model.ChildChunk

	for _, page := range pages {
		for _, parentText := range in.parentChunker.Split(page.Text) {
			parent := model.ParentChunk{
				ID:       uuid.NewString(),
				Text:     parentText,
				FileName: fileName,
				Page:     page.Number,
			}
			parents = append(parents, parent)

			for _, childText := range in.childChunker.Split(parentText) {
				children = append(children, model.ChildChunk{
					ID:       uuid.NewString(),
					ParentID: parent.ID,
					Text:     childText,
					FileName: fileName,
					Page:     page.Number,
				})
			}
		}
	}
	return parents, children
}

// indexChildren 为子块生成双路嵌入并分批写入向量库。
func (in *Ingestor) indexChildren(ctx context.Context, team string, children []model.ChildChunk) error {
	for start := 0; start < len(children); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(children) {
			end = len(children)
		}
		batch := children[start:end]

		texts := make([]string, len(batch))
		for i, child := range batch {
			texts[i] = child.Text
		}

		dense, err := in.embedProvider.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: dense embedding: %v", ErrDependencyUnavailable, err)
		}
		sparse, err := in.sparseProvider.EmbedSparse(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: sparse embedding: %v", ErrDependencyUnavailable, err)
		}
		if len(dense) != len(batch) || len(sparse) != len(batch) {
			return fmt.Errorf("embedding count mismatch: batch %d, dense %d, sparse %d",
				len(batch), len(dense), len(sparse))
		}

		points := make([]store.ChildPoint, len(batch))
		for i, child := range batch {
			points[i] = store.ChildPoint{
				Chunk:  child,
				Dense:  dense[i],
				Sparse: sparse[i],
			}
		}
		if err := in.vectorStore.Upsert(ctx, team, points); err != nil {
			return fmt.Errorf("vector upsert: %w", err)
		}
		logger.Debugw("indexed batch", "team", team,
			"batch", start/upsertBatchSize+1, "size", len(batch))
	}
	return nil
}

// DeleteDocument 级联删除一个文件的全部痕迹：向量、父块与缓存。
func (in *Ingestor) DeleteDocument(ctx context.Context, team, fileName string) error {
	parentIDs, err := in.parentStore.ListParentIDs(ctx, team, fileName)
	if err != nil {
		return fmt.Errorf("list parent ids: %w", err)
	}

	if err := in.vectorStore.DeleteByFile(ctx, team, fileName); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := in.parentStore.DeleteByFile(ctx, team, fileName); err != nil {
		return fmt.Errorf("delete parent chunks: %w", err)
	}
	if in.parentCache != nil && len(parentIDs) > 0 {
		if err := in.parentCache.DeleteByIDs(ctx, team, parentIDs); err != nil {
			logger.Warnw("parent cache invalidation failed", "file", fileName, "error", err.Error())
		}
	}
	logger.Infow("document deleted", "team", team, "file", fileName)
	return nil
}

// DeleteTeam 删除团队的集合与全部父块。
func (in *Ingestor) DeleteTeam(ctx context.Context, team string) error {
	if err := in.vectorStore.DropCollection(ctx, team); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	if err := in.parentStore.DeleteTeam(ctx, team); err != nil {
		return fmt.Errorf("delete team parents: %w", err)
	}
	logger.Infow("team deleted", "team", team)
	return nil
}

// ListDocuments 列出团队内已摄取的文件。
func (in *Ingestor) ListDocuments(ctx context.Context, team string) ([]model.DocumentInfo, error) {
	docs, err := in.parentStore.ListFiles(ctx, team)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// 确保 Ingestor 实现了 IngestService 接口。
var _ IngestService = (*Ingestor)(nil)
