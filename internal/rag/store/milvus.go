package store

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/pkg/llm"
)

// 集合字段名。dense 与 sparse 是同一集合内的两个命名向量空间。
const (
	fieldID       = "id"
	fieldText     = "text"
	fieldParentID = "parent_id"
	fieldFileName = "file_name"
	fieldPage     = "page"
	fieldDense    = "dense"
	fieldSparse   = "sparse"
)

// MilvusConfig Milvus 向量存储配置。
type MilvusConfig struct {
	Address  string
	Username string
	Password string
	Database string
	Timeout  time.Duration
	// DenseDim 稠密向量维度。
	DenseDim int
}

// MilvusStore 实现基于 Milvus 的双空间向量存储。
type MilvusStore struct {
	client *milvusclient.Client
	config *MilvusConfig
}

// NewMilvusStore 创建 Milvus 存储实例并建立连接。
func NewMilvusStore(ctx context.Context, config *MilvusConfig) (*MilvusStore, error) {
	if config == nil {
		return nil, fmt.Errorf("milvus config is nil")
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	c, err := milvusclient.New(connectCtx, &milvusclient.ClientConfig{
		Address:  config.Address,
		Username: config.Username,
		Password: config.Password,
		DBName:   config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &MilvusStore{client: c, config: config}, nil
}

var teamSanitizeRegex = regexp.MustCompile(`[^a-z0-9_]`)

// CollectionName 返回团队对应的集合名。
// 团队 ID 会被归一化为小写字母、数字和下划线。
func CollectionName(team string) string {
	sanitized := teamSanitizeRegex.ReplaceAllString(strings.ToLower(team), "_")
	return "team_" + sanitized
}

// EnsureCollection 确保团队集合存在，幂等。
// 并发摄取可能竞争创建，已存在错误被视为成功。
func (s *MilvusStore) EnsureCollection(ctx context.Context, team string) error {
	name := CollectionName(team)

	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	schema := entity.NewSchema().
		WithName(name).
		WithDescription("nexus hybrid retrieval collection").
		WithField(entity.NewField().
			WithName(fieldID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName(fieldText).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(65535)).
		WithField(entity.NewField().
			WithName(fieldParentID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64)).
		WithField(entity.NewField().
			WithName(fieldFileName).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(512)).
		WithField(entity.NewField().
			WithName(fieldPage).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName(fieldDense).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(s.config.DenseDim))).
		WithField(entity.NewField().
			WithName(fieldSparse).
			WithDataType(entity.FieldTypeSparseVector))

	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		if strings.Contains(err.Error(), "already exist") {
			return nil
		}
		return fmt.Errorf("failed to create collection: %w", err)
	}

	denseIdx := index.NewIvfFlatIndex(entity.COSINE, 128)
	denseTask, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, fieldDense, denseIdx))
	if err != nil {
		return fmt.Errorf("failed to create dense index: %w", err)
	}
	if err := denseTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for dense index creation: %w", err)
	}

	sparseIdx := index.NewSparseInvertedIndex(entity.IP, 0.2)
	sparseTask, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, fieldSparse, sparseIdx))
	if err != nil {
		return fmt.Errorf("failed to create sparse index: %w", err)
	}
	if err := sparseTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for sparse index creation: %w", err)
	}

	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}

	return nil
}

// Upsert 批量写入子块数据点。
func (s *MilvusStore) Upsert(ctx context.Context, team string, points []ChildPoint) error {
	if len(points) == 0 {
		return nil
	}
	name := CollectionName(team)

	ids := make([]string, len(points))
	texts := make([]string, len(points))
	parentIDs := make([]string, len(points))
	fileNames := make([]string, len(points))
	pages := make([]int64, len(points))
	denseVectors := make([][]float32, len(points))
	sparseVectors := make([]entity.SparseEmbedding, len(points))

	for i, p := range points {
		ids[i] = p.Chunk.ID
		texts[i] = p.Chunk.Text
		parentIDs[i] = p.Chunk.ParentID
		fileNames[i] = p.Chunk.FileName
		pages[i] = int64(p.Chunk.Page)
		denseVectors[i] = p.Dense

		sparse, err := entity.NewSliceSparseEmbedding(p.Sparse.Indices, p.Sparse.Values)
		if err != nil {
			return fmt.Errorf("failed to build sparse embedding for %s: %w", p.Chunk.ID, err)
		}
		sparseVectors[i] = sparse
	}

	columns := []column.Column{
		column.NewColumnVarChar(fieldID, ids),
		column.NewColumnVarChar(fieldText, texts),
		column.NewColumnVarChar(fieldParentID, parentIDs),
		column.NewColumnVarChar(fieldFileName, fileNames),
		column.NewColumnInt64(fieldPage, pages),
		column.NewColumnFloatVector(fieldDense, s.config.DenseDim, denseVectors),
		column.NewColumnSparseVectors(fieldSparse, sparseVectors),
	}

	if _, err := s.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(name, columns...)); err != nil {
		return fmt.Errorf("failed to upsert into milvus: %w", err)
	}

	// Flush 保证新写入的数据点立即可检索
	flushTask, err := s.client.Flush(ctx, milvusclient.NewFlushOption(name))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}

	return nil
}

// SearchDense 在稠密向量空间检索。
func (s *MilvusStore) SearchDense(ctx context.Context, team string, vector []float32, topK int) ([]model.ScoredChunk, error) {
	return s.search(ctx, team, entity.FloatVector(vector), fieldDense, topK)
}

// SearchSparse 在稀疏向量空间检索。
func (s *MilvusStore) SearchSparse(ctx context.Context, team string, vector llm.SparseVector, topK int) ([]model.ScoredChunk, error) {
	sparse, err := entity.NewSliceSparseEmbedding(vector.Indices, vector.Values)
	if err != nil {
		return nil, fmt.Errorf("failed to build sparse query vector: %w", err)
	}
	return s.search(ctx, team, sparse, fieldSparse, topK)
}

func (s *MilvusStore) search(ctx context.Context, team string, vector entity.Vector, annsField string, topK int) ([]model.ScoredChunk, error) {
	name := CollectionName(team)
	outputFields := []string{fieldText, fieldParentID, fieldFileName, fieldPage}

	results, err := s.client.Search(ctx, milvusclient.NewSearchOption(
		name,
		topK,
		[]entity.Vector{vector},
	).WithANNSField(annsField).
		WithOutputFields(outputFields...))
	if err != nil {
		return nil, fmt.Errorf("failed to search %s space: %w", annsField, err)
	}

	if len(results) == 0 {
		return nil, nil
	}

	rs := results[0]
	chunks := make([]model.ScoredChunk, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		chunk := model.ScoredChunk{Score: float64(rs.Scores[i])}

		if idCol, ok := rs.IDs.(*column.ColumnVarChar); ok {
			chunk.ID = idCol.Data()[i]
		}

		for _, field := range rs.Fields {
			switch col := field.(type) {
			case *column.ColumnVarChar:
				switch col.Name() {
				case fieldText:
					chunk.Text = col.Data()[i]
				case fieldParentID:
					chunk.ParentID = col.Data()[i]
				case fieldFileName:
					chunk.FileName = col.Data()[i]
				}
			case *column.ColumnInt64:
				if col.Name() == fieldPage {
					chunk.Page = int(col.Data()[i])
				}
			}
		}

		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// DeleteByFile 删除指定文件的全部子块。
func (s *MilvusStore) DeleteByFile(ctx context.Context, team, fileName string) error {
	name := CollectionName(team)
	expr := fmt.Sprintf("%s == %q", fieldFileName, fileName)

	if _, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(name).WithExpr(expr)); err != nil {
		return fmt.Errorf("failed to delete by file: %w", err)
	}
	return nil
}

// DropCollection 删除团队集合。
func (s *MilvusStore) DropCollection(ctx context.Context, team string) error {
	name := CollectionName(team)
	if err := s.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(name)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// HasCollection 检查团队集合是否存在。
func (s *MilvusStore) HasCollection(ctx context.Context, team string) (bool, error) {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(CollectionName(team)))
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

// Stats 返回团队集合中的数据点数量。
func (s *MilvusStore) Stats(ctx context.Context, team string) (int64, error) {
	stats, err := s.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(CollectionName(team)))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}

	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

// Ping 检查 Milvus 是否可用。
func (s *MilvusStore) Ping(ctx context.Context) error {
	if _, err := s.client.ListCollections(ctx, milvusclient.NewListCollectionOption()); err != nil {
		return fmt.Errorf("milvus ping failed: %w", err)
	}
	return nil
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// 确保 MilvusStore 实现了 VectorStore 接口。
var _ VectorStore = (*MilvusStore)(nil)
