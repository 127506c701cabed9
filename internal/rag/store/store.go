// Package store 提供 RAG 服务的存储层：向量索引、父块持久化、缓存与会话记忆。
package store

import (
	"context"
	"errors"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/pkg/llm"
)

// ErrParentNotFound 表示父块在持久化存储中不存在。
var ErrParentNotFound = errors.New("parent chunk not found")

// ChildPoint 表示写入向量索引的子块数据点。
// 同一数据点同时携带稠密与稀疏两个命名向量。
type ChildPoint struct {
	Chunk  model.ChildChunk
	Dense  []float32
	Sparse llm.SparseVector
}

// VectorStore 定义向量存储接口。每个团队一个集合，集合内有
// dense 和 sparse 两个命名向量空间。
type VectorStore interface {
	// EnsureCollection 确保团队集合存在，幂等。
	EnsureCollection(ctx context.Context, team string) error

	// Upsert 批量写入子块数据点。
	Upsert(ctx context.Context, team string, points []ChildPoint) error

	// SearchDense 在稠密向量空间检索。
	SearchDense(ctx context.Context, team string, vector []float32, topK int) ([]model.ScoredChunk, error)

	// SearchSparse 在稀疏向量空间检索。
	SearchSparse(ctx context.Context, team string, vector llm.SparseVector, topK int) ([]model.ScoredChunk, error)

	// DeleteByFile 删除指定文件的全部子块。
	DeleteByFile(ctx context.Context, team, fileName string) error

	// DropCollection 删除团队集合。
	DropCollection(ctx context.Context, team string) error

	// HasCollection 检查团队集合是否存在。
	HasCollection(ctx context.Context, team string) (bool, error)

	// Stats 返回团队集合中的数据点数量。
	Stats(ctx context.Context, team string) (int64, error)

	// Ping 检查向量存储是否可用。
	Ping(ctx context.Context) error

	// Close 关闭连接。
	Close(ctx context.Context) error
}

// ParentStore 定义父块持久化存储接口。
type ParentStore interface {
	// SaveParents 批量保存父块，按 ID 幂等覆盖。
	SaveParents(ctx context.Context, team string, parents []model.ParentChunk) error

	// GetParent 按 ID 获取父块。未找到返回 ErrParentNotFound。
	GetParent(ctx context.Context, team, parentID string) (*model.ParentChunk, error)

	// ListParentIDs 列出指定文件的全部父块 ID，供缓存失效使用。
	ListParentIDs(ctx context.Context, team, fileName string) ([]string, error)

	// DeleteByFile 删除指定文件的全部父块。
	DeleteByFile(ctx context.Context, team, fileName string) error

	// ListFiles 列出团队内的文档及其父块数量。
	ListFiles(ctx context.Context, team string) ([]model.DocumentInfo, error)

	// DeleteTeam 删除团队的全部父块。
	DeleteTeam(ctx context.Context, team string) error

	// Ping 检查存储是否可用。
	Ping(ctx context.Context) error
}

// ParentCache 定义父块读穿缓存接口。缓存失败不应阻断主流程。
type ParentCache interface {
	// GetParent 从缓存获取父块。未命中返回 nil, nil。
	GetParent(ctx context.Context, team, parentID string) (*model.ParentChunk, error)

	// SetParents 批量写入缓存。
	SetParents(ctx context.Context, team string, parents []model.ParentChunk) error

	// DeleteByIDs 按 ID 批量删除缓存项。
	DeleteByIDs(ctx context.Context, team string, parentIDs []string) error
}

// SessionStore 定义会话记忆接口。
type SessionStore interface {
	// Append 追加会话轮次，裁剪到最近 N 轮并刷新 TTL。
	Append(ctx context.Context, sessionID string, turns ...model.SessionTurn) error

	// History 返回会话历史，从旧到新。
	History(ctx context.Context, sessionID string) ([]model.SessionTurn, error)

	// Clear 清除会话。
	Clear(ctx context.Context, sessionID string) error

	// Ping 检查存储是否可用。
	Ping(ctx context.Context) error
}
