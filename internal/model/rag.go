// Package model defines shared data models for the nexus RAG service.
package model

// ParentChunk 表示父文档块，提供生成阶段的宽上下文。
type ParentChunk struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	FileName string `json:"file_name"`
	Page     int    `json:"page"`
}

// ChildChunk 表示子文档块，作为检索单元被嵌入到向量空间。
type ChildChunk struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Text     string `json:"text"`
	FileName string `json:"file_name"`
	Page     int    `json:"page"`
}

// ScoredChunk 表示带分数的子块检索结果。
type ScoredChunk struct {
	ChildChunk
	Score float64 `json:"score"`
}

// ScoredParent 表示展开后的父块，分数继承自命中的子块或重排器。
type ScoredParent struct {
	ParentChunk
	Score float64 `json:"score"`
}

// Provenance 表示答案引用的来源信息。
type Provenance struct {
	FileName string  `json:"file_name"`
	Text     string  `json:"text"`
	Page     int     `json:"page"`
	Score    float64 `json:"score"`
}

// QueryResult 表示一次查询的完整结果。
type QueryResult struct {
	Answer     string       `json:"answer"`
	Provenance []Provenance `json:"provenance"`
}

// SessionTurn 表示会话中的一轮消息。
type SessionTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// 会话角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// IngestStats 表示一次文档摄取的统计信息。
type IngestStats struct {
	FileName     string `json:"file_name"`
	Pages        int    `json:"pages"`
	ParentChunks int    `json:"parent_chunks"`
	ChildChunks  int    `json:"child_chunks"`
}

// TeamStats 表示团队知识库的统计信息。
type TeamStats struct {
	Team              string `json:"team"`
	ChildChunks       int64  `json:"child_chunks"`
	EmbeddingProvider string `json:"embedding_provider"`
	SparseProvider    string `json:"sparse_provider"`
	ChatProvider      string `json:"chat_provider"`
	RerankProvider    string `json:"rerank_provider"`
}

// DocumentInfo 表示团队内一个已摄取文档的概要。
type DocumentInfo struct {
	FileName     string `json:"file_name"`
	ParentChunks int    `json:"parent_chunks"`
}
