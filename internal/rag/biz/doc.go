// Package biz 提供 RAG 服务的业务逻辑层。
//
// 该包采用分层架构，将业务逻辑拆分为以下组件：
//   - Ingestor: 负责文档摄取（解析、父子分块、双路嵌入、入库）
//   - Retriever: 负责混合检索（稠密与稀疏召回、RRF 融合）
//   - Expander / Reranker / Assembler: 负责父块扩展、精排与上下文拼装
//   - Generator: 负责引用约束的回答生成
//   - QueryService: 组合以上组件，编排完整的查询管线
package biz
