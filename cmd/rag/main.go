// nexus-rag 是面向团队知识库的混合检索问答服务。
// 文档经父子两级分块后写入 Milvus（稠密+稀疏双空间）与 PostgreSQL，
// 查询经过守护、路由、改写、混合检索、重排与引用约束生成。
package main

import (
	"os"

	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/nexus/cmd/rag/app"
)

func main() {
	command := app.NewRAGCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
