package huggingface_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/kart-io/nexus/pkg/llm"
	_ "github.com/kart-io/nexus/pkg/llm/huggingface"
)

// 演示如何通过注册表创建 TEI 重排序供应商。
// TEI (Text Embeddings Inference) 在服务端绑定模型。
func ExampleNewProvider_basic() {
	provider, err := llm.NewRerankProvider("huggingface", map[string]any{
		"base_url": "http://localhost:8600",
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("TEI 供应商名称:", provider.Name())
	// Output: TEI 供应商名称: huggingface
}

// 演示如何使用 Rerank 方法对候选文档重排序。
func ExampleProvider_Rerank() {
	if os.Getenv("TEI_BASE_URL") == "" {
		fmt.Println("跳过示例：需要设置 TEI_BASE_URL 环境变量")
		return
	}

	provider, err := llm.NewRerankProvider("huggingface", map[string]any{
		"base_url": os.Getenv("TEI_BASE_URL"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	results, err := provider.Rerank(ctx, "重试策略是什么", []string{
		"失败的批次最多重试三次",
		"日志默认输出到标准输出",
	})
	if err != nil {
		log.Fatal(err)
	}

	for _, r := range results {
		fmt.Printf("文档 %d 得分: %.4f\n", r.Index, r.Score)
	}
}

// 演示如何使用 Embed 方法生成文本向量嵌入。
func ExampleProvider_Embed() {
	if os.Getenv("TEI_BASE_URL") == "" {
		fmt.Println("跳过示例：需要设置 TEI_BASE_URL 环境变量")
		return
	}

	provider, err := llm.NewEmbeddingProvider("huggingface", map[string]any{
		"base_url": os.Getenv("TEI_BASE_URL"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	embeddings, err := provider.Embed(ctx, []string{"混合检索结合稠密与稀疏向量"})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("向量维度: %d\n", len(embeddings[0]))
}
