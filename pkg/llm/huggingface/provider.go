// Package huggingface 提供基于 Text Embeddings Inference (TEI) 服务的供应商实现。
// 支持 Embedding 和交叉编码器 Rerank。
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/kart-io/nexus/pkg/llm"
)

// ProviderName 是 HuggingFace TEI 供应商的名称标识符。
const ProviderName = "huggingface"

func init() {
	llm.RegisterEmbeddingProvider(ProviderName, func(configMap map[string]any) (llm.EmbeddingProvider, error) {
		return NewProvider(configMap)
	})
	llm.RegisterRerankProvider(ProviderName, func(configMap map[string]any) (llm.RerankProvider, error) {
		return NewProvider(configMap)
	})
}

// Config HuggingFace TEI 供应商配置。
type Config struct {
	// BaseURL TEI 服务地址。
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey 可选的 Bearer Token。
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:8600",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// Provider HuggingFace TEI 供应商实现。
type Provider struct {
	config     *Config
	httpClient *http.Client
}

// NewProvider 从配置 map 创建 HuggingFace TEI 供应商。
func NewProvider(configMap map[string]any) (*Provider, error) {
	cfg := DefaultConfig()

	if v, ok := configMap["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := configMap["api_key"].(string); ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	if v, ok := configMap["max_retries"].(int); ok && v > 0 {
		cfg.MaxRetries = v
	}

	return &Provider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// embedRequest TEI embed API 请求体。
type embedRequest struct {
	Inputs []string `json:"inputs"`
}

// Embed 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var embeddings [][]float32
	if err := p.postJSON(ctx, "/embed", embedRequest{Inputs: texts}, &embeddings); err != nil {
		return nil, err
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("嵌入数量不匹配: 期望 %d，实际 %d", len(texts), len(embeddings))
	}

	return embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("未返回向量嵌入")
	}
	return embeddings[0], nil
}

// rerankRequest TEI rerank API 请求体。
type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// rerankResponseItem TEI rerank API 响应项。
type rerankResponseItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank 根据 query 对 documents 重排序，返回按分数降序的结果。
func (p *Provider) Rerank(ctx context.Context, query string, documents []string) ([]llm.RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	var items []rerankResponseItem
	if err := p.postJSON(ctx, "/rerank", rerankRequest{Query: query, Texts: documents}, &items); err != nil {
		return nil, err
	}

	results := make([]llm.RerankResult, 0, len(items))
	for _, item := range items {
		if item.Index < 0 || item.Index >= len(documents) {
			return nil, fmt.Errorf("重排序结果下标越界: %d", item.Index)
		}
		results = append(results, llm.RerankResult{Index: item.Index, Score: item.Score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// postJSON 发送 JSON 请求并解析响应，带重试。
func (p *Provider) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("创建请求失败: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("请求失败，状态码 %d: %s", resp.StatusCode, string(bodyBytes))
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(respBody)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("解析响应失败: %w", err)
		}
		return nil
	}

	return fmt.Errorf("请求失败: %w", lastErr)
}

// Ping 检查 TEI 服务是否可用。
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("服务不可用，状态码 %d", resp.StatusCode)
	}

	return nil
}
