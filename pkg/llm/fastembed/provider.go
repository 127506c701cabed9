// Package fastembed 提供基于 fastembed 推理服务的稀疏向量供应商实现。
// 该服务以 HTTP 暴露 BM42 风格的稀疏嵌入模型。
package fastembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kart-io/nexus/pkg/llm"
)

const ProviderName = "fastembed"

func init() {
	llm.RegisterSparseEmbeddingProvider(ProviderName, func(configMap map[string]any) (llm.SparseEmbeddingProvider, error) {
		return NewProvider(configMap)
	})
}

// Config fastembed 供应商配置。
type Config struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	Model      string        `json:"model" mapstructure:"model"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:8500",
		Model:      "Qdrant/bm42-all-minilm-l6-v2-attentions",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// Provider fastembed 稀疏向量供应商实现。
type Provider struct {
	config     *Config
	httpClient *http.Client
}

// NewProvider 从配置 map 创建 fastembed 供应商。
func NewProvider(configMap map[string]any) (*Provider, error) {
	cfg := DefaultConfig()

	if v, ok := configMap["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := configMap["model"].(string); ok && v != "" {
		cfg.Model = v
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

// sparseEmbedRequest 稀疏嵌入 API 请求体。
type sparseEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// sparseEmbedResponse 稀疏嵌入 API 响应体。
type sparseEmbedResponse struct {
	Embeddings []struct {
		Indices []uint32  `json:"indices"`
		Values  []float32 `json:"values"`
	} `json:"embeddings"`
}

// EmbedSparse 为多个文本生成稀疏向量嵌入。
func (p *Provider) EmbedSparse(ctx context.Context, texts []string) ([]llm.SparseVector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := sparseEmbedRequest{
		Model: p.config.Model,
		Input: texts,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed/sparse", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("创建请求失败: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

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

		var embedResp sparseEmbedResponse
		err = json.NewDecoder(resp.Body).Decode(&embedResp)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("解析响应失败: %w", err)
		}

		if len(embedResp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("嵌入数量不匹配: 期望 %d，实际 %d", len(texts), len(embedResp.Embeddings))
		}

		vectors := make([]llm.SparseVector, len(embedResp.Embeddings))
		for i, e := range embedResp.Embeddings {
			if len(e.Indices) != len(e.Values) {
				return nil, fmt.Errorf("稀疏向量 %d 索引与权重长度不一致", i)
			}
			vectors[i] = llm.SparseVector{Indices: e.Indices, Values: e.Values}
		}
		return vectors, nil
	}

	return nil, fmt.Errorf("请求失败: %w", lastErr)
}

// EmbedSparseSingle 为单个文本生成稀疏向量嵌入。
func (p *Provider) EmbedSparseSingle(ctx context.Context, text string) (llm.SparseVector, error) {
	vectors, err := p.EmbedSparse(ctx, []string{text})
	if err != nil {
		return llm.SparseVector{}, err
	}
	if len(vectors) == 0 {
		return llm.SparseVector{}, fmt.Errorf("未返回稀疏向量嵌入")
	}
	return vectors[0], nil
}

// Ping 检查 fastembed 服务是否可用。
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
