package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
)

// EmbeddingCacheConfig 向量嵌入缓存配置。
type EmbeddingCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// DefaultEmbeddingCacheConfig 返回稠密嵌入缓存的默认配置。
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		Enabled:   true,
		TTL:       24 * time.Hour, // 同一文本的嵌入结果稳定，可以缓存较长时间
		KeyPrefix: "emb:",
	}
}

// DefaultSparseCacheConfig 返回稀疏嵌入缓存的默认配置。
func DefaultSparseCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		Enabled:   true,
		TTL:       24 * time.Hour,
		KeyPrefix: "semb:",
	}
}

// cacheKey 基于文本的 SHA256 哈希生成缓存键。
func cacheKey(prefix, text string) string {
	hash := sha256.Sum256([]byte(text))
	return prefix + hex.EncodeToString(hash[:])
}

// CachedEmbeddingProvider 为稠密嵌入供应商叠加 Redis 结果缓存。
// 缓存读写失败均不阻断请求，直接回落到底层供应商。
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	redis    *goredis.Client
	config   *EmbeddingCacheConfig
}

// NewCachedEmbeddingProvider 创建带缓存的稠密嵌入供应商。
func NewCachedEmbeddingProvider(
	provider EmbeddingProvider,
	redis *goredis.Client,
	config *EmbeddingCacheConfig,
) *CachedEmbeddingProvider {
	if config == nil {
		config = DefaultEmbeddingCacheConfig()
	}
	return &CachedEmbeddingProvider{
		provider: provider,
		redis:    redis,
		config:   config,
	}
}

// EmbedSingle 生成单个文本的向量嵌入，优先命中缓存。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if !c.config.Enabled || c.redis == nil {
		return c.provider.EmbedSingle(ctx, text)
	}

	key := cacheKey(c.config.KeyPrefix, text)
	var cached []float32
	if cacheGet(ctx, c.redis, key, &cached) {
		return cached, nil
	}

	embedding, err := c.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	cacheSet(ctx, c.redis, key, embedding, c.config.TTL)
	return embedding, nil
}

// Embed 批量生成向量嵌入。命中的条目直接取缓存，
// 未命中的条目合并为一次底层批量调用后回填缓存。
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.config.Enabled || c.redis == nil {
		return c.provider.Embed(ctx, texts)
	}

	embeddings := make([][]float32, len(texts))
	var missIndices []int
	var missTexts []string

	for i, text := range texts {
		var cached []float32
		if cacheGet(ctx, c.redis, cacheKey(c.config.KeyPrefix, text), &cached) {
			embeddings[i] = cached
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		logger.Debugw("all embeddings served from cache", "total", len(texts))
		return embeddings, nil
	}

	logger.Debugw("embedding cache misses", "total", len(texts), "misses", len(missTexts))
	computed, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIndices {
		embeddings[idx] = computed[i]
		cacheSet(ctx, c.redis, cacheKey(c.config.KeyPrefix, missTexts[i]), computed[i], c.config.TTL)
	}
	return embeddings, nil
}

// Name 返回底层供应商的名称。
func (c *CachedEmbeddingProvider) Name() string {
	return c.provider.Name() + "-cached"
}

// CachedSparseProvider 为稀疏嵌入供应商叠加 Redis 结果缓存。
type CachedSparseProvider struct {
	provider SparseEmbeddingProvider
	redis    *goredis.Client
	config   *EmbeddingCacheConfig
}

// NewCachedSparseProvider 创建带缓存的稀疏嵌入供应商。
func NewCachedSparseProvider(
	provider SparseEmbeddingProvider,
	redis *goredis.Client,
	config *EmbeddingCacheConfig,
) *CachedSparseProvider {
	if config == nil {
		config = DefaultSparseCacheConfig()
	}
	return &CachedSparseProvider{
		provider: provider,
		redis:    redis,
		config:   config,
	}
}

// EmbedSparseSingle 生成单个文本的稀疏向量，优先命中缓存。
func (c *CachedSparseProvider) EmbedSparseSingle(ctx context.Context, text string) (SparseVector, error) {
	if !c.config.Enabled || c.redis == nil {
		return c.provider.EmbedSparseSingle(ctx, text)
	}

	key := cacheKey(c.config.KeyPrefix, text)
	var cached SparseVector
	if cacheGet(ctx, c.redis, key, &cached) {
		return cached, nil
	}

	vector, err := c.provider.EmbedSparseSingle(ctx, text)
	if err != nil {
		return SparseVector{}, err
	}
	cacheSet(ctx, c.redis, key, vector, c.config.TTL)
	return vector, nil
}

// EmbedSparse 批量生成稀疏向量，未命中的条目合并为一次底层调用。
func (c *CachedSparseProvider) EmbedSparse(ctx context.Context, texts []string) ([]SparseVector, error) {
	if !c.config.Enabled || c.redis == nil {
		return c.provider.EmbedSparse(ctx, texts)
	}

	vectors := make([]SparseVector, len(texts))
	var missIndices []int
	var missTexts []string

	for i, text := range texts {
		var cached SparseVector
		if cacheGet(ctx, c.redis, cacheKey(c.config.KeyPrefix, text), &cached) {
			vectors[i] = cached
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	computed, err := c.provider.EmbedSparse(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIndices {
		vectors[idx] = computed[i]
		cacheSet(ctx, c.redis, cacheKey(c.config.KeyPrefix, missTexts[i]), computed[i], c.config.TTL)
	}
	return vectors, nil
}

// Name 返回底层供应商的名称。
func (c *CachedSparseProvider) Name() string {
	return c.provider.Name() + "-cached"
}

// cacheGet 读取并反序列化缓存项。命中返回 true，
// 损坏的缓存项会被删除，Redis 错误只记录日志。
func cacheGet(ctx context.Context, redis *goredis.Client, key string, out any) bool {
	data, err := redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Warnw("embedding cache read failed", "error", err.Error(), "key", key)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Warnw("corrupt embedding cache entry, deleting", "error", err.Error(), "key", key)
		_ = redis.Del(ctx, key).Err()
		return false
	}
	return true
}

// cacheSet 序列化并写入缓存项。任何失败只记录日志，不影响调用结果。
func cacheSet(ctx context.Context, redis *goredis.Client, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warnw("embedding cache marshal failed", "error", err.Error(), "key", key)
		return
	}
	if err := redis.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Warnw("embedding cache write failed", "error", err.Error(), "key", key)
	}
}

// 确保缓存包装器实现了对应接口。
var (
	_ EmbeddingProvider       = (*CachedEmbeddingProvider)(nil)
	_ SparseEmbeddingProvider = (*CachedSparseProvider)(nil)
)
