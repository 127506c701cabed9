package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/nexus/internal/model"
)

// RedisCacheConfig 父块缓存配置。
type RedisCacheConfig struct {
	// TTL 缓存项过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// RedisParentCache 实现基于 Redis 的父块读穿缓存。
type RedisParentCache struct {
	redis  *goredis.Client
	config *RedisCacheConfig
}

// NewRedisParentCache 创建父块缓存实例。
func NewRedisParentCache(redis *goredis.Client, config *RedisCacheConfig) *RedisParentCache {
	if config == nil {
		config = &RedisCacheConfig{
			TTL:       24 * time.Hour,
			KeyPrefix: "nexus:parent:",
		}
	}
	return &RedisParentCache{redis: redis, config: config}
}

func (c *RedisParentCache) parentKey(team, parentID string) string {
	return c.config.KeyPrefix + team + ":" + parentID
}

// GetParent 从缓存获取父块。未命中返回 nil, nil。
func (c *RedisParentCache) GetParent(ctx context.Context, team, parentID string) (*model.ParentChunk, error) {
	data, err := c.redis.Get(ctx, c.parentKey(team, parentID)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get parent from cache: %w", err)
	}

	var parent model.ParentChunk
	if err := json.Unmarshal(data, &parent); err != nil {
		// 损坏的缓存项直接删除，回源重建
		_ = c.redis.Del(ctx, c.parentKey(team, parentID)).Err()
		return nil, fmt.Errorf("failed to unmarshal cached parent: %w", err)
	}
	return &parent, nil
}

// SetParents 批量写入缓存。
func (c *RedisParentCache) SetParents(ctx context.Context, team string, parents []model.ParentChunk) error {
	if len(parents) == 0 {
		return nil
	}

	pipe := c.redis.Pipeline()
	for _, p := range parents {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal parent %s: %w", p.ID, err)
		}
		pipe.Set(ctx, c.parentKey(team, p.ID), data, c.config.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache parents: %w", err)
	}
	return nil
}

// DeleteByIDs 按 ID 批量删除缓存项。
func (c *RedisParentCache) DeleteByIDs(ctx context.Context, team string, parentIDs []string) error {
	if len(parentIDs) == 0 {
		return nil
	}

	keys := make([]string, len(parentIDs))
	for i, id := range parentIDs {
		keys[i] = c.parentKey(team, id)
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cached parents: %w", err)
	}
	return nil
}

// 确保 RedisParentCache 实现了 ParentCache 接口。
var _ ParentCache = (*RedisParentCache)(nil)

// RedisSessionConfig 会话记忆配置。
type RedisSessionConfig struct {
	// TTL 会话过期时间，每次写入时刷新（滑动过期）。
	TTL time.Duration
	// MaxTurns 会话保留的最大轮次数。
	MaxTurns int
	// KeyPrefix 会话键前缀。
	KeyPrefix string
}

// RedisSessionStore 实现基于 Redis 的会话记忆。
// 会话以列表存储，从旧到新，超出 MaxTurns 时从头部裁剪。
type RedisSessionStore struct {
	redis  *goredis.Client
	config *RedisSessionConfig
}

// NewRedisSessionStore 创建会话记忆实例。
func NewRedisSessionStore(redis *goredis.Client, config *RedisSessionConfig) *RedisSessionStore {
	if config == nil {
		config = &RedisSessionConfig{
			TTL:       1 * time.Hour,
			MaxTurns:  20,
			KeyPrefix: "nexus:session:",
		}
	}
	return &RedisSessionStore{redis: redis, config: config}
}

func (s *RedisSessionStore) sessionKey(sessionID string) string {
	return s.config.KeyPrefix + sessionID
}

// Append 追加会话轮次，裁剪到最近 MaxTurns 轮并刷新 TTL。
func (s *RedisSessionStore) Append(ctx context.Context, sessionID string, turns ...model.SessionTurn) error {
	if len(turns) == 0 {
		return nil
	}
	key := s.sessionKey(sessionID)

	values := make([]any, len(turns))
	for i, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("failed to marshal session turn: %w", err)
		}
		values[i] = data
	}

	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.config.MaxTurns), -1)
	pipe.Expire(ctx, key, s.config.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append session turns: %w", err)
	}
	return nil
}

// History 返回会话历史，从旧到新。
func (s *RedisSessionStore) History(ctx context.Context, sessionID string) ([]model.SessionTurn, error) {
	items, err := s.redis.LRange(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}

	turns := make([]model.SessionTurn, 0, len(items))
	for _, item := range items {
		var turn model.SessionTurn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			logger.Warnw("skipping corrupt session turn", "session_id", sessionID, "error", err.Error())
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Clear 清除会话。
func (s *RedisSessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Ping 检查 Redis 是否可用。
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// 确保 RedisSessionStore 实现了 SessionStore 接口。
var _ SessionStore = (*RedisSessionStore)(nil)
