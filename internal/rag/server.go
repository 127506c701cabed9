package ragsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/nexus/internal/rag/biz"
	"github.com/kart-io/nexus/internal/rag/handler"
	"github.com/kart-io/nexus/internal/rag/router"
	"github.com/kart-io/nexus/internal/rag/store"
	"github.com/kart-io/nexus/pkg/llm"
	"github.com/kart-io/nexus/pkg/llm/resilience"

	// 注册内置的供应商工厂。
	_ "github.com/kart-io/nexus/pkg/llm/fastembed"
	_ "github.com/kart-io/nexus/pkg/llm/huggingface"
	_ "github.com/kart-io/nexus/pkg/llm/ollama"
)

// Config 是经过校验的运行时配置。
type Config struct {
	*Options
}

// Server 持有 HTTP 服务与需要随之关闭的连接。
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration

	milvusStore *store.MilvusStore
	parentStore *store.PostgresParentStore
	redisClient *goredis.Client
}

// NewServer 按依赖顺序装配服务：
// 日志、存储、供应商、业务层、HTTP 层。
func (c *Config) NewServer(ctx context.Context) (*Server, error) {
	if err := c.Log.Init(); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("Initializing RAG server...")

	milvusStore, err := store.NewMilvusStore(ctx, &store.MilvusConfig{
		Address:  c.Milvus.Address,
		Username: c.Milvus.Username,
		Password: c.Milvus.Password,
		Database: c.Milvus.Database,
		Timeout:  c.Milvus.Timeout,
		DenseDim: c.Pipeline.DenseDim,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	parentStore, err := store.NewPostgresParentStore(ctx, &store.PostgresConfig{
		Host:                  c.Postgres.Host,
		Port:                  c.Postgres.Port,
		Username:              c.Postgres.Username,
		Password:              c.Postgres.Password,
		Database:              c.Postgres.Database,
		SSLMode:               c.Postgres.SSLMode,
		MaxIdleConnections:    c.Postgres.MaxIdleConnections,
		MaxOpenConnections:    c.Postgres.MaxOpenConnections,
		MaxConnectionLifeTime: c.Postgres.MaxConnectionLifeTime,
	})
	if err != nil {
		_ = milvusStore.Close(ctx)
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port),
		Password:     c.Redis.Password,
		DB:           c.Redis.Database,
		MaxRetries:   c.Redis.MaxRetries,
		PoolSize:     c.Redis.PoolSize,
		MinIdleConns: c.Redis.MinIdleConns,
		DialTimeout:  c.Redis.DialTimeout,
		ReadTimeout:  c.Redis.ReadTimeout,
		WriteTimeout: c.Redis.WriteTimeout,
		PoolTimeout:  c.Redis.PoolTimeout,
	})

	parentCache := store.NewRedisParentCache(redisClient, &store.RedisCacheConfig{
		TTL:       c.Pipeline.CacheTTL,
		KeyPrefix: "nexus:parent:",
	})
	sessionStore := store.NewRedisSessionStore(redisClient, &store.RedisSessionConfig{
		TTL:       c.Pipeline.SessionTTL,
		MaxTurns:  c.Pipeline.SessionMaxTurns,
		KeyPrefix: "nexus:session:",
	})

	providers, err := c.buildProviders(redisClient)
	if err != nil {
		_ = milvusStore.Close(ctx)
		_ = redisClient.Close()
		return nil, err
	}

	ingestor := biz.NewIngestor(
		milvusStore, parentStore, parentCache,
		providers.embed, providers.sparse,
		&biz.IngestorConfig{
			ParentChunkSize:    c.Pipeline.ParentChunkSize,
			ParentChunkOverlap: c.Pipeline.ParentChunkOverlap,
			ChildChunkSize:     c.Pipeline.ChildChunkSize,
			ChildChunkOverlap:  c.Pipeline.ChildChunkOverlap,
		},
	)
	queryService := biz.NewQueryService(
		milvusStore, parentStore, parentCache, sessionStore,
		providers.embed, providers.sparse, providers.chat, providers.rerank,
		&biz.QueryServiceConfig{
			Router:    &biz.SemanticRouterConfig{ChatThreshold: c.Pipeline.ChatThreshold},
			Retriever: &biz.RetrieverConfig{TopKChildren: c.Pipeline.TopKChildren},
			Reranker:  &biz.RerankerConfig{TopK: c.Pipeline.RerankTopK},
			Assembler: &biz.AssemblerConfig{MaxContextTokens: c.Pipeline.MaxContextTokens},
		},
	)

	ragHandler := handler.NewRAGHandler(queryService, ingestor)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	deps := map[string]router.HealthChecker{
		"milvus":   milvusStore,
		"postgres": parentStore,
		"redis":    redisHealth{client: redisClient},
	}
	for name, p := range providers.pingable {
		deps[name] = p
	}
	router.Register(engine, ragHandler, deps)

	return &Server{
		httpServer: &http.Server{
			Addr:              c.HTTP.Addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: c.HTTP.ShutdownTimeout,
		milvusStore:     milvusStore,
		parentStore:     parentStore,
		redisClient:     redisClient,
	}, nil
}

// providerSet 是装配好的四类模型供应商。
type providerSet struct {
	embed  llm.EmbeddingProvider
	sparse llm.SparseEmbeddingProvider
	chat   llm.ChatProvider
	rerank llm.RerankProvider

	// pingable 收集支持健康探测的原始供应商。
	pingable map[string]router.HealthChecker
}

// buildProviders 通过注册表创建供应商并套上韧性与缓存包装。
func (c *Config) buildProviders(redisClient *goredis.Client) (*providerSet, error) {
	embed, err := llm.NewEmbeddingProvider(c.Embedding.Provider, c.Embedding.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}
	sparse, err := llm.NewSparseEmbeddingProvider(c.Sparse.Provider, c.Sparse.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("create sparse embedding provider: %w", err)
	}
	chat, err := llm.NewChatProvider(c.Chat.Provider, c.Chat.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("create chat provider: %w", err)
	}
	rerank, err := llm.NewRerankProvider(c.Rerank.Provider, c.Rerank.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("create rerank provider: %w", err)
	}

	pingable := make(map[string]router.HealthChecker)
	for name, p := range map[string]any{
		"embedding": embed,
		"sparse":    sparse,
		"chat":      chat,
		"rerank":    rerank,
	} {
		if hc, ok := p.(router.HealthChecker); ok {
			pingable[name] = hc
		}
	}

	// 稠密嵌入叠加重试熔断与 Redis 结果缓存，稀疏嵌入叠加结果缓存，
	// 对话调用叠加重试熔断
	resilientEmbed := resilience.NewResilientEmbeddingProvider(embed, nil, nil)
	cachedEmbed := llm.NewCachedEmbeddingProvider(resilientEmbed, redisClient, nil)
	cachedSparse := llm.NewCachedSparseProvider(sparse, redisClient, nil)
	resilientChat := resilience.NewResilientChatProvider(chat, nil, nil)

	logger.Infow("LLM providers ready",
		"embedding", embed.Name(), "sparse", sparse.Name(),
		"chat", chat.Name(), "rerank", rerank.Name())

	return &providerSet{
		embed:    cachedEmbed,
		sparse:   cachedSparse,
		chat:     resilientChat,
		rerank:   rerank,
		pingable: pingable,
	}, nil
}

// redisHealth 将 Redis 客户端适配为健康检查依赖。
type redisHealth struct {
	client *goredis.Client
}

func (h redisHealth) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// requestLogger 记录每个请求的方法、路径、状态码与耗时。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Infow("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// Run 启动 HTTP 服务并在 ctx 取消后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("http shutdown failed", "error", err.Error())
	}
	if err := s.milvusStore.Close(shutdownCtx); err != nil {
		logger.Warnw("milvus close failed", "error", err.Error())
	}
	if err := s.parentStore.Close(); err != nil {
		logger.Warnw("postgres close failed", "error", err.Error())
	}
	if err := s.redisClient.Close(); err != nil {
		logger.Warnw("redis close failed", "error", err.Error())
	}

	logger.Info("Server stopped")
	return nil
}
