package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/pkg/rag/textutil"
	"github.com/kart-io/nexus/internal/rag/store"
	"github.com/kart-io/nexus/pkg/llm"
)

// provenanceTextLimit 溯源条目正文的最大字符数。
const provenanceTextLimit = 500

// Service 定义查询侧的服务接口。
type Service interface {
	// Query 执行一次完整的管线查询。
	Query(ctx context.Context, team, sessionID, question string) (*model.QueryResult, error)
	// StreamQuery 流式执行查询，文本增量通过 onDelta 回调送出。
	StreamQuery(ctx context.Context, team, sessionID, question string, onDelta func(string) error) (*model.QueryResult, error)
	// ClearSession 清除会话记忆。
	ClearSession(ctx context.Context, sessionID string) error
	// Stats 返回团队知识库统计。
	Stats(ctx context.Context, team string) (*model.TeamStats, error)
}

// QueryService 编排完整的查询管线：
// 守护检查、身份短路、语义路由、查询改写、混合检索、
// 父块扩展、重排、上下文拼装、引用约束生成与引用后处理。
type QueryService struct {
	guardrails *Guardrails
	semRouter  *SemanticRouter
	rewriter   *Rewriter
	retriever  *Retriever
	expander   *Expander
	reranker   *Reranker
	assembler  *Assembler
	generator  *Generator

	vectorStore  store.VectorStore
	sessionStore store.SessionStore

	embedProvider  llm.EmbeddingProvider
	sparseProvider llm.SparseEmbeddingProvider
	chatProvider   llm.ChatProvider
	rerankProvider llm.RerankProvider
}

// QueryServiceConfig 查询服务配置。
type QueryServiceConfig struct {
	Router    *SemanticRouterConfig
	Retriever *RetrieverConfig
	Reranker  *RerankerConfig
	Assembler *AssemblerConfig
}

// NewQueryService 创建查询服务实例。
func NewQueryService(
	vectorStore store.VectorStore,
	parentStore store.ParentStore,
	parentCache store.ParentCache,
	sessionStore store.SessionStore,
	embedProvider llm.EmbeddingProvider,
	sparseProvider llm.SparseEmbeddingProvider,
	chatProvider llm.ChatProvider,
	rerankProvider llm.RerankProvider,
	config *QueryServiceConfig,
) *QueryService {
	return &QueryService{
		guardrails:     NewGuardrails(),
		semRouter:      NewSemanticRouter(embedProvider, config.Router),
		rewriter:       NewRewriter(chatProvider),
		retriever:      NewRetriever(vectorStore, embedProvider, sparseProvider, config.Retriever),
		expander:       NewExpander(parentStore, parentCache),
		reranker:       NewReranker(rerankProvider, config.Reranker),
		assembler:      NewAssembler(config.Assembler),
		generator:      NewGenerator(chatProvider),
		vectorStore:    vectorStore,
		sessionStore:   sessionStore,
		embedProvider:  embedProvider,
		sparseProvider: sparseProvider,
		chatProvider:   chatProvider,
		rerankProvider: rerankProvider,
	}
}

// Query 执行一次完整的管线查询并在成功后写入会话。
func (s *QueryService) Query(ctx context.Context, team, sessionID, question string) (*model.QueryResult, error) {
	return s.run(ctx, team, sessionID, question, nil)
}

// StreamQuery 流式执行查询。文本增量通过 onDelta 送出，
// 完整结果（含溯源）在流结束后返回，会话写入发生在流完成之后。
func (s *QueryService) StreamQuery(ctx context.Context, team, sessionID, question string, onDelta func(string) error) (*model.QueryResult, error) {
	if onDelta == nil {
		return nil, fmt.Errorf("%w: stream callback is required", ErrBadRequest)
	}
	return s.run(ctx, team, sessionID, question, onDelta)
}

// run 是同步与流式查询的共同主干。onDelta 为 nil 时走同步生成。
func (s *QueryService) run(ctx context.Context, team, sessionID, question string, onDelta func(string) error) (*model.QueryResult, error) {
	start := time.Now()

	// 输入守护：被拦截的请求返回固定话术且不写会话，
	// 通过后以清洗后的文本进入后续管线
	sanitized, ok, refusal := s.guardrails.CheckInput(question)
	if !ok {
		if onDelta != nil {
			if err := onDelta(refusal); err != nil {
				return nil, err
			}
		}
		return &model.QueryResult{Answer: refusal}, nil
	}
	question = sanitized

	// 身份短路：固定回答，写入会话
	if s.guardrails.IsIdentityQuestion(question) {
		if onDelta != nil {
			if err := onDelta(IdentityAnswer); err != nil {
				return nil, err
			}
		}
		s.writeSession(ctx, sessionID, question, IdentityAnswer)
		return &model.QueryResult{Answer: IdentityAnswer}, nil
	}

	history := s.loadHistory(ctx, sessionID)

	if route := s.semRouter.Route(ctx, question); route == RouteChat {
		return s.runChat(ctx, sessionID, question, history, onDelta)
	}

	exists, err := s.vectorStore.HasCollection(ctx, team)
	if err != nil {
		return nil, fmt.Errorf("%w: check collection: %v", ErrDependencyUnavailable, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: team %q has no ingested documents", ErrTeamNotFound, team)
	}

	// 查询改写：上下文化 + HyDE
	standalone := s.rewriter.Contextualize(ctx, history, question)
	passage := s.rewriter.Hypothesize(ctx, standalone)

	children, err := s.retriever.Retrieve(ctx, team, standalone, passage)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		if onDelta != nil {
			if err := onDelta(NotInDocumentsAnswer); err != nil {
				return nil, err
			}
		}
		s.writeSession(ctx, sessionID, question, NotInDocumentsAnswer)
		return &model.QueryResult{Answer: NotInDocumentsAnswer}, nil
	}

	parents := s.expander.Expand(ctx, team, children)
	reranked := s.reranker.Rerank(ctx, standalone, parents)
	docContext := s.assembler.Assemble(reranked)

	var answer string
	if onDelta != nil {
		answer, err = s.generator.Stream(ctx, standalone, docContext, onDelta)
	} else {
		answer, err = s.generator.Generate(ctx, standalone, docContext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	primarySource := ""
	if len(reranked) > 0 {
		primarySource = reranked[0].FileName
	}
	answer = EnforceCitations(answer, primarySource)
	answer = s.guardrails.CheckOutput(answer)

	result := &model.QueryResult{
		Answer:     answer,
		Provenance: buildProvenance(reranked),
	}
	s.writeSession(ctx, sessionID, question, answer)

	logger.Infow("query completed",
		"team", team, "route", RouteRAG,
		"candidates", len(children), "sources", len(result.Provenance),
		"duration", time.Since(start).String())
	return result, nil
}

// runChat 闲聊路径：不检索、不引用、溯源为空。
func (s *QueryService) runChat(ctx context.Context, sessionID, question string, history []model.SessionTurn, onDelta func(string) error) (*model.QueryResult, error) {
	var answer string
	var err error
	if onDelta != nil {
		answer, err = s.generator.StreamChat(ctx, history, question, onDelta)
	} else {
		answer, err = s.generator.GenerateChat(ctx, history, question)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	answer = s.guardrails.CheckOutput(answer)
	s.writeSession(ctx, sessionID, question, answer)

	logger.Infow("query completed", "route", RouteChat)
	return &model.QueryResult{Answer: answer}, nil
}

// ClearSession 清除会话记忆。
func (s *QueryService) ClearSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrBadRequest)
	}
	return s.sessionStore.Clear(ctx, sessionID)
}

// Stats 返回团队的子块数量与各提供方名称。
func (s *QueryService) Stats(ctx context.Context, team string) (*model.TeamStats, error) {
	exists, err := s.vectorStore.HasCollection(ctx, team)
	if err != nil {
		return nil, fmt.Errorf("%w: check collection: %v", ErrDependencyUnavailable, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: team %q has no ingested documents", ErrTeamNotFound, team)
	}

	count, err := s.vectorStore.Stats(ctx, team)
	if err != nil {
		return nil, fmt.Errorf("collection stats: %w", err)
	}

	return &model.TeamStats{
		Team:              team,
		ChildChunks:       count,
		EmbeddingProvider: s.embedProvider.Name(),
		SparseProvider:    s.sparseProvider.Name(),
		ChatProvider:      s.chatProvider.Name(),
		RerankProvider:    s.rerankProvider.Name(),
	}, nil
}

// loadHistory 读取会话历史。读取失败按空历史处理，不阻断请求。
func (s *QueryService) loadHistory(ctx context.Context, sessionID string) []model.SessionTurn {
	if sessionID == "" {
		return nil
	}
	history, err := s.sessionStore.History(ctx, sessionID)
	if err != nil {
		logger.Warnw("session history unavailable", "session", sessionID, "error", err.Error())
		return nil
	}
	return history
}

// writeSession 在请求成功完成后写入一轮对话。写入失败只记录日志。
func (s *QueryService) writeSession(ctx context.Context, sessionID, question, answer string) {
	if sessionID == "" {
		return
	}
	err := s.sessionStore.Append(ctx, sessionID,
		model.SessionTurn{Role: model.RoleUser, Content: question},
		model.SessionTurn{Role: model.RoleAssistant, Content: answer},
	)
	if err != nil {
		logger.Warnw("session write failed", "session", sessionID, "error", err.Error())
	}
}

// buildProvenance 从重排结果构建溯源条目，过长的正文截断并追加省略号。
func buildProvenance(parents []model.ScoredParent) []model.Provenance {
	provenance := make([]model.Provenance, len(parents))
	for i, p := range parents {
		provenance[i] = model.Provenance{
			FileName: p.FileName,
			Text:     textutil.Ellipsize(p.Text, provenanceTextLimit),
			Page:     p.Page,
			Score:    p.Score,
		}
	}
	return provenance
}

// 确保 QueryService 实现了 Service 接口。
var _ Service = (*QueryService)(nil)
