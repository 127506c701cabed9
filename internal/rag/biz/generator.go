package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/pkg/llm"
)

// citationSystemPrompt 引用约束生成的系统提示词，%s 为拼装后的上下文。
const citationSystemPrompt = `You are NEXUS, a precise document assistant. Answer questions using ONLY the Context below.

CRITICAL RULES:
1. Answer the question directly in your first sentence.
2. Use ONLY information that appears in the Context. Never add outside knowledge.
3. When possible, QUOTE exact text from the documents.
4. Cite every claim: [Source: filename]
5. If you cannot find the answer in the Context, say: "This information is not in the provided documents."

FORBIDDEN:
- Do NOT infer, assume, or expand beyond what the documents say.
- Do NOT add helpful context from your training data.

Context:
%s`

// chatSystemPrompt 闲聊路径的系统提示词，不注入检索上下文。
const chatSystemPrompt = `You are NEXUS, a friendly and helpful document assistant.
Your goal is to chat naturally with the user, answer general questions, and be polite.
If the user asks about specific documents or internal data, politely prompt them to ask
a concrete question about those topics so the relevant documents can be retrieved.`

// Generator 负责答案生成，覆盖引用约束的 rag 路径与无检索的闲聊路径。
type Generator struct {
	chatProvider llm.ChatProvider
}

// NewGenerator 创建生成器实例。
func NewGenerator(chatProvider llm.ChatProvider) *Generator {
	return &Generator{chatProvider: chatProvider}
}

// Generate 在引用约束下基于上下文生成完整答案。
func (g *Generator) Generate(ctx context.Context, question, docContext string) (string, error) {
	answer, err := g.chatProvider.Chat(ctx, ragMessages(question, docContext))
	if err != nil {
		return "", fmt.Errorf("answer generation: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// Stream 流式生成答案，增量通过 onDelta 回调送出。
// 返回拼接后的完整答案，供引用后处理与会话写入使用。
func (g *Generator) Stream(ctx context.Context, question, docContext string, onDelta func(string) error) (string, error) {
	var full strings.Builder
	err := g.chatProvider.ChatStream(ctx, ragMessages(question, docContext), func(delta string) error {
		full.WriteString(delta)
		return onDelta(delta)
	})
	if err != nil {
		return "", fmt.Errorf("streaming generation: %w", err)
	}
	return strings.TrimSpace(full.String()), nil
}

// GenerateChat 闲聊路径生成，不走检索。历史为空时只发当前消息。
func (g *Generator) GenerateChat(ctx context.Context, history []model.SessionTurn, question string) (string, error) {
	answer, err := g.chatProvider.Chat(ctx, chatMessages(history, question))
	if err != nil {
		return "", fmt.Errorf("chat generation: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// StreamChat 闲聊路径的流式生成。
func (g *Generator) StreamChat(ctx context.Context, history []model.SessionTurn, question string, onDelta func(string) error) (string, error) {
	var full strings.Builder
	err := g.chatProvider.ChatStream(ctx, chatMessages(history, question), func(delta string) error {
		full.WriteString(delta)
		return onDelta(delta)
	})
	if err != nil {
		return "", fmt.Errorf("streaming chat generation: %w", err)
	}
	return strings.TrimSpace(full.String()), nil
}

func ragMessages(question, docContext string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(citationSystemPrompt, docContext)},
		{Role: llm.RoleUser, Content: question},
	}
}

func chatMessages(history []model.SessionTurn, question string) []llm.Message {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: chatSystemPrompt}}
	if len(history) > 0 {
		messages = append(messages, llm.Message{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("Previous conversation:\n%s\n\nCurrent message: %s",
				FormatHistory(history), question),
		})
	} else {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})
	}
	return messages
}
