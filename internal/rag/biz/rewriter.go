package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/pkg/llm"
)

const contextualizePrompt = `Given a chat history and the latest user question which might reference context in the chat history, formulate a standalone question which can be understood without the chat history. Do NOT answer the question, just reformulate it if needed and otherwise return it as is.

Chat history:
%s

Latest question: %s

Standalone question:`

const hydePrompt = `Write a short passage that could appear in a technical document and that directly answers the following question. Output only the passage, nothing else.

Question: %s

Passage:`

// historyWindow 构建独立问题时考虑的最近轮次数。
const historyWindow = 6

// Rewriter 负责查询改写：基于会话历史的上下文化与 HyDE 假设文档生成。
type Rewriter struct {
	chatProvider llm.ChatProvider
}

// NewRewriter 创建改写器实例。
func NewRewriter(chatProvider llm.ChatProvider) *Rewriter {
	return &Rewriter{chatProvider: chatProvider}
}

// Contextualize 将问题改写为不依赖会话历史的独立问题。
// 历史为空时直接返回原问题，不调用 LLM；改写失败时回退到原问题。
func (r *Rewriter) Contextualize(ctx context.Context, history []model.SessionTurn, question string) string {
	if len(history) == 0 {
		return question
	}

	prompt := fmt.Sprintf(contextualizePrompt, FormatHistory(history), question)
	rewritten, err := r.chatProvider.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		logger.Warnw("contextualization failed, using raw question", "error", err.Error())
		return question
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return question
	}
	logger.Debugw("question contextualized", "original", question, "standalone", rewritten)
	return rewritten
}

// Hypothesize 为问题生成假设答案段落（HyDE），检索时嵌入该段落而非问题本身。
// 生成失败时回退到问题文本。
func (r *Rewriter) Hypothesize(ctx context.Context, question string) string {
	passage, err := r.chatProvider.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(hydePrompt, question)},
	})
	if err != nil {
		logger.Warnw("hyde generation failed, using question text", "error", err.Error())
		return question
	}

	passage = strings.TrimSpace(passage)
	if passage == "" {
		return question
	}
	return passage
}

// FormatHistory 将最近的会话轮次渲染为可读文本。
// 空历史返回固定占位文本。
func FormatHistory(history []model.SessionTurn) string {
	if len(history) == 0 {
		return "No previous conversation."
	}

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	var b strings.Builder
	for _, turn := range history {
		switch turn.Role {
		case model.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
