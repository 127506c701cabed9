package biz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/rag/biz"
	"github.com/stretchr/testify/assert"
)

func TestContextualizeSkipsLLMWithoutHistory(t *testing.T) {
	chat := newFakeChat("should not be called")
	r := biz.NewRewriter(chat)

	got := r.Contextualize(context.Background(), nil, "what about retries?")

	assert.Equal(t, "what about retries?", got)
	assert.Empty(t, chat.requests, "no LLM call expected for empty history")
}

func TestContextualizeRewritesWithHistory(t *testing.T) {
	chat := newFakeChat("")
	chat.responses["what about retries?"] = "What is the retry policy of the ingestion service?"
	r := biz.NewRewriter(chat)

	history := []model.SessionTurn{
		{Role: model.RoleUser, Content: "tell me about the ingestion service"},
		{Role: model.RoleAssistant, Content: "It ingests documents..."},
	}
	got := r.Contextualize(context.Background(), history, "what about retries?")

	assert.Equal(t, "What is the retry policy of the ingestion service?", got)
}

func TestContextualizeFallsBackOnError(t *testing.T) {
	chat := newFakeChat("")
	chat.err = errors.New("llm down")
	r := biz.NewRewriter(chat)

	history := []model.SessionTurn{{Role: model.RoleUser, Content: "hi"}}
	got := r.Contextualize(context.Background(), history, "what about retries?")

	assert.Equal(t, "what about retries?", got)
}

func TestHypothesizeReturnsPassage(t *testing.T) {
	chat := newFakeChat("")
	chat.responses["retry policy"] = "The ingestion service retries failed batches three times with backoff."
	r := biz.NewRewriter(chat)

	got := r.Hypothesize(context.Background(), "what is the retry policy?")
	assert.Contains(t, got, "retries failed batches")
}

func TestHypothesizeFallsBackToQuestion(t *testing.T) {
	chat := newFakeChat("")
	chat.err = errors.New("llm down")
	r := biz.NewRewriter(chat)

	got := r.Hypothesize(context.Background(), "what is the retry policy?")
	assert.Equal(t, "what is the retry policy?", got)
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "No previous conversation.", biz.FormatHistory(nil))

	history := []model.SessionTurn{
		{Role: model.RoleUser, Content: "q1"},
		{Role: model.RoleAssistant, Content: "a1"},
	}
	assert.Equal(t, "User: q1\nAssistant: a1", biz.FormatHistory(history))
}

func TestFormatHistoryKeepsOnlyRecentTurns(t *testing.T) {
	var history []model.SessionTurn
	for i := 0; i < 10; i++ {
		history = append(history,
			model.SessionTurn{Role: model.RoleUser, Content: "old"},
		)
	}
	history = append(history, model.SessionTurn{Role: model.RoleUser, Content: "newest"})

	formatted := biz.FormatHistory(history)
	assert.Contains(t, formatted, "newest")
	// 窗口为 6 轮
	assert.Equal(t, 6, len(splitLines(formatted)))
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}
