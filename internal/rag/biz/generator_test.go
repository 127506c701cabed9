package biz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/rag/biz"
	"github.com/kart-io/nexus/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInjectsContextIntoSystemPrompt(t *testing.T) {
	chat := newFakeChat("The retry policy is three attempts. [Source: ops.md]")
	g := biz.NewGenerator(chat)

	answer, err := g.Generate(context.Background(), "what is the retry policy?",
		"[Source: ops.md]\nretries are attempted three times")
	require.NoError(t, err)
	assert.Equal(t, "The retry policy is three attempts. [Source: ops.md]", answer)

	require.Len(t, chat.requests, 1)
	messages := chat.requests[0]
	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "retries are attempted three times")
	assert.Contains(t, messages[0].Content, "[Source: filename]")
	assert.Equal(t, "what is the retry policy?", messages[1].Content)
}

func TestGeneratePropagatesError(t *testing.T) {
	chat := newFakeChat("")
	chat.err = errors.New("ollama down")
	g := biz.NewGenerator(chat)

	_, err := g.Generate(context.Background(), "q", "ctx")
	assert.Error(t, err)
}

func TestStreamCollectsFullAnswer(t *testing.T) {
	chat := newFakeChat("streamed answer text")
	g := biz.NewGenerator(chat)

	var deltas []string
	answer, err := g.Stream(context.Background(), "q", "ctx", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "streamed answer text", answer)
	assert.Greater(t, len(deltas), 1, "answer arrives in multiple deltas")
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	chat := newFakeChat("streamed answer text")
	g := biz.NewGenerator(chat)

	sink := errors.New("client gone")
	_, err := g.Stream(context.Background(), "q", "ctx", func(string) error { return sink })
	assert.ErrorIs(t, err, sink)
}

func TestGenerateChatWithHistory(t *testing.T) {
	chat := newFakeChat("Hello again!")
	g := biz.NewGenerator(chat)

	history := []model.SessionTurn{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "Hello!"},
	}
	answer, err := g.GenerateChat(context.Background(), history, "hi again")
	require.NoError(t, err)
	assert.Equal(t, "Hello again!", answer)

	messages := chat.requests[0]
	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Content, "Previous conversation:")
	assert.Contains(t, messages[1].Content, "Current message: hi again")
}

func TestGenerateChatWithoutHistory(t *testing.T) {
	chat := newFakeChat("Hello!")
	g := biz.NewGenerator(chat)

	_, err := g.GenerateChat(context.Background(), nil, "hi")
	require.NoError(t, err)

	messages := chat.requests[0]
	require.Len(t, messages, 2)
	assert.Equal(t, "hi", messages[1].Content)
}
