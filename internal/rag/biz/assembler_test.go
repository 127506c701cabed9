package biz_test

import (
	"strings"
	"testing"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/rag/biz"
	"github.com/stretchr/testify/assert"
)

func scoredParentNoPage(id, text, file string, score float64) model.ScoredParent {
	return model.ScoredParent{
		ParentChunk: model.ParentChunk{ID: id, Text: text, FileName: file},
		Score:       score,
	}
}

func TestAssembleFormatsBlocks(t *testing.T) {
	a := biz.NewAssembler(&biz.AssemblerConfig{MaxContextTokens: 2500})

	got := a.Assemble([]model.ScoredParent{
		scoredParentNoPage("p1", "first parent text", "a.md", 0.9),
		scoredParentNoPage("p2", "second parent text", "b.md", 0.8),
	})

	assert.Equal(t,
		"[Source: a.md]\nfirst parent text\n\n---\n\n[Source: b.md]\nsecond parent text",
		got)
}

func TestAssembleIncludesPageWhenKnown(t *testing.T) {
	a := biz.NewAssembler(&biz.AssemblerConfig{MaxContextTokens: 2500})

	got := a.Assemble([]model.ScoredParent{
		scoredParent("p1", "refund terms", "policy.pdf", 0.9),
	})

	assert.Equal(t, "[Source: policy.pdf, Page 1]\nrefund terms", got)
}

func TestAssembleEmptyInput(t *testing.T) {
	a := biz.NewAssembler(&biz.AssemblerConfig{MaxContextTokens: 2500})
	assert.Equal(t, "", a.Assemble(nil))
}

func TestAssembleTruncatesWithinBudget(t *testing.T) {
	// 预算 25 token = 100 字符
	a := biz.NewAssembler(&biz.AssemblerConfig{MaxContextTokens: 25})

	got := a.Assemble([]model.ScoredParent{
		scoredParentNoPage("p1", strings.Repeat("x", 300), "a.md", 0.9),
	})

	assert.True(t, strings.HasSuffix(got, "\n\n[Context truncated due to length...]"))
	// 截断提示计入预算，总长度绝不超过 100 字符
	assert.LessOrEqual(t, len(got), 100)
	assert.True(t, strings.HasPrefix(got, "[Source: a.md]\n"))
}

func TestAssembleBudgetCoversMarkerAcrossBlocks(t *testing.T) {
	a := biz.NewAssembler(&biz.AssemblerConfig{MaxContextTokens: 25})

	got := a.Assemble([]model.ScoredParent{
		scoredParentNoPage("p1", strings.Repeat("x", 60), "a.md", 0.9),
		scoredParentNoPage("p2", strings.Repeat("y", 60), "b.md", 0.8),
	})

	assert.LessOrEqual(t, len(got), 100)
	assert.True(t, strings.HasSuffix(got, "[Context truncated due to length...]"))
	// 第二块的来源行完整出现或整块被丢弃，绝不出现截断的来源行
	if strings.Contains(got, "b.md") {
		assert.Contains(t, got, "[Source: b.md]\n")
	}
}

func TestAssembleDropsBlockWhenHeaderWouldNotFit(t *testing.T) {
	// 预算 30 token = 120 字符，预留截断提示后剩 82。
	// 首块 "[Source: a.md]\n" + 67 个字符恰好吃满，第二块整块丢弃。
	a := biz.NewAssembler(&biz.AssemblerConfig{MaxContextTokens: 30})

	first := strings.Repeat("x", 67)
	got := a.Assemble([]model.ScoredParent{
		scoredParentNoPage("p1", first, "a.md", 0.9),
		scoredParentNoPage("p2", strings.Repeat("y", 40), "b.md", 0.8),
	})

	assert.NotContains(t, got, "b.md")
	assert.Contains(t, got, first)
	assert.True(t, strings.HasSuffix(got, "[Context truncated due to length...]"))
	assert.LessOrEqual(t, len(got), 120)
}

func TestAssembleNoMarkerWhenEverythingFits(t *testing.T) {
	a := biz.NewAssembler(&biz.AssemblerConfig{MaxContextTokens: 2500})
	got := a.Assemble([]model.ScoredParent{scoredParentNoPage("p1", "short", "a.md", 0.9)})
	assert.NotContains(t, got, "[Context truncated")
}
