package biz_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kart-io/nexus/internal/rag/biz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerEmptyInput(t *testing.T) {
	c := biz.NewChunker(&biz.ChunkerConfig{ChunkSize: 100, ChunkOverlap: 10})
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\n  "))
}

func TestChunkerShortTextSingleChunk(t *testing.T) {
	c := biz.NewChunker(&biz.ChunkerConfig{ChunkSize: 100, ChunkOverlap: 10})
	chunks := c.Split("a short paragraph")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short paragraph", chunks[0])
}

func TestChunkerRespectsSizeLimit(t *testing.T) {
	c := biz.NewChunker(&biz.ChunkerConfig{ChunkSize: 50, ChunkOverlap: 10})

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("This is sentence number one. ")
	}
	chunks := c.Split(b.String())

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 50, "chunk exceeds size limit: %q", chunk)
	}
}

func TestChunkerPrefersParagraphBoundaries(t *testing.T) {
	c := biz.NewChunker(&biz.ChunkerConfig{ChunkSize: 40, ChunkOverlap: 0})

	text := "first paragraph here\n\nsecond paragraph here\n\nthird paragraph here"
	chunks := c.Split(text)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.NotContains(t, chunk, "\n\n", "paragraph boundary should separate chunks")
	}
	assert.Contains(t, chunks[0], "first paragraph")
}

func TestChunkerOverlapCarriesContext(t *testing.T) {
	c := biz.NewChunker(&biz.ChunkerConfig{ChunkSize: 60, ChunkOverlap: 20})

	text := strings.Repeat("alpha beta gamma delta epsilon zeta. ", 10)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	// 相邻块之间应有共享文本
	overlapped := 0
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1])
		if len(prevWords) == 0 {
			continue
		}
		lastWord := prevWords[len(prevWords)-1]
		if strings.Contains(chunks[i], lastWord) {
			overlapped++
		}
	}
	assert.Greater(t, overlapped, 0)
}

func TestChunkerHardSplitWithoutSeparators(t *testing.T) {
	c := biz.NewChunker(&biz.ChunkerConfig{ChunkSize: 10, ChunkOverlap: 2})

	text := strings.Repeat("x", 35)
	chunks := c.Split(text)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 10)
	}
	// 全部内容必须被覆盖
	assert.Contains(t, strings.Join(chunks, ""), "xxxxxxxxxx")
}

func TestChunkerRecursesIntoOversizedParagraph(t *testing.T) {
	c := biz.NewChunker(&biz.ChunkerConfig{ChunkSize: 30, ChunkOverlap: 5})

	long := strings.Repeat("word ", 20) // 一个 100 字符的段落，无段落分隔符
	text := "short intro\n\n" + long
	chunks := c.Split(text)

	require.Greater(t, len(chunks), 2)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 30)
	}
}

func TestChunkerInvalidOverlapNormalized(t *testing.T) {
	// 重叠大于等于块大小时自动归一化，不应 panic 或死循环
	c := biz.NewChunker(&biz.ChunkerConfig{ChunkSize: 20, ChunkOverlap: 25})
	chunks := c.Split(strings.Repeat("a b c d e ", 10))
	assert.NotEmpty(t, chunks)
}
