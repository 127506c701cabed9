package biz

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators 是递归分割的分隔符优先级，从粗到细。
// 空字符串表示最终回退到按字符硬切。
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// ChunkerConfig 分割器配置。大小与重叠均按 Unicode 字符计。
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// Chunker 实现递归字符分割。
// 优先在最粗的分隔符上切分，超限的片段递归使用更细的分隔符，
// 相邻片段按重叠窗口合并回目标大小。
type Chunker struct {
	config     *ChunkerConfig
	separators []string
}

// NewChunker 创建分割器实例。
func NewChunker(config *ChunkerConfig) *Chunker {
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 10
	}
	return &Chunker{
		config:     config,
		separators: DefaultSeparators,
	}
}

// Split 将文本分割为重叠的块。空白输入返回 nil。
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.splitRecursive(text, c.separators)
}

func (c *Chunker) splitRecursive(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= c.config.ChunkSize {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	// 选择文本中出现的最粗分隔符
	sep := ""
	var rest []string
	for i, s := range separators {
		if s == "" {
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return c.hardSplit(text)
	}

	var chunks []string
	var pending []string

	for _, piece := range strings.Split(text, sep) {
		if utf8.RuneCountInString(piece) < c.config.ChunkSize {
			pending = append(pending, piece)
			continue
		}
		// 片段本身超限：先合并已积累的片段，再递归处理大片段
		chunks = append(chunks, c.merge(pending, sep)...)
		pending = nil
		chunks = append(chunks, c.splitRecursive(piece, rest)...)
	}
	chunks = append(chunks, c.merge(pending, sep)...)

	return chunks
}

// merge 将片段合并为不超过 ChunkSize 的块，块间保留 ChunkOverlap 的重叠。
func (c *Chunker) merge(pieces []string, sep string) []string {
	if len(pieces) == 0 {
		return nil
	}
	sepLen := utf8.RuneCountInString(sep)

	var chunks []string
	var window []string
	total := 0

	appendChunk := func() {
		joined := strings.TrimSpace(strings.Join(window, sep))
		if joined != "" {
			chunks = append(chunks, joined)
		}
	}

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		extra := pieceLen
		if len(window) > 0 {
			extra += sepLen
		}

		if total+extra > c.config.ChunkSize && len(window) > 0 {
			appendChunk()
			// 从窗口头部弹出，直到剩余部分放得下新片段且不超过重叠预算
			for total > c.config.ChunkOverlap ||
				(total+extra > c.config.ChunkSize && total > 0) {
				head := utf8.RuneCountInString(window[0])
				total -= head
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
				if len(window) == 0 {
					break
				}
			}
		}

		window = append(window, piece)
		total += pieceLen
		if len(window) > 1 {
			total += sepLen
		}
	}

	appendChunk()
	return chunks
}

// hardSplit 按字符滑动窗口硬切，用于无分隔符的长文本。
func (c *Chunker) hardSplit(text string) []string {
	runes := []rune(text)
	step := c.config.ChunkSize - c.config.ChunkOverlap
	if step <= 0 {
		step = c.config.ChunkSize
	}

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + c.config.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[i:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
