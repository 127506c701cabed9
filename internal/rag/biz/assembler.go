package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/nexus/internal/model"
)

const (
	blockSeparator  = "\n\n---\n\n"
	truncationNote  = "\n\n[Context truncated due to length...]"
	charsPerToken   = 4
	defaultMaxToken = 2500
)

// AssemblerConfig 上下文拼装配置。
type AssemblerConfig struct {
	// MaxContextTokens 上下文预算（按每 token 4 字符折算成字符数）。
	MaxContextTokens int
}

// Assembler 将重排后的父块拼装为带来源标注的生成上下文。
type Assembler struct {
	budget int
}

// NewAssembler 创建拼装器实例。
func NewAssembler(config *AssemblerConfig) *Assembler {
	tokens := config.MaxContextTokens
	if tokens <= 0 {
		tokens = defaultMaxToken
	}
	return &Assembler{budget: tokens * charsPerToken}
}

// Assemble 按 "[Source: 文件名]\n正文" 渲染每个父块，已知页码时
// 来源行带 "Page N"，块间以分隔线连接。全部内容装不下时先为截断提示
// 预留空间，再丢弃放不下的整块，只在最后一个保留块内部截断正文，
// 且绝不截断来源标注行。含截断提示在内的总长度不超过字符预算。
func (a *Assembler) Assemble(parents []model.ScoredParent) string {
	blocks := make([]string, len(parents))
	total := 0
	for i, parent := range parents {
		blocks[i] = blockHeader(parent.ParentChunk) + "\n" + parent.Text
		if i > 0 {
			total += len(blockSeparator)
		}
		total += len(blocks[i])
	}
	if total <= a.budget {
		return strings.Join(blocks, blockSeparator)
	}

	contentBudget := a.budget - len(truncationNote)
	var b strings.Builder
	for i, parent := range parents {
		sep := ""
		if i > 0 {
			sep = blockSeparator
		}

		if b.Len()+len(sep)+len(blocks[i]) <= contentBudget {
			b.WriteString(sep)
			b.WriteString(blocks[i])
			continue
		}

		// 剩余空间若容得下来源行和部分正文，则截断该块正文后收尾
		header := blockHeader(parent.ParentChunk) + "\n"
		remaining := contentBudget - b.Len() - len(sep) - len(header)
		if remaining > 0 {
			if text := truncateRunes(parent.Text, remaining); text != "" {
				b.WriteString(sep)
				b.WriteString(header)
				b.WriteString(text)
			}
		}
		break
	}

	b.WriteString(truncationNote)
	return b.String()
}

// blockHeader 渲染父块的来源标注行。
func blockHeader(parent model.ParentChunk) string {
	if parent.Page > 0 {
		return fmt.Sprintf("[Source: %s, Page %d]", parent.FileName, parent.Page)
	}
	return fmt.Sprintf("[Source: %s]", parent.FileName)
}

// truncateRunes 在不超过 limit 字节的前提下按 rune 边界截断。
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if len(string(runes)) <= limit {
			break
		}
	}
	return string(runes)
}
