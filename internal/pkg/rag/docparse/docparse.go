// Package docparse 将上传的文档字节解析为带页码的纯文本。
package docparse

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/kart-io/nexus/internal/pkg/rag/textutil"
)

// Page 表示文档中的一页文本。页码从 1 开始。
type Page struct {
	Number int
	Text   string
}

// Parser 将文档字节解析为页面序列。
type Parser interface {
	// Parse 解析文档内容。data 为原始字节，filename 用于格式提示。
	Parse(filename string, data []byte) ([]Page, error)
}

// ParseFunc 适配函数为 Parser。
type ParseFunc func(filename string, data []byte) ([]Page, error)

// Parse 实现 Parser 接口。
func (f ParseFunc) Parse(filename string, data []byte) ([]Page, error) {
	return f(filename, data)
}

var registry = struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}{parsers: make(map[string]Parser)}

// Register 按文件扩展名（不含点，小写）注册解析器。
func Register(ext string, p Parser) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.parsers[strings.ToLower(ext)] = p
}

// ForFile 返回文件名对应的解析器。未注册的扩展名回退到纯文本解析。
func ForFile(filename string) Parser {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")

	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if p, ok := registry.parsers[ext]; ok {
		return p
	}
	return ParseFunc(parsePlainText)
}

// Parse 解析文档，按扩展名选择解析器。
func Parse(filename string, data []byte) ([]Page, error) {
	return ForFile(filename).Parse(filename, data)
}

func init() {
	Register("txt", ParseFunc(parsePlainText))
	Register("md", ParseFunc(parseMarkdown))
	Register("csv", ParseFunc(parseCSV))
}

// parsePlainText 将整个文件作为单页文本。
func parsePlainText(_ string, data []byte) ([]Page, error) {
	text := textutil.NormalizeWhitespace(string(data))
	if text == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}

var (
	mdCodeFenceRegex = regexp.MustCompile("(?s)```.*?```")
	mdLinkRegex      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdMarkupRegex    = regexp.MustCompile("[*_`#>]+")
)

// parseMarkdown 去除 Markdown 标记后作为单页文本。
// 代码块整体保留内容但去掉围栏，链接保留可读文本。
func parseMarkdown(_ string, data []byte) ([]Page, error) {
	text := string(data)
	text = mdCodeFenceRegex.ReplaceAllStringFunc(text, func(block string) string {
		return strings.Trim(block, "`")
	})
	text = mdLinkRegex.ReplaceAllString(text, "$1")
	text = mdMarkupRegex.ReplaceAllString(text, "")
	text = textutil.NormalizeWhitespace(text)
	if text == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}

// parseCSV 将每行渲染为 "header: value" 形式的一段文本，整体为单页。
func parseCSV(filename string, data []byte) ([]Page, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", filename, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	var b strings.Builder
	for _, row := range records[1:] {
		var fields []string
		for i, val := range row {
			val = strings.TrimSpace(val)
			if val == "" {
				continue
			}
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				fields = append(fields, strings.TrimSpace(header[i])+": "+val)
			} else {
				fields = append(fields, val)
			}
		}
		if len(fields) > 0 {
			b.WriteString(strings.Join(fields, ", "))
			b.WriteString("\n\n")
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}
