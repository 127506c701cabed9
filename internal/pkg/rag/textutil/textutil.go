// Package textutil 提供 RAG 相关的文本处理工具函数。
package textutil

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]，1 表示完全相同，-1 表示完全相反。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// Ellipsize 截断字符串到指定的最大 Unicode 字符数，被截断时追加省略号。
func Ellipsize(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return TruncateString(s, maxLen) + "..."
}

var whitespaceRegex = regexp.MustCompile(`[ \t]+`)

// NormalizeWhitespace 压缩行内连续空白并去除首尾空白，保留换行结构。
func NormalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRegex.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// SplitSentences 按句子边界分割文本。
// 边界定义为句末标点（. ! ?）后跟空白且下一句以大写字母开头。
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes)-1; i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		// 跳过紧随的引号或括号
		j := i + 1
		for j < len(runes) && (runes[j] == '"' || runes[j] == ')' || runes[j] == ']') {
			j++
		}
		if j >= len(runes) || !isSpace(runes[j]) {
			continue
		}
		// 吃掉空白
		k := j
		for k < len(runes) && isSpace(runes[k]) {
			k++
		}
		if k < len(runes) && runes[k] >= 'A' && runes[k] <= 'Z' {
			sentences = append(sentences, string(runes[start:j]))
			start = k
			i = k - 1
		}
	}

	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
