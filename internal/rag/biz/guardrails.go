package biz

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kart-io/logger"
)

// RefusalMessage 是输入或输出被拦截时返回的固定话术。
const RefusalMessage = "I cannot process this request. Please rephrase your question."

// IdentityAnswer 是身份类问题的固定回答，不经过检索。
const IdentityAnswer = "I am NEXUS, a retrieval-augmented assistant. I answer questions using your team's ingested documents and cite the sources I rely on."

// 提示注入与越狱模式，命中即拒绝。
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions|prompts?|rules)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(your|the|previous|prior)?\s*(instructions|prompts?|rules)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(your|the|previous|prior)\s+(instructions|training|rules)`),
	regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your|the)\s+(system\s+prompt|instructions)`),
	regexp.MustCompile(`(?i)system\s+prompt`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)act\s+as\s+if\s+you`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)\bdan\s+mode\b`),
}

// 有害意图模式，命中即拒绝。
var harmfulPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)how\s+to\s+(make|create|build)\s+(a\s+)?(bomb|explosive|weapon)`),
	regexp.MustCompile(`(?i)how\s+to\s+(hack|crack|break\s+into)`),
	regexp.MustCompile(`(?i)how\s+to\s+(kill|murder|harm)\s+(someone|a\s+person)`),
	regexp.MustCompile(`(?i)generate\s+(illegal|harmful|malicious)`),
}

const (
	// maxInputChars 输入长度硬上限（按 Unicode 字符计）。
	maxInputChars = 10000
	// maxSpecialCharRatio 特殊字符占比超过该值视为编码攻击。
	maxSpecialCharRatio = 0.5
)

// 控制字符（保留换行与制表符，清洗阶段会被折叠）。
var controlCharPattern = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")

// 连续空白折叠为单个空格。
var whitespaceRunPattern = regexp.MustCompile(`\s+`)

// 身份类问题模式，直接返回固定身份回答。
var identityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*who\s+are\s+you\b`),
	regexp.MustCompile(`(?i)^\s*what\s+are\s+you\b`),
	regexp.MustCompile(`(?i)what('?s|\s+is)\s+your\s+name\b`),
	regexp.MustCompile(`(?i)who\s+(made|created|built|developed)\s+you\b`),
	regexp.MustCompile(`(?i)what\s+(model|llm|ai)\s+are\s+you\b`),
	regexp.MustCompile(`(?i)are\s+you\s+(an?\s+)?(ai|bot|robot|llm|language\s+model)\b`),
}

// 输出泄露模式，生成结果命中时整体替换为拒绝话术。
var outputLeakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)my\s+system\s+prompt\s+(is|says)`),
	regexp.MustCompile(`(?i)here\s+(is|are)\s+my\s+(instructions|system\s+prompt)`),
	regexp.MustCompile(`(?i)i\s+(will|shall)\s+ignore\s+my\s+(previous\s+)?instructions`),
}

// Guardrails 提供输入过滤、身份短路与输出过滤。
type Guardrails struct{}

// NewGuardrails 创建守护组件实例。
func NewGuardrails() *Guardrails {
	return &Guardrails{}
}

// CheckInput 检查输入是否可以处理。通过检查时返回清洗后的文本，
// 被拦截时返回 false 与固定拒绝话术。
// 检查顺序：注入模式、有害意图、特殊字符占比、长度上限。
func (g *Guardrails) CheckInput(question string) (sanitized string, ok bool, refusal string) {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return "", false, RefusalMessage
	}

	for _, pattern := range injectionPatterns {
		if pattern.MatchString(trimmed) {
			logger.Warnw("input blocked by guardrail", "reason", "injection", "pattern", pattern.String())
			return "", false, RefusalMessage
		}
	}

	for _, pattern := range harmfulPatterns {
		if pattern.MatchString(trimmed) {
			logger.Warnw("input blocked by guardrail", "reason", "harmful_intent", "pattern", pattern.String())
			return "", false, RefusalMessage
		}
	}

	if ratio := specialCharRatio(question); ratio > maxSpecialCharRatio {
		logger.Warnw("input blocked by guardrail", "reason", "special_char_ratio", "ratio", ratio)
		return "", false, RefusalMessage
	}

	if utf8.RuneCountInString(question) > maxInputChars {
		logger.Warnw("input blocked by guardrail", "reason", "too_long", "chars", utf8.RuneCountInString(question))
		return "", false, RefusalMessage
	}

	return sanitizeInput(question), true, ""
}

// specialCharRatio 统计字母、数字与常见标点之外的字符占比。
func specialCharRatio(s string) float64 {
	total := 0
	special := 0
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case ' ', '.', ',', '?', '!', '-', '\'', '"':
			continue
		}
		special++
	}
	if total == 0 {
		return 0
	}
	return float64(special) / float64(total)
}

// sanitizeInput 去除控制字符并折叠连续空白。
func sanitizeInput(s string) string {
	s = controlCharPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespaceRunPattern.ReplaceAllString(s, " "))
}

// IsIdentityQuestion 检查是否为身份类问题。
func (g *Guardrails) IsIdentityQuestion(question string) bool {
	trimmed := strings.TrimSpace(question)
	for _, pattern := range identityPatterns {
		if pattern.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// CheckOutput 检查生成的答案。命中泄露模式时返回固定拒绝话术。
func (g *Guardrails) CheckOutput(answer string) string {
	for _, pattern := range outputLeakPatterns {
		if pattern.MatchString(answer) {
			logger.Warnw("output blocked by guardrail", "pattern", pattern.String())
			return RefusalMessage
		}
	}
	return answer
}
