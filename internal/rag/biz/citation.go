package biz

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kart-io/nexus/internal/pkg/rag/textutil"
)

// NotInDocumentsAnswer 上下文无法回答时模型必须返回的固定答复。
const NotInDocumentsAnswer = "This information is not in the provided documents."

var sourceMarkerRegex = regexp.MustCompile(`\[Source:\s*[^\]]+\]`)

// EnforceCitations 保证 rag 路径答案的每个句子都带有来源标注。
// 缺少 [Source: ...] 标记的句子追加主来源（重排首位父块的文件名）。
// 固定的拒答与无资料答复不做标注。
func EnforceCitations(answer, primarySource string) string {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" || primarySource == "" {
		return answer
	}
	if trimmed == NotInDocumentsAnswer || trimmed == RefusalMessage {
		return trimmed
	}

	sentences := textutil.SplitSentences(trimmed)
	if len(sentences) == 0 {
		return trimmed
	}

	for i, sentence := range sentences {
		if !sourceMarkerRegex.MatchString(sentence) {
			sentences[i] = fmt.Sprintf("%s [Source: %s]", sentence, primarySource)
		}
	}
	return strings.Join(sentences, " ")
}
