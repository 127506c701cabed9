package biz_test

import (
	"testing"

	"github.com/kart-io/nexus/internal/rag/biz"
	"github.com/stretchr/testify/assert"
)

func TestEnforceCitationsAppendsPrimarySource(t *testing.T) {
	got := biz.EnforceCitations("The retry policy is three attempts.", "ops.md")
	assert.Equal(t, "The retry policy is three attempts. [Source: ops.md]", got)
}

func TestEnforceCitationsKeepsExistingMarkers(t *testing.T) {
	answer := "Retries happen three times [Source: ops.md]. Backoff is exponential."
	got := biz.EnforceCitations(answer, "ops.md")
	assert.Equal(t,
		"Retries happen three times [Source: ops.md]. Backoff is exponential. [Source: ops.md]",
		got)
}

func TestEnforceCitationsMultipleSentences(t *testing.T) {
	got := biz.EnforceCitations("First fact. Second fact.", "a.md")
	assert.Equal(t, "First fact. [Source: a.md] Second fact. [Source: a.md]", got)
}

func TestEnforceCitationsSkipsFixedReplies(t *testing.T) {
	assert.Equal(t, biz.NotInDocumentsAnswer,
		biz.EnforceCitations(biz.NotInDocumentsAnswer, "a.md"))
	assert.Equal(t, biz.RefusalMessage,
		biz.EnforceCitations(biz.RefusalMessage, "a.md"))
}

func TestEnforceCitationsEmptyInputs(t *testing.T) {
	assert.Equal(t, "", biz.EnforceCitations("", "a.md"))
	assert.Equal(t, "no source known", biz.EnforceCitations("no source known", ""))
}
