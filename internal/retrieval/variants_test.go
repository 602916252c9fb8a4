package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryVariants_OriginalAlwaysFirst(t *testing.T) {
	variants := queryVariants("what is the refund policy", 3)
	require.NotEmpty(t, variants)
	assert.Equal(t, "what is the refund policy", variants[0])
}

func TestQueryVariants_IncludesStrippedForm(t *testing.T) {
	variants := queryVariants("what is the refund policy", 3)
	assert.Contains(t, variants, "refund policy")
}

func TestQueryVariants_QuestionFormOnlyForNonQuestions(t *testing.T) {
	withQuestion := queryVariants("refund policy details", 3)
	assert.Contains(t, withQuestion, "What does the document say about refund policy details?")

	alreadyQuestion := queryVariants("what is the refund policy?", 3)
	for _, v := range alreadyQuestion[1:] {
		assert.NotContains(t, v, "What does the document say about")
	}
}

func TestQueryVariants_RespectsMax(t *testing.T) {
	variants := queryVariants("what is the refund policy for enterprise customers", 2)
	assert.Len(t, variants, 2)
}

func TestQueryVariants_Deterministic(t *testing.T) {
	first := queryVariants("how does the billing cycle work", 3)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, queryVariants("how does the billing cycle work", 3))
	}
}

func TestStripStopwords(t *testing.T) {
	assert.Equal(t, "refund policy", stripStopwords("what is the refund policy"))
	assert.Equal(t, "", stripStopwords("what is the"))
}

func TestSalientTerms_FrequencyThenAlphabetical(t *testing.T) {
	texts := []string{
		"billing cycle billing invoice",
		"billing cycle payment",
	}

	terms := salientTerms(texts, 3)
	require.Len(t, terms, 3)
	assert.Equal(t, "billing", terms[0])
	assert.Equal(t, "cycle", terms[1])
	// invoice and payment tie at 1; alphabetical order picks invoice.
	assert.Equal(t, "invoice", terms[2])
}

func TestSalientTerms_SkipsShortAndStopwords(t *testing.T) {
	terms := salientTerms([]string{"the cat sat on a big mat with taxes"}, 10)
	assert.Equal(t, []string{"taxes"}, terms)
}
