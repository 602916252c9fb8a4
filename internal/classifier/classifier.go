package classifier

import (
	"strings"

	"github.com/docuquery/backend/internal/retrieval"
)

type QueryType string

const (
	TypeFactual    QueryType = "factual"
	TypeConceptual QueryType = "conceptual"
	TypeProcedural QueryType = "procedural"
	TypeAnalytical QueryType = "analytical"
	TypeGeneral    QueryType = "general"
)

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Classification is the rule-based analysis of a query used to pick a
// retrieval strategy before any model call is made.
type Classification struct {
	Type              QueryType          `json:"type"`
	Complexity        Complexity         `json:"complexity"`
	SuggestedStrategy retrieval.Strategy `json:"suggested_strategy"`
	RequiresContext   bool               `json:"requires_context"`
	IsQuestion        bool               `json:"is_question"`
	WordCount         int                `json:"word_count"`
}

var factualPrefixes = []string{
	"what is", "what are", "who is", "who was", "when", "where",
	"which", "how many", "how much", "define",
}

var conceptualPrefixes = []string{
	"explain", "why", "describe", "what does", "what do", "elaborate",
	"clarify", "interpret",
}

var proceduralPrefixes = []string{
	"how to", "how do", "how can", "how should", "steps to",
	"show me how", "guide", "walk me through",
}

var analyticalPrefixes = []string{
	"analyze", "analyse", "compare", "contrast", "evaluate", "assess",
	"what are the differences", "what are the similarities",
	"pros and cons", "trade-offs", "tradeoffs",
}

var greetings = []string{
	"hi", "hello", "hey", "thanks", "thank you", "bye", "goodbye",
	"good morning", "good afternoon", "good evening", "ok", "okay",
}

var questionWords = map[string]bool{
	"what": true, "who": true, "when": true, "where": true, "why": true,
	"which": true, "how": true, "is": true, "are": true, "do": true,
	"does": true, "can": true, "could": true, "should": true, "will": true,
}

type Classifier struct{}

func New() *Classifier {
	return &Classifier{}
}

func (c *Classifier) Classify(query string) Classification {
	normalized := strings.ToLower(strings.TrimSpace(query))
	words := strings.Fields(normalized)

	result := Classification{
		Type:       classifyType(normalized),
		Complexity: classifyComplexity(len(words)),
		WordCount:  len(words),
		IsQuestion: isQuestion(normalized, words),
	}
	result.RequiresContext = requiresContext(normalized, result.IsQuestion)
	result.SuggestedStrategy = suggestStrategy(result.Type, result.Complexity)
	return result
}

func classifyType(normalized string) QueryType {
	for _, prefix := range proceduralPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return TypeProcedural
		}
	}
	for _, prefix := range analyticalPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return TypeAnalytical
		}
	}
	for _, prefix := range factualPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return TypeFactual
		}
	}
	for _, prefix := range conceptualPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return TypeConceptual
		}
	}
	return TypeGeneral
}

func classifyComplexity(wordCount int) Complexity {
	switch {
	case wordCount < 5:
		return ComplexitySimple
	case wordCount < 15:
		return ComplexityMedium
	default:
		return ComplexityComplex
	}
}

func isQuestion(normalized string, words []string) bool {
	if strings.HasSuffix(normalized, "?") {
		return true
	}
	if len(words) == 0 {
		return false
	}
	return questionWords[words[0]]
}

// requiresContext reports whether answering needs document retrieval
// at all. Greetings and other conversational filler do not.
func requiresContext(normalized string, question bool) bool {
	trimmed := strings.TrimRight(normalized, "!.? ")
	for _, greeting := range greetings {
		if trimmed == greeting {
			return false
		}
	}
	if len(strings.Fields(trimmed)) <= 2 && !question {
		for _, greeting := range greetings {
			if strings.HasPrefix(trimmed, greeting+" ") || strings.HasPrefix(trimmed, greeting+",") {
				return false
			}
		}
	}
	return true
}

// suggestStrategy maps the classification to a retrieval strategy.
// Only short factual lookups take the dense shortcut; everything else,
// including complex queries, defaults to hybrid. The heavier strategies
// (multi_query, contextual_expansion) are opt-in via the request's
// explicit strategy field.
func suggestStrategy(qtype QueryType, complexity Complexity) retrieval.Strategy {
	if complexity == ComplexityComplex {
		return retrieval.StrategyHybrid
	}
	if qtype == TypeFactual {
		return retrieval.StrategyDense
	}
	return retrieval.StrategyHybrid
}
