package retrieval

import (
	"regexp"
	"sort"
	"strings"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "with": true, "by": true, "from": true,
	"and": true, "or": true, "but": true, "not": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "as": true, "about": true,
	"what": true, "which": true, "who": true, "whom": true, "how": true, "why": true,
	"when": true, "where": true, "do": true, "does": true, "did": true, "can": true,
	"could": true, "would": true, "should": true, "will": true, "i": true, "you": true,
	"we": true, "they": true, "he": true, "she": true, "me": true, "my": true,
}

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9][a-zA-Z0-9'-]*`)

// queryVariants builds up to max deterministic rewrites of the query:
// the original, a stop-word-stripped form, and a question form. Variants
// that collapse to an existing one are dropped; index 0 is always the
// original.
func queryVariants(query string, max int) []string {
	query = strings.TrimSpace(query)
	variants := []string{query}

	stripped := stripStopwords(query)
	if stripped != "" && !strings.EqualFold(stripped, query) {
		variants = append(variants, stripped)
	}

	if !strings.HasSuffix(query, "?") && stripped != "" {
		variants = append(variants, "What does the document say about "+stripped+"?")
	}

	if max > 0 && len(variants) > max {
		variants = variants[:max]
	}
	return variants
}

func stripStopwords(query string) string {
	words := wordPattern.FindAllString(query, -1)
	var kept []string
	for _, word := range words {
		if !stopwords[strings.ToLower(word)] {
			kept = append(kept, word)
		}
	}
	return strings.Join(kept, " ")
}

// salientTerms extracts the most frequent non-stopword terms from the
// given texts, ordered by frequency descending with ties broken
// alphabetically so the expansion is reproducible.
func salientTerms(texts []string, max int) []string {
	freq := make(map[string]int)
	for _, text := range texts {
		for _, word := range wordPattern.FindAllString(text, -1) {
			lower := strings.ToLower(word)
			if stopwords[lower] || len(lower) < 4 {
				continue
			}
			freq[lower]++
		}
	}

	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if max > 0 && len(terms) > max {
		terms = terms[:max]
	}
	return terms
}
