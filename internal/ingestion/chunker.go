package ingestion

import (
	"strings"

	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"
)

// Chunker splits extracted text into overlapping word windows, packing
// whole sentences where sentence segmentation succeeds.
type Chunker struct {
	chunkSize int
	overlap   int
	logger    *zap.Logger
}

func NewChunker(chunkSize, overlap int, logger *zap.Logger) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap, logger: logger}
}

// Chunk returns non-empty chunks of roughly chunkSize characters. The
// overlap between adjacent chunks preserves sentence context across
// boundaries.
func (c *Chunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.chunkSize {
		return []string{text}
	}

	sentences := c.sentences(text)
	return c.pack(sentences)
}

func (c *Chunker) sentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		c.logger.Warn("Sentence segmentation failed, falling back to paragraph split", zap.Error(err))
		return splitParagraphs(text)
	}

	var sentences []string
	for _, sent := range doc.Sentences() {
		trimmed := strings.TrimSpace(sent.Text)
		if trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	if len(sentences) == 0 {
		return splitParagraphs(text)
	}
	return sentences
}

func (c *Chunker) pack(sentences []string) []string {
	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if currentLen == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))

		// Carry trailing sentences into the next chunk up to the
		// configured overlap.
		var carried []string
		carriedLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			if carriedLen+len(current[i]) > c.overlap {
				break
			}
			carried = append([]string{current[i]}, carried...)
			carriedLen += len(current[i]) + 1
		}
		current = carried
		currentLen = carriedLen
	}

	for _, sentence := range sentences {
		// Sentences longer than a whole chunk are split hard.
		if len(sentence) > c.chunkSize {
			flush()
			for _, piece := range splitHard(sentence, c.chunkSize) {
				chunks = append(chunks, piece)
			}
			current = nil
			currentLen = 0
			continue
		}
		if currentLen+len(sentence)+1 > c.chunkSize {
			flush()
		}
		current = append(current, sentence)
		currentLen += len(sentence) + 1
	}
	if currentLen > 0 && len(current) > 0 {
		tail := strings.Join(current, " ")
		// Skip a tail that is pure overlap already emitted.
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], tail) {
			chunks = append(chunks, tail)
		}
	}
	return chunks
}

func splitParagraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(para)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		out = []string{text}
	}
	return out
}

func splitHard(text string, size int) []string {
	var pieces []string
	words := strings.Fields(text)
	var current []string
	currentLen := 0
	for _, word := range words {
		if currentLen+len(word)+1 > size && currentLen > 0 {
			pieces = append(pieces, strings.Join(current, " "))
			current = nil
			currentLen = 0
		}
		current = append(current, word)
		currentLen += len(word) + 1
	}
	if len(current) > 0 {
		pieces = append(pieces, strings.Join(current, " "))
	}
	return pieces
}
