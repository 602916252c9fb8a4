package ingestion

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText converts raw file bytes into plain text based on the
// file extension. HTML is stripped of markup and boilerplate elements.
func ExtractText(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		return string(data), nil
	case ".html", ".htm":
		return extractHTML(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(filename))
	}
}

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	doc.Find("script, style, nav, footer, header, noscript, iframe").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		sb.WriteString(sel.Text())
	})
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		// Fragments without a body still carry text nodes.
		text = doc.Text()
	}
	return normalizeWhitespace(text), nil
}

func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, strings.Join(strings.Fields(trimmed), " "))
	}
	return strings.Join(out, "\n")
}
