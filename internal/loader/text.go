package loader

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

func readText(ctx context.Context, path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.ToValidUTF8(string(data), "\uFFFD")
	text = strings.TrimPrefix(text, "\uFEFF")
	text = normalizeNewlines(text)

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []Segment{{Text: text}}, nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

var (
	spaceRun     = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	blankLineRun = regexp.MustCompile(`\n{3,}`)
)

// tidy collapses horizontal whitespace, trims every line and keeps at most
// one blank line between paragraphs.
func tidy(s string) string {
	s = normalizeNewlines(s)
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
