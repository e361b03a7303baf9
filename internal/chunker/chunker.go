// Package chunker splits loader segments into overlapping, size-bounded chunks.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"

	"github.com/wintrouble/backend/internal/loader"
)

var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Metadata is copied onto every chunk of a document.
type Metadata struct {
	Source       string
	DocumentID   string
	DocumentName string
	LastModified *time.Time
}

type Chunk struct {
	Text string
	// Index runs across the whole document, not per segment.
	Index        int
	Source       string
	DocumentID   string
	DocumentName string
	LastModified *time.Time
	Section      string
	Locator      string
}

type Chunker struct {
	maxChars int
	overlap  int
}

func New(maxChars, overlap int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("%w: max chunk size must be positive, got %d", ErrInvalidConfig, maxChars)
	}
	if overlap < 0 || overlap >= maxChars {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, overlap, maxChars)
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}, nil
}

func (c *Chunker) MaxChars() int { return c.maxChars }
func (c *Chunker) Overlap() int  { return c.overlap }

// Split chunks every segment independently; chunks never span segments.
// Sizes and overlap are counted in runes, and chunk text is never trimmed,
// so consecutive chunks of a segment share exactly Overlap() runes.
func (c *Chunker) Split(meta Metadata, segments []loader.Segment) []Chunk {
	var chunks []Chunk
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		for _, text := range c.splitText(seg.Text) {
			chunks = append(chunks, Chunk{
				Text:         text,
				Index:        len(chunks),
				Source:       meta.Source,
				DocumentID:   meta.DocumentID,
				DocumentName: meta.DocumentName,
				LastModified: meta.LastModified,
				Section:      seg.Section,
				Locator:      seg.Locator,
			})
		}
	}
	return chunks
}

func (c *Chunker) splitText(text string) []string {
	runes := []rune(text)

	var out []string
	start := 0
	for len(runes)-start > c.maxChars {
		cut := c.cutPoint(runes, start)
		out = append(out, string(runes[start:cut]))
		start = cut - c.overlap
	}
	return append(out, string(runes[start:]))
}

// cutPoint picks where the chunk starting at start ends. The result is in
// (start+overlap, start+maxChars] so the next chunk always makes progress.
func (c *Chunker) cutPoint(runes []rune, start int) int {
	end := start + c.maxChars
	lo := max(start+c.maxChars/2, start+c.overlap+1)

	for i := end; i >= lo; i-- {
		if i >= 2 && runes[i-2] == '\n' && runes[i-1] == '\n' {
			return i
		}
	}

	for i := end; i >= lo; i-- {
		if runes[i-1] == '\n' && headingLike(lineAt(runes, i)) {
			return i
		}
	}

	if i := lastSentenceEnd(runes[start:end]); i > 0 && start+i >= lo {
		return start + i
	}

	for i := end; i >= lo; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}

	return end
}

func lineAt(runes []rune, i int) string {
	j := i
	for j < len(runes) && runes[j] != '\n' {
		j++
	}
	return string(runes[i:j])
}

var numberedHeading = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\p{Lu}`)

// headingLike reports whether a line looks like a title: markdown heading,
// numbered heading, or a short all-caps line.
func headingLike(line string) bool {
	line = strings.TrimSpace(line)
	n := utf8.RuneCountInString(line)
	if n == 0 || n > 80 {
		return false
	}
	if strings.HasPrefix(line, "#") || numberedHeading.MatchString(line) {
		return true
	}

	letters := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			if unicode.IsLower(r) {
				return false
			}
			letters = true
		}
	}
	return letters
}

// lastSentenceEnd returns the rune offset just past the last complete sentence
// in window, or 0. The trailing sentence only counts when it ends in terminal
// punctuation, since the window usually cuts it short.
func lastSentenceEnd(window []rune) int {
	text := string(window)
	doc, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false))
	if err != nil {
		return 0
	}

	sentences := doc.Sentences()
	best := 0
	cursor := 0
	for i, s := range sentences {
		if s.Text == "" {
			continue
		}
		idx := strings.Index(text[cursor:], s.Text)
		if idx < 0 {
			continue
		}
		cursor += idx + len(s.Text)

		if i == len(sentences)-1 && !endsSentence(s.Text) {
			break
		}
		best = utf8.RuneCountInString(text[:cursor])
	}
	if best == len(window) && !endsSentence(text) {
		return 0
	}
	return best
}

func endsSentence(s string) bool {
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '\'' || r == ')'
	})
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}
