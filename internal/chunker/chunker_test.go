package chunker

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wintrouble/backend/internal/loader"
)

func mustNew(t *testing.T, max, overlap int) *Chunker {
	t.Helper()
	c, err := New(max, overlap)
	require.NoError(t, err)
	return c
}

func texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestNewRejectsBadConfig(t *testing.T) {
	for _, tc := range []struct{ max, overlap int }{
		{0, 0}, {-5, 0}, {100, 100}, {100, 150}, {100, -1},
	} {
		_, err := New(tc.max, tc.overlap)
		assert.ErrorIs(t, err, ErrInvalidConfig, "max=%d overlap=%d", tc.max, tc.overlap)
	}

	c, err := New(1000, 200)
	require.NoError(t, err)
	assert.Equal(t, 1000, c.MaxChars())
	assert.Equal(t, 200, c.Overlap())
}

func TestSplitShortSegmentCopiesMetadata(t *testing.T) {
	modified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := Metadata{Source: "local_dir", DocumentID: "d1", DocumentName: "bsod.txt", LastModified: &modified}

	chunks := mustNew(t, 100, 10).Split(meta, []loader.Segment{
		{Text: "Blue screen after update.", Locator: "page 2", Section: "Stop errors"},
	})
	require.Len(t, chunks, 1)
	assert.Equal(t, Chunk{
		Text:         "Blue screen after update.",
		Index:        0,
		Source:       "local_dir",
		DocumentID:   "d1",
		DocumentName: "bsod.txt",
		LastModified: &modified,
		Section:      "Stop errors",
		Locator:      "page 2",
	}, chunks[0])
}

func TestSplitHardCutWithExactOverlap(t *testing.T) {
	chunks := mustNew(t, 10, 3).Split(Metadata{}, []loader.Segment{{Text: "abcdefghijklmnopqrstuvwxyz"}})
	assert.Equal(t, []string{"abcdefghij", "hijklmnopq", "opqrstuvwx", "vwxyz"}, texts(chunks))
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	text := "Alpha beta gamma.\n\nDelta epsilon zeta eta theta"
	chunks := mustNew(t, 30, 5).Split(Metadata{}, []loader.Segment{{Text: text}})
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "Alpha beta gamma.\n\n", chunks[0].Text)
	assert.True(t, strings.HasPrefix(chunks[1].Text, "ma.\n\n"))
}

func TestSplitBreaksBeforeHeadingLine(t *testing.T) {
	text := "Some intro text here\nINSTALL UPDATES\nrun the tool now"
	chunks := mustNew(t, 24, 4).Split(Metadata{}, []loader.Segment{{Text: text}})
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "Some intro text here\n", chunks[0].Text)
}

func TestSplitPrefersSentenceEndOverWhitespace(t *testing.T) {
	text := "The service failed to start. Restart the computer and try again please."
	chunks := mustNew(t, 40, 5).Split(Metadata{}, []loader.Segment{{Text: text}})
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "The service failed to start.", chunks[0].Text)
}

func TestSplitFallsBackToWhitespace(t *testing.T) {
	chunks := mustNew(t, 12, 2).Split(Metadata{}, []loader.Segment{{Text: "aaaa bbbb cccc dddd eeee"}})
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "aaaa bbbb ", chunks[0].Text)
}

func TestSplitCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 25)
	chunks := mustNew(t, 10, 2).Split(Metadata{}, []loader.Segment{{Text: text}})
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 10)
		assert.True(t, utf8.ValidString(c.Text))
	}
	assert.Equal(t, strings.Repeat("é", 10), chunks[0].Text)
}

func TestSplitNeverSpansSegments(t *testing.T) {
	chunks := mustNew(t, 15, 3).Split(Metadata{DocumentID: "d"}, []loader.Segment{
		{Text: "first segment body text", Locator: "page 1"},
		{Text: "   \n\t "},
		{Text: "second", Locator: "page 3", Section: "Drivers"},
	})
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Equal(t, "second", last.Text)
	assert.Equal(t, "page 3", last.Locator)
	assert.Equal(t, "Drivers", last.Section)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		if c.Locator == "page 1" {
			assert.NotContains(t, c.Text, "second")
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	c := mustNew(t, 10, 2)
	assert.Empty(t, c.Split(Metadata{}, nil))
	assert.Empty(t, c.Split(Metadata{}, []loader.Segment{{Text: " \n "}}))
}

func TestHeadingLike(t *testing.T) {
	assert.True(t, headingLike("# Network"))
	assert.True(t, headingLike("2.1 Reset Winsock"))
	assert.True(t, headingLike("SYMPTOMS"))
	assert.False(t, headingLike("run the tool"))
	assert.False(t, headingLike("0x80070005"))
	assert.False(t, headingLike(""))
}

func TestSplitProperties(t *testing.T) {
	pieces := []string{"word", "Error.", "Restart now!", "\n", "\n\n", " ", "é", "0x8007", "STEP ONE", "# Fix", "ok?"}

	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(rapid.SampledFrom(pieces), 1, 60).Draw(t, "parts")
		text := strings.Join(parts, "")
		max := rapid.IntRange(4, 60).Draw(t, "max")
		overlap := rapid.IntRange(0, max-1).Draw(t, "overlap")

		c, err := New(max, overlap)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		chunks := c.Split(Metadata{}, []loader.Segment{{Text: text}})
		if strings.TrimSpace(text) == "" {
			if len(chunks) != 0 {
				t.Fatalf("whitespace-only text produced %d chunks", len(chunks))
			}
			return
		}

		var rebuilt strings.Builder
		for i, ch := range chunks {
			r := []rune(ch.Text)
			if len(r) > max {
				t.Fatalf("chunk %d has %d runes, max %d", i, len(r), max)
			}
			if i == 0 {
				rebuilt.WriteString(ch.Text)
				continue
			}
			prev := []rune(chunks[i-1].Text)
			if len(r) <= overlap {
				t.Fatalf("chunk %d adds no new text", i)
			}
			if string(prev[len(prev)-overlap:]) != string(r[:overlap]) {
				t.Fatalf("chunk %d does not overlap its predecessor by %d runes", i, overlap)
			}
			rebuilt.WriteString(string(r[overlap:]))
		}
		if rebuilt.String() != text {
			t.Fatalf("chunks do not reassemble the input")
		}
	})
}
