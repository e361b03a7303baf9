package loader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

func readPDF(ctx context.Context, path string) (segments []Segment, err error) {
	// The PDF parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			segments = nil
			err = fmt.Errorf("%w: corrupt pdf: %v", ErrExtraction, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer f.Close()

	pages := make([]string, r.NumPage())
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i + 1)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrExtraction, i+1, err)
		}
		pages[i] = text
	}

	return pdfSegments(pages, flattenOutline(r.Outline())), nil
}

func flattenOutline(o pdf.Outline) []string {
	var titles []string
	var walk func(o pdf.Outline)
	walk = func(o pdf.Outline) {
		if t := strings.TrimSpace(o.Title); t != "" {
			titles = append(titles, t)
		}
		for _, c := range o.Child {
			walk(c)
		}
	}
	walk(o)
	return titles
}

// pdfSegments emits one segment per non-empty page, labelled with the
// bookmark section that page falls under.
func pdfSegments(pages []string, outline []string) []Segment {
	sectionOf := locateSections(pages, outline)

	segments := make([]Segment, 0, len(pages))
	for i, text := range pages {
		text = tidy(text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Text:    text,
			Locator: "page " + strconv.Itoa(i+1),
			Section: sectionOf[i],
		})
	}
	return segments
}

// locateSections assigns every page a section title. Each outline title
// starts a section at the first page, at or after the previous section's
// start, whose text contains it. Titles that cannot be found, or that land
// on a page another title already claimed, are skipped. Pages before the
// first located title belong to an untitled lead section.
func locateSections(pages []string, titles []string) []string {
	sectionOf := make([]string, len(pages))
	if len(titles) == 0 {
		return sectionOf
	}

	normalized := make([]string, len(pages))
	for i, p := range pages {
		normalized[i] = normalizeForMatch(p)
	}

	type start struct {
		page  int
		title string
	}
	var starts []start
	from := 0
	for _, title := range titles {
		needle := normalizeForMatch(title)
		if needle == "" {
			continue
		}
		for p := from; p < len(pages); p++ {
			if !strings.Contains(normalized[p], needle) {
				continue
			}
			if len(starts) == 0 || starts[len(starts)-1].page != p {
				starts = append(starts, start{page: p, title: title})
			}
			from = p
			break
		}
	}

	for i, s := range starts {
		end := len(pages)
		if i+1 < len(starts) {
			end = starts[i+1].page
		}
		for p := s.page; p < end; p++ {
			sectionOf[p] = s.title
		}
	}
	return sectionOf
}

// normalizeForMatch reduces s to lower-case words of letters and digits, so
// a bookmark still matches its heading when the page renders punctuation or
// spacing differently.
func normalizeForMatch(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}
	return " " + strings.Join(words, " ") + " "
}
