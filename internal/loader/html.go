package loader

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true, "pre": true,
	"table": true, "blockquote": true, "section": true, "article": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "dt": true, "dd": true,
}

func readHTML(ctx context.Context, path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return htmlSegments(doc), nil
}

func htmlSegments(doc *goquery.Document) []Segment {
	doc.Find("script, style, nav, noscript, template").Remove()

	var (
		segments []Segment
		section  string
		body     strings.Builder
	)
	flush := func() {
		text := tidy(body.String())
		if text != "" {
			segments = append(segments, Segment{
				Text:    text,
				Locator: "section " + strconv.Itoa(len(segments)+1),
				Section: section,
			})
		}
		body.Reset()
	}

	var walk func(s *goquery.Selection, pre bool)
	walk = func(s *goquery.Selection, pre bool) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			name := goquery.NodeName(c)
			switch {
			case name == "#text":
				if pre {
					body.WriteString(c.Text())
				} else {
					body.WriteString(collapseSpace(c.Text()))
				}
			case name == "h1" || name == "h2":
				flush()
				section = collapseSpace(strings.TrimSpace(c.Text()))
				body.WriteString(section)
				body.WriteString("\n\n")
			case name == "br":
				body.WriteString("\n")
			case name == "tr":
				var cells []string
				c.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
					cells = append(cells, strings.TrimSpace(collapseSpace(cell.Text())))
				})
				body.WriteString("\n" + strings.Join(cells, " | ") + "\n")
			case blockElements[name]:
				body.WriteString("\n")
				walk(c, pre || name == "pre")
				body.WriteString("\n\n")
			default:
				walk(c, pre)
			}
		})
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	walk(root, false)
	flush()

	return segments
}

// collapseSpace folds every whitespace run, newlines included, into one space.
func collapseSpace(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
