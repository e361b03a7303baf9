package loader

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

func openZip(path string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return zr, nil
}

func zipEntry(zr *zip.ReadCloser, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

type paragraph struct {
	text  string
	style string
}

// wordParagraphs streams the w:p elements of a WordprocessingML part.
func wordParagraphs(r io.Reader) ([]paragraph, error) {
	dec := xml.NewDecoder(r)

	var (
		out   []paragraph
		cur   strings.Builder
		style string
		inT   bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				cur.Reset()
				style = ""
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						style = a.Value
					}
				}
			case "t":
				inT = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				out = append(out, paragraph{text: cur.String(), style: style})
				cur.Reset()
			}
		case xml.CharData:
			if inT {
				cur.Write(t)
			}
		}
	}
	return out, nil
}

func isHeadingStyle(style string) bool {
	s := strings.ToLower(style)
	return s == "title" || strings.HasPrefix(s, "heading")
}

func readDOCX(ctx context.Context, path string) ([]Segment, error) {
	zr, err := openZip(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	entry := zipEntry(zr, "word/document.xml")
	if entry == nil {
		return nil, fmt.Errorf("%w: word/document.xml missing", ErrExtraction)
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer rc.Close()

	paras, err := wordParagraphs(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		segments []Segment
		section  string
		body     []string
	)
	flush := func() {
		text := tidy(strings.Join(body, "\n\n"))
		if text != "" {
			segments = append(segments, Segment{
				Text:    text,
				Locator: "section " + strconv.Itoa(len(segments)+1),
				Section: section,
			})
		}
		body = body[:0]
	}

	for _, p := range paras {
		text := strings.TrimSpace(p.text)
		if text == "" {
			continue
		}
		if isHeadingStyle(p.style) {
			flush()
			section = text
		}
		body = append(body, text)
	}
	flush()

	return segments, nil
}

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func readPPTX(ctx context.Context, path string) ([]Segment, error) {
	zr, err := openZip(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slidePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: f})
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("%w: presentation has no slides", ErrExtraction)
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var segments []Segment
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rc, err := s.file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: slide %d: %v", ErrExtraction, s.num, err)
		}
		paras, err := wordParagraphs(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: slide %d: %v", ErrExtraction, s.num, err)
		}

		var lines []string
		for _, p := range paras {
			if t := strings.TrimSpace(p.text); t != "" {
				lines = append(lines, t)
			}
		}
		if len(lines) == 0 {
			continue
		}

		segments = append(segments, Segment{
			Text:    tidy(strings.Join(lines, "\n")),
			Locator: "slide " + strconv.Itoa(s.num),
			Section: lines[0],
		})
	}
	return segments, nil
}
