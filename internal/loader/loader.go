// Package loader turns document files into ordered text segments.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrUnsupportedFormat means no reader exists for the document type.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrExtraction means the file could not be read or is corrupt.
	ErrExtraction = errors.New("text extraction failed")
)

const (
	TypePDF  = "pdf"
	TypeDOCX = "docx"
	TypeXLSX = "xlsx"
	TypePPTX = "pptx"
	TypeTXT  = "txt"
	TypeHTML = "html"
)

// Segment is a contiguous run of extracted text.
type Segment struct {
	Text string
	// Locator points back into the source, e.g. "page 3" or "slide 2".
	Locator string
	// Section is the heading or bookmark the text falls under, if any.
	Section string
}

type Reader interface {
	Read(ctx context.Context, path string) ([]Segment, error)
}

type ReaderFunc func(ctx context.Context, path string) ([]Segment, error)

func (f ReaderFunc) Read(ctx context.Context, path string) ([]Segment, error) {
	return f(ctx, path)
}

type Registry struct {
	readers map[string]Reader
}

// NewRegistry returns a registry with every built-in reader.
func NewRegistry() *Registry {
	r := &Registry{readers: make(map[string]Reader)}
	r.Register(TypePDF, ReaderFunc(readPDF))
	r.Register(TypeDOCX, ReaderFunc(readDOCX))
	r.Register(TypePPTX, ReaderFunc(readPPTX))
	r.Register(TypeXLSX, ReaderFunc(readXLSX))
	r.Register(TypeTXT, ReaderFunc(readText))
	r.Register(TypeHTML, ReaderFunc(readHTML))
	return r
}

func (r *Registry) Register(docType string, reader Reader) {
	r.readers[docType] = reader
}

// Load extracts the segments of the file at path. A non-empty declaredType
// wins over detection; otherwise the type is sniffed from the extension and
// then the content.
func (r *Registry) Load(ctx context.Context, path, declaredType string) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docType, err := r.resolveType(path, declaredType)
	if err != nil {
		return nil, err
	}

	reader, ok := r.readers[docType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, docType)
	}

	segments, err := reader.Read(ctx, path)
	if err != nil {
		if errors.Is(err, ErrExtraction) || errors.Is(err, ErrUnsupportedFormat) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, docType, err)
	}
	return segments, nil
}

// Resolve reports the document type Load would use.
func (r *Registry) Resolve(path, declaredType string) (string, error) {
	return r.resolveType(path, declaredType)
}

func (r *Registry) resolveType(path, declaredType string) (string, error) {
	if declaredType != "" {
		t, ok := NormalizeType(declaredType)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, declaredType)
		}
		return t, nil
	}

	if t, ok := typeFromExtension(path); ok {
		return t, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer f.Close()

	return sniffContent(f)
}

var typeAliases = map[string]string{
	"pdf":  TypePDF,
	"docx": TypeDOCX,
	"xlsx": TypeXLSX,
	"pptx": TypePPTX,
	"txt":  TypeTXT,
	"text": TypeTXT,
	"md":   TypeTXT,
	"log":  TypeTXT,
	"html": TypeHTML,
	"htm":  TypeHTML,

	"application/pdf": TypePDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   TypeDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         TypeXLSX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": TypePPTX,
	"text/plain":    TypeTXT,
	"text/markdown": TypeTXT,
	"text/html":     TypeHTML,
	// Google Docs are exported as HTML before loading.
	"application/vnd.google-apps.document": TypeHTML,
}

// NormalizeType maps an extension, short name or MIME type onto a loader type.
func NormalizeType(declared string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(declared))
	key = strings.TrimPrefix(key, ".")
	if i := strings.IndexByte(key, ';'); i >= 0 {
		key = strings.TrimSpace(key[:i])
	}
	t, ok := typeAliases[key]
	return t, ok
}
