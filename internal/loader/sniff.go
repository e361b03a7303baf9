package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

func typeFromExtension(path string) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", false
	}
	return NormalizeType(ext)
}

func sniffContent(f *os.File) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return TypePDF, nil
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return sniffOOXML(f)
	}

	if strings.HasPrefix(http.DetectContentType(head), "text/html") {
		return TypeHTML, nil
	}
	if n > 0 && !bytes.ContainsRune(head, 0) && utf8.Valid(trimPartialRune(head)) {
		return TypeTXT, nil
	}
	return "", fmt.Errorf("%w: unrecognized content", ErrUnsupportedFormat)
}

func sniffOOXML(f *os.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	for _, zf := range zr.File {
		switch {
		case strings.HasPrefix(zf.Name, "word/"):
			return TypeDOCX, nil
		case strings.HasPrefix(zf.Name, "ppt/"):
			return TypePPTX, nil
		case strings.HasPrefix(zf.Name, "xl/"):
			return TypeXLSX, nil
		}
	}
	return "", fmt.Errorf("%w: zip archive is not an office document", ErrUnsupportedFormat)
}

// trimPartialRune drops a multi-byte sequence cut off by the sniff window.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && i < len(b); i++ {
		end := len(b) - i
		if utf8.Valid(b[:end]) {
			return b[:end]
		}
	}
	return b
}
