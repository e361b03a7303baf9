package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/wintrouble/backend/internal/loader"
	"github.com/wintrouble/backend/internal/storage/models"
)

const (
	SourceLocalDir = "local_dir"
	SourceUpload   = "local_upload"
)

type Enumerator interface {
	Enumerate(ctx context.Context) ([]models.DocumentDescriptor, error)
}

// DirEnumerator lists every regular file under Root. Document ids are paths
// relative to Root with forward slashes; hidden files and directories are
// skipped.
type DirEnumerator struct {
	Root   string
	Source string
}

func NewDirEnumerator(root, source string) *DirEnumerator {
	if source == "" {
		source = SourceLocalDir
	}
	return &DirEnumerator{Root: root, Source: source}
}

func (e *DirEnumerator) Enumerate(ctx context.Context) ([]models.DocumentDescriptor, error) {
	var docs []models.DocumentDescriptor

	err := filepath.WalkDir(e.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != e.Root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(e.Root, path)
		if err != nil {
			return err
		}

		modified := info.ModTime().UTC()
		docType, _ := loader.NormalizeType(filepath.Ext(path))
		docs = append(docs, models.DocumentDescriptor{
			Source:       e.Source,
			DocumentID:   filepath.ToSlash(rel),
			DocumentType: docType,
			DocumentName: d.Name(),
			LastModified: &modified,
			Path:         path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", e.Root, err)
	}
	return docs, nil
}
