package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/chunker"
	"github.com/wintrouble/backend/internal/vector"
)

var (
	ErrEmbeddingFailure  = errors.New("embedding failed")
	ErrIndexWriteFailure = errors.New("vector index write failed")
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentKey identifies a document across sources. Document ids are only
// unique within their source, and source labels never contain a colon.
func DocumentKey(source, documentID string) string {
	return source + ":" + documentID
}

// ChunkID is the stable vector id of a chunk: the same document chunked the
// same way always produces the same id set.
func ChunkID(source, documentID string, index int) string {
	return DocumentKey(source, documentID) + "_" + strconv.Itoa(index)
}

// Writer replaces the indexed vectors of a document.
type Writer struct {
	embedder Embedder
	index    vector.Index
	log      *zap.Logger
}

func NewWriter(embedder Embedder, index vector.Index, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{embedder: embedder, index: index, log: log}
}

// Upsert embeds every chunk before touching the index, so an embedding
// failure leaves the previously stored vectors in place. It then deletes all
// vectors of the document and writes the new ones.
func (w *Writer) Upsert(ctx context.Context, source, documentID string, chunks []chunker.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = w.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingFailure, len(vectors), len(texts))
		}
	}

	points := make([]vector.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vector.Point{
			ID:           ChunkID(source, documentID, c.Index),
			DocumentID:   documentID,
			ChunkIndex:   c.Index,
			Vector:       vectors[i],
			Text:         c.Text,
			Source:       source,
			DocumentName: c.DocumentName,
			Section:      c.Section,
			Locator:      c.Locator,
			LastModified: c.LastModified,
		}
	}

	if err := w.index.DeleteDocument(ctx, source, documentID); err != nil {
		return fmt.Errorf("%w: delete previous vectors: %w", ErrIndexWriteFailure, err)
	}
	if len(points) > 0 {
		if err := w.index.Upsert(ctx, points); err != nil {
			return fmt.Errorf("%w: %w", ErrIndexWriteFailure, err)
		}
	}

	w.log.Debug("Document vectors replaced",
		zap.String("source", source),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(points)),
	)
	return nil
}
