// Package vector defines the chunk index used for retrieval and the backends
// that implement it.
package vector

import (
	"context"
	"math"
	"time"
)

// Point is one indexed chunk.
type Point struct {
	ID           string
	DocumentID   string
	ChunkIndex   int
	Vector       []float32
	Text         string
	Source       string
	DocumentName string
	Section      string
	Locator      string
	LastModified *time.Time
}

type Hit struct {
	Point
	// Score is the cosine similarity to the query vector.
	Score float32
}

// Index stores chunk vectors keyed by chunk id and grouped by document. A
// document is identified by its source together with its document id.
type Index interface {
	EnsureCollection(ctx context.Context) error
	DeleteDocument(ctx context.Context, source, documentID string) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, query []float32, topK int) ([]Hit, error)
	Close() error
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
