package query

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/vector"
)

const (
	DefaultTopK = 5
	// FallbackRating stands in for the model's self-rating when its reply
	// holds no number.
	FallbackRating = 50.0
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator writes the answer and grades it. llm.Client and
// llm.ExtractiveGenerator implement it.
type Generator interface {
	GenerateAnswer(ctx context.Context, question string, contexts []string) (string, error)
	RateConfidence(ctx context.Context, question, answer string) (float64, bool, error)
}

// RAGAnswerer retrieves the closest chunks and has the generator answer from
// them. Confidence is the mean of the top hit's similarity (scaled to 0-100)
// and the generator's own rating.
type RAGAnswerer struct {
	embedder  Embedder
	index     vector.Index
	generator Generator
	topK      int
	log       *zap.Logger
}

func NewRAGAnswerer(embedder Embedder, index vector.Index, generator Generator, topK int, log *zap.Logger) *RAGAnswerer {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RAGAnswerer{embedder: embedder, index: index, generator: generator, topK: topK, log: log}
}

func (a *RAGAnswerer) Answer(ctx context.Context, question string) (*Answer, error) {
	vectors, err := a.embedder.EmbedBatch(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 question embedding, got %d", len(vectors))
	}

	hits, err := a.index.Search(ctx, vectors[0], a.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	contexts := make([]string, len(hits))
	sources := make([]Source, len(hits))
	for i, h := range hits {
		contexts[i] = h.Text
		sources[i] = Source{
			ChunkID:      h.ID,
			Source:       h.Source,
			DocumentID:   h.DocumentID,
			DocumentName: h.DocumentName,
			Section:      h.Section,
			Locator:      h.Locator,
			Score:        h.Score,
		}
	}

	text, err := a.generator.GenerateAnswer(ctx, question, contexts)
	if err != nil {
		return nil, err
	}

	rating, ok, err := a.generator.RateConfidence(ctx, question, text)
	if err != nil {
		return nil, err
	}
	if !ok {
		a.log.Debug("Unusable confidence rating, using fallback")
		rating = FallbackRating
	}

	var similarity float64
	if len(hits) > 0 {
		similarity = clamp(float64(hits[0].Score)*100, 0, 100)
	}

	return &Answer{
		Text:       text,
		Confidence: round2((similarity + clamp(rating, 0, 100)) / 2),
		Sources:    sources,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
