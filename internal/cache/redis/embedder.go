package redis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/metrics"
	"github.com/wintrouble/backend/pkg/utils"
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbeddingCache interface {
	GetEmbeddings(ctx context.Context, keys []string) ([][]float32, error)
	SetEmbeddings(ctx context.Context, entries map[string][]float32) error
}

// CachedEmbedder serves repeated texts from the cache and embeds only the
// misses. Cache failures degrade to calling the wrapped embedder.
type CachedEmbedder struct {
	next      Embedder
	cache     EmbeddingCache
	namespace string
	log       *zap.Logger
}

// NewCachedEmbedder wraps next. namespace should identify the embedding
// model so vectors from different models never mix.
func NewCachedEmbedder(next Embedder, cache EmbeddingCache, namespace string, log *zap.Logger) *CachedEmbedder {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedEmbedder{next: next, cache: cache, namespace: namespace, log: log}
}

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = utils.ContentKey(e.namespace, t)
	}

	out, err := e.cache.GetEmbeddings(ctx, keys)
	if err != nil || len(out) != len(texts) {
		if err != nil {
			e.log.Warn("Embedding cache unavailable", zap.Error(err))
		}
		out = make([][]float32, len(texts))
	}

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}

	metrics.CacheHits.WithLabelValues("embedding").Add(float64(len(texts) - len(missIdx)))
	metrics.CacheMisses.WithLabelValues("embedding").Add(float64(len(missIdx)))

	if len(missIdx) == 0 {
		return out, nil
	}

	fresh, err := e.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	entries := make(map[string][]float32, len(missIdx))
	for j, i := range missIdx {
		out[i] = fresh[j]
		entries[keys[i]] = fresh[j]
	}

	if err := e.cache.SetEmbeddings(ctx, entries); err != nil {
		e.log.Warn("Failed to store embeddings in cache", zap.Error(err))
	}

	return out, nil
}
