package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic feature-hashing embedder. It needs no
// network access, which makes it the embedder for offline runs and tests.
// Texts sharing words and character trigrams land close together.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	v := make([]float32, h.dim)
	for _, word := range tokens(text) {
		h.add(v, "w:"+word, 1)
		padded := []rune(" " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(v, "t:"+string(padded[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ExtractiveGenerator answers from the retrieved passages without a model.
// It is used when no API key is configured.
type ExtractiveGenerator struct{}

func (ExtractiveGenerator) GenerateAnswer(_ context.Context, _ string, contexts []string) (string, error) {
	if len(contexts) == 0 {
		return NoInformationAnswer, nil
	}
	return strings.TrimSpace(contexts[0]), nil
}

// RateConfidence scores the share of question words that the answer covers.
func (ExtractiveGenerator) RateConfidence(_ context.Context, question, answer string) (float64, bool, error) {
	qs := tokens(question)
	if len(qs) == 0 {
		return 0, false, nil
	}
	have := make(map[string]struct{})
	for _, w := range tokens(answer) {
		have[w] = struct{}{}
	}
	hit := 0
	for _, w := range qs {
		if _, ok := have[w]; ok {
			hit++
		}
	}
	return 100 * float64(hit) / float64(len(qs)), true, nil
}
