package knowledge

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"google.golang.org/genai"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// DefaultDimension is the vector size of the hashing embedder.
const DefaultDimension = 256

// HashingEmbedder is an offline embedder using signed feature hashing over word
// unigrams and bigrams. It needs no model and is deterministic, which makes it the
// default for the built-in corpus and for tests.
type HashingEmbedder struct {
	dim int
}

var _ schemas.Embedder = (*HashingEmbedder)(nil)

// NewHashingEmbedder creates a hashing embedder. dim <= 0 selects DefaultDimension.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashingEmbedder{dim: dim}
}

func (h *HashingEmbedder) Dimension() int { return h.dim }

func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		h.add(vec, w, 1)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}
	return normalize(vec), nil
}

func (h *HashingEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	// The top bit picks the sign so collisions tend to cancel instead of pile up.
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// contentEmbedder is the part of the genai SDK the Gemini embedder calls.
// *genai.Models satisfies it.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder embeds text with a Gemini embedding model.
type GeminiEmbedder struct {
	models contentEmbedder
	model  string
	dim    int
}

var _ schemas.Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder wraps an SDK client. The stored corpus embeddings must have
// been produced by the same model and dimension.
func NewGeminiEmbedder(client *genai.Client, model string, dim int) *GeminiEmbedder {
	return newGeminiEmbedder(client.Models, model, dim)
}

func newGeminiEmbedder(models contentEmbedder, model string, dim int) *GeminiEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &GeminiEmbedder{models: models, model: model, dim: dim}
}

func (g *GeminiEmbedder) Dimension() int { return g.dim }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.models.EmbedContent(ctx, g.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(g.dim)),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("gemini embedding returned no vectors")
	}
	return resp.Embeddings[0].Values, nil
}
