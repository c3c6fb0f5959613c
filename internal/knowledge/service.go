// File: internal/knowledge/service.go
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// DefaultTopK is used when a query asks for k <= 0.
const DefaultTopK = 3

var (
	// ErrNotLoaded is returned when Query is called before Load.
	ErrNotLoaded = errors.New("knowledge service has not been loaded")
	// ErrAlreadyLoaded is returned by a second Load; the corpora are immutable once served.
	ErrAlreadyLoaded = errors.New("knowledge service is already loaded")
)

// Source supplies corpus chunks. It is read once, at Load.
type Source interface {
	Chunks(ctx context.Context) ([]schemas.KnowledgeChunk, error)
}

// Service answers similarity queries over the loaded corpora. It is constructed
// once per process and is read-only after Load, so concurrent queries need no
// locking beyond the load barrier.
type Service struct {
	logger   *zap.Logger
	embedder schemas.Embedder
	topK     int

	mu      sync.RWMutex
	loaded  bool
	corpora map[schemas.Corpus][]schemas.KnowledgeChunk
}

var _ schemas.KnowledgeRetriever = (*Service)(nil)

// NewService creates an empty service. topK <= 0 selects DefaultTopK.
func NewService(logger *zap.Logger, embedder schemas.Embedder, topK int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{
		logger:   logger.Named("knowledge"),
		embedder: embedder,
		topK:     topK,
		corpora:  make(map[schemas.Corpus][]schemas.KnowledgeChunk),
	}
}

// Load reads every chunk from the source. Chunks without a stored embedding are
// embedded with the service's embedder. Chunks whose dimension does not match the
// embedder are skipped with a warning. All vectors are L2-normalized so a query
// reduces to a dot product.
func (s *Service) Load(ctx context.Context, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return ErrAlreadyLoaded
	}

	chunks, err := src.Chunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to read knowledge source: %w", err)
	}

	dim := s.embedder.Dimension()
	corpora := make(map[schemas.Corpus][]schemas.KnowledgeChunk)
	skipped := 0
	for _, c := range chunks {
		if c.Corpus == "" || c.ID == "" {
			skipped++
			continue
		}
		if len(c.Embedding) == 0 {
			vec, err := s.embedder.Embed(ctx, c.Title+"\n"+c.Content)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %s: %w", c.ID, err)
			}
			c.Embedding = vec
		}
		if len(c.Embedding) != dim {
			s.logger.Warn("Skipping chunk with mismatched embedding dimension",
				zap.String("chunk_id", c.ID), zap.Int("dimension", len(c.Embedding)), zap.Int("expected", dim))
			skipped++
			continue
		}
		c.Embedding = normalize(c.Embedding)
		c.Score = 0
		corpora[c.Corpus] = append(corpora[c.Corpus], c)
	}
	for _, chunks := range corpora {
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	}
	s.corpora = corpora
	s.loaded = true

	s.logger.Info("Knowledge corpora loaded",
		zap.Int("attacker_chunks", len(s.corpora[schemas.CorpusAttacker])),
		zap.Int("governance_chunks", len(s.corpora[schemas.CorpusGovernance])),
		zap.Int("skipped", skipped))
	return nil
}

// Query returns at most k chunks from the corpus ordered by descending cosine
// similarity, ties broken by chunk ID. An unknown or empty corpus yields no chunks.
func (s *Service) Query(ctx context.Context, text string, corpus schemas.Corpus, k int) ([]schemas.KnowledgeChunk, error) {
	s.mu.RLock()
	loaded := s.loaded
	chunks := s.corpora[corpus]
	s.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}
	if k <= 0 {
		k = s.topK
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(query) != s.embedder.Dimension() {
		return nil, fmt.Errorf("query embedding has dimension %d, expected %d", len(query), s.embedder.Dimension())
	}
	query = normalize(query)

	scored := make([]schemas.KnowledgeChunk, len(chunks))
	for i, c := range chunks {
		c.Score = dot(query, c.Embedding)
		scored[i] = c
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Size reports how many chunks a corpus holds.
func (s *Service) Size(corpus schemas.Corpus) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.corpora[corpus])
}

// Cosine returns the cosine similarity of two equal-length vectors, or 0 when
// either is a zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var ab, aa, bb float64
	for i := range a {
		ab += float64(a[i]) * float64(b[i])
		aa += float64(a[i]) * float64(a[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return ab / (math.Sqrt(aa) * math.Sqrt(bb))
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
