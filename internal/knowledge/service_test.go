package knowledge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// tableEmbedder maps known texts to fixed vectors.
type tableEmbedder struct {
	dim     int
	vectors map[string][]float32
	err     error
}

func (e *tableEmbedder) Dimension() int { return e.dim }

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, e.dim), nil
}

func vectorChunks() []schemas.KnowledgeChunk {
	return []schemas.KnowledgeChunk{
		{ID: "a", Corpus: schemas.CorpusAttacker, Title: "A", Embedding: []float32{1, 0, 0}},
		{ID: "b", Corpus: schemas.CorpusAttacker, Title: "B", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c", Corpus: schemas.CorpusAttacker, Title: "C", Embedding: []float32{0, 1, 0}},
		{ID: "d", Corpus: schemas.CorpusAttacker, Title: "D", Embedding: []float32{0, 0, 1}},
		{ID: "e", Corpus: schemas.CorpusAttacker, Title: "E", Embedding: []float32{2, 0, 0}},
		{ID: "g", Corpus: schemas.CorpusGovernance, Title: "G", Embedding: []float32{1, 0, 0}},
		{ID: "bad", Corpus: schemas.CorpusAttacker, Title: "Bad", Embedding: []float32{1, 0}},
	}
}

func loadedService(t *testing.T) *Service {
	t.Helper()
	emb := &tableEmbedder{dim: 3, vectors: map[string][]float32{
		"x-axis": {1, 0, 0},
		"y-axis": {0, 1, 0},
	}}
	svc := NewService(zaptest.NewLogger(t), emb, 0)
	require.NoError(t, svc.Load(context.Background(), NewMemorySource(vectorChunks())))
	return svc
}

func TestService_QueryTopK(t *testing.T) {
	svc := loadedService(t)

	got, err := svc.Query(context.Background(), "x-axis", schemas.CorpusAttacker, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// "a" and "e" are both parallel to the query (cosine 1); the tie breaks by ID.
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "e", got[1].ID)
	assert.Equal(t, "b", got[2].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.InDelta(t, 1.0, got[1].Score, 1e-6)
	assert.Greater(t, got[2].Score, 0.9)
}

func TestService_DefaultK(t *testing.T) {
	svc := loadedService(t)
	got, err := svc.Query(context.Background(), "y-axis", schemas.CorpusAttacker, 0)
	require.NoError(t, err)
	require.Len(t, got, DefaultTopK)
	assert.Equal(t, "c", got[0].ID)
}

func TestService_CorpusIsolationAndSkips(t *testing.T) {
	svc := loadedService(t)
	assert.Equal(t, 5, svc.Size(schemas.CorpusAttacker), "mismatched dimension chunk is skipped")
	assert.Equal(t, 1, svc.Size(schemas.CorpusGovernance))

	got, err := svc.Query(context.Background(), "x-axis", schemas.CorpusGovernance, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "g", got[0].ID)

	got, err = svc.Query(context.Background(), "x-axis", "unknown", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestService_LoadLifecycle(t *testing.T) {
	emb := &tableEmbedder{dim: 3}
	svc := NewService(nil, emb, 3)

	_, err := svc.Query(context.Background(), "x", schemas.CorpusAttacker, 1)
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, svc.Load(context.Background(), NewMemorySource(nil)))
	assert.ErrorIs(t, svc.Load(context.Background(), NewMemorySource(nil)), ErrAlreadyLoaded)
}

func TestService_QueryEmbedderFailure(t *testing.T) {
	svc := loadedService(t)
	svc.embedder = &tableEmbedder{dim: 3, err: errors.New("model offline")}

	_, err := svc.Query(context.Background(), "x-axis", schemas.CorpusAttacker, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func TestService_ResultsDoNotAliasCorpus(t *testing.T) {
	svc := loadedService(t)
	got, err := svc.Query(context.Background(), "x-axis", schemas.CorpusAttacker, 1)
	require.NoError(t, err)
	got[0].Title = "mutated"

	again, err := svc.Query(context.Background(), "x-axis", schemas.CorpusAttacker, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", again[0].Title)
}

func TestService_ConcurrentQueries(t *testing.T) {
	svc := loadedService(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Query(context.Background(), "y-axis", schemas.CorpusAttacker, 2)
			assert.NoError(t, err)
			assert.Len(t, got, 2)
		}()
	}
	wg.Wait()
}

func TestService_DefaultCorpusWithHashing(t *testing.T) {
	src, err := DefaultSource()
	require.NoError(t, err)
	svc := NewService(zaptest.NewLogger(t), NewHashingEmbedder(0), 3)
	require.NoError(t, svc.Load(context.Background(), src))

	assert.Greater(t, svc.Size(schemas.CorpusAttacker), 3)
	assert.Greater(t, svc.Size(schemas.CorpusGovernance), 3)

	got, err := svc.Query(context.Background(), "public endpoint leaks ssn and address personal data", schemas.CorpusGovernance, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	assert.Contains(t, ids, "gov-privacy-pii")
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 0}))
}
