package mocks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/core"
)

func TestMockKnowledgeRetriever_NilResult(t *testing.T) {
	m := new(MockKnowledgeRetriever)
	boom := errors.New("unavailable")
	m.On("Query", mock.Anything, "q", schemas.CorpusAttacker, 3).Return(nil, boom)

	chunks, err := m.Query(context.Background(), "q", schemas.CorpusAttacker, 3)
	assert.Nil(t, chunks)
	assert.ErrorIs(t, err, boom)
	m.AssertExpectations(t)
}

func TestMockReportStore_RoundTrip(t *testing.T) {
	m := new(MockReportStore)
	entry := &schemas.CacheEntry{Signature: "sig"}
	m.On("LoadCacheEntry", mock.Anything, "sig").Return(entry, nil)
	m.On("LoadCacheEntry", mock.Anything, "missing").Return(nil, nil)

	got, err := m.LoadCacheEntry(context.Background(), "sig")
	require.NoError(t, err)
	assert.Same(t, entry, got)

	got, err = m.LoadCacheEntry(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMockAnalyzer_InRunner(t *testing.T) {
	m := new(MockAnalyzer)
	m.On("Name").Return("Mocked")
	m.On("Analyze", mock.Anything, mock.Anything).Return(schemas.AnalyzerResult{
		Analyzer:        "Mocked",
		Vulnerabilities: []schemas.Vulnerability{{ID: "V-1", Severity: schemas.SeverityHigh}},
	}, nil)

	runner := core.NewRunner(nil, 1, m)
	out := runner.Run(context.Background(), core.NewAnalysisContext(nil, nil, nil))
	require.Len(t, out.Vulnerabilities, 1)
	assert.Equal(t, "V-1", out.Vulnerabilities[0].ID)
	assert.Empty(t, out.Failures)
}
