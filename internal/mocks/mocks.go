// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Analysis() config.AnalysisConfig {
	args := m.Called()
	return args.Get(0).(config.AnalysisConfig)
}

func (m *MockConfig) Orchestrator() config.OrchestratorConfig {
	args := m.Called()
	return args.Get(0).(config.OrchestratorConfig)
}

func (m *MockConfig) Knowledge() config.KnowledgeConfig {
	args := m.Called()
	return args.Get(0).(config.KnowledgeConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	args := m.Called()
	return args.Get(0).(config.CacheConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) SetReasoningEnabled(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetCacheTTL(d time.Duration) {
	m.Called(d)
}

// -- LLM Client Mock --

// MockLLMClient mocks schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

var _ schemas.LLMClient = (*MockLLMClient)(nil)

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Knowledge Mocks --

// MockKnowledgeRetriever mocks schemas.KnowledgeRetriever.
type MockKnowledgeRetriever struct {
	mock.Mock
}

var _ schemas.KnowledgeRetriever = (*MockKnowledgeRetriever)(nil)

func (m *MockKnowledgeRetriever) Query(ctx context.Context, text string, corpus schemas.Corpus, k int) ([]schemas.KnowledgeChunk, error) {
	args := m.Called(ctx, text, corpus, k)
	var chunks []schemas.KnowledgeChunk
	if v := args.Get(0); v != nil {
		chunks = v.([]schemas.KnowledgeChunk)
	}
	return chunks, args.Error(1)
}

// MockEmbedder mocks schemas.Embedder.
type MockEmbedder struct {
	mock.Mock
}

var _ schemas.Embedder = (*MockEmbedder)(nil)

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	var vec []float32
	if v := args.Get(0); v != nil {
		vec = v.([]float32)
	}
	return vec, args.Error(1)
}

func (m *MockEmbedder) Dimension() int {
	return m.Called().Int(0)
}

// -- Store Mock --

// MockReportStore mocks schemas.ReportStore.
type MockReportStore struct {
	mock.Mock
}

var _ schemas.ReportStore = (*MockReportStore)(nil)

func (m *MockReportStore) LoadCacheEntry(ctx context.Context, signature string) (*schemas.CacheEntry, error) {
	args := m.Called(ctx, signature)
	var entry *schemas.CacheEntry
	if v := args.Get(0); v != nil {
		entry = v.(*schemas.CacheEntry)
	}
	return entry, args.Error(1)
}

func (m *MockReportStore) SaveCacheEntry(ctx context.Context, entry schemas.CacheEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockReportStore) DeleteCacheEntry(ctx context.Context, signature string) error {
	args := m.Called(ctx, signature)
	return args.Error(0)
}

// -- Analyzer Mock --

// MockAnalyzer mocks core.Analyzer.
type MockAnalyzer struct {
	mock.Mock
}

var _ core.Analyzer = (*MockAnalyzer)(nil)

func (m *MockAnalyzer) Name() string {
	return m.Called().String(0)
}

func (m *MockAnalyzer) Description() string {
	return m.Called().String(0)
}

func (m *MockAnalyzer) Type() core.AnalyzerType {
	return m.Called().Get(0).(core.AnalyzerType)
}

func (m *MockAnalyzer) Analyze(ctx context.Context, ac *core.AnalysisContext) (schemas.AnalyzerResult, error) {
	args := m.Called(ctx, ac)
	return args.Get(0).(schemas.AnalyzerResult), args.Error(1)
}
