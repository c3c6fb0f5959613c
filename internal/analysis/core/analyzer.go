package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// AnalyzerType distinguishes the deterministic analyzers by the kind of fact they
// produce.
type AnalyzerType string

const (
	// TypeDataFlow analyzers follow sensitive data through the graph.
	TypeDataFlow AnalyzerType = "DATA_FLOW"
	// TypeAccessControl analyzers inspect security requirements.
	TypeAccessControl AnalyzerType = "ACCESS_CONTROL"
	// TypeStructural analyzers compare shapes and paths.
	TypeStructural AnalyzerType = "STRUCTURAL"
)

// Analyzer is the contract every deterministic analysis module implements. An
// analyzer is a pure function over the immutable AnalysisContext: it must not
// mutate the graph or the findings and must be safe to run concurrently with the
// other analyzers.
type Analyzer interface {
	Name() string
	Description() string
	Type() AnalyzerType
	Analyze(ctx context.Context, analysisCtx *AnalysisContext) (schemas.AnalyzerResult, error)
}

// BaseAnalyzer provides a foundational implementation of the `Analyzer` interface,
// handling common fields like name, description, and type. It is intended to be
// embedded within specific analyzer implementations to reduce boilerplate code.
type BaseAnalyzer struct {
	name         string
	description  string
	analyzerType AnalyzerType
	Logger       *zap.Logger // Exposed for use in specific analyzer implementations.
}

// NewBaseAnalyzer creates and initializes a new BaseAnalyzer.
func NewBaseAnalyzer(name, description string, analyzerType AnalyzerType, logger *zap.Logger) *BaseAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAnalyzer{
		name:         name,
		description:  description,
		analyzerType: analyzerType,
		Logger:       logger.Named(name), // Automatically create a named sub-logger.
	}
}

// Name returns the analyzer's name.
func (b *BaseAnalyzer) Name() string {
	return b.name
}

// Description returns the analyzer's description.
func (b *BaseAnalyzer) Description() string {
	return b.description
}

// Type returns the analyzer's type.
func (b *BaseAnalyzer) Type() AnalyzerType {
	return b.analyzerType
}

// StableID hashes identifying parts into a short prefixed identifier, so identical
// inputs always yield identical IDs.
func StableID(prefix string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return prefix + hex.EncodeToString(sum[:])[:12]
}
