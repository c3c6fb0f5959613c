package core

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/graph"
)

// AnalysisContext is the read-only input shared by all analyzers of one run. The
// indexes are built once in NewAnalysisContext and never written afterwards.
type AnalysisContext struct {
	Graph    *graph.Graph
	Findings []schemas.Finding
	Logger   *zap.Logger

	sensitiveBySchema map[string][]schemas.Finding
	publicByOp        map[string]schemas.Finding
	returnsByOpSchema map[string]schemas.Finding
	acceptsByOpSchema map[string]schemas.Finding
}

// NewAnalysisContext indexes the findings for constant-time lookups.
func NewAnalysisContext(g *graph.Graph, findings []schemas.Finding, logger *zap.Logger) *AnalysisContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	ac := &AnalysisContext{
		Graph:             g,
		Findings:          findings,
		Logger:            logger,
		sensitiveBySchema: make(map[string][]schemas.Finding),
		publicByOp:        make(map[string]schemas.Finding),
		returnsByOpSchema: make(map[string]schemas.Finding),
		acceptsByOpSchema: make(map[string]schemas.Finding),
	}
	for _, f := range findings {
		md := f.Metadata
		switch f.Kind {
		case schemas.KindSensitiveField:
			ac.sensitiveBySchema[md.Schema] = append(ac.sensitiveBySchema[md.Schema], f)
		case schemas.KindPublicEndpoint:
			ac.publicByOp[md.OperationID] = f
		case schemas.KindEndpointReturnsSchema:
			ac.returnsByOpSchema[md.OperationID+"|"+md.Schema] = f
		case schemas.KindEndpointAcceptsSchema:
			ac.acceptsByOpSchema[md.OperationID+"|"+md.Schema] = f
		}
	}
	return ac
}

// SensitiveFields returns the SENSITIVE_FIELD findings of a schema.
func (ac *AnalysisContext) SensitiveFields(schemaName string) []schemas.Finding {
	return ac.sensitiveBySchema[schemaName]
}

// AllSensitiveFields returns every SENSITIVE_FIELD finding in extractor order.
func (ac *AnalysisContext) AllSensitiveFields() []schemas.Finding {
	var out []schemas.Finding
	for _, f := range ac.Findings {
		if f.Kind == schemas.KindSensitiveField {
			out = append(out, f)
		}
	}
	return out
}

// PublicEndpoint returns the PUBLIC_ENDPOINT finding for an operation node ID.
func (ac *AnalysisContext) PublicEndpoint(opID string) (schemas.Finding, bool) {
	f, ok := ac.publicByOp[opID]
	return f, ok
}

// ReturnsFinding returns the ENDPOINT_RETURNS_SCHEMA finding linking an operation
// and a schema.
func (ac *AnalysisContext) ReturnsFinding(opID, schemaName string) (schemas.Finding, bool) {
	f, ok := ac.returnsByOpSchema[opID+"|"+schemaName]
	return f, ok
}

// AcceptsFinding returns the ENDPOINT_ACCEPTS_SCHEMA finding linking an operation
// and a schema.
func (ac *AnalysisContext) AcceptsFinding(opID, schemaName string) (schemas.Finding, bool) {
	f, ok := ac.acceptsByOpSchema[opID+"|"+schemaName]
	return f, ok
}
