package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/graph"
)

// Extractor derives atomic findings from a reference graph. It performs no I/O and
// never returns an error: if anything goes wrong the result is simply empty.
type Extractor struct {
	logger  *zap.Logger
	lexicon Lexicon
}

// NewExtractor creates an extractor. An empty lexicon falls back to the defaults.
func NewExtractor(logger *zap.Logger, lexicon Lexicon) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lexicon.IsEmpty() {
		lexicon = DefaultLexicon()
	}
	return &Extractor{logger: logger.Named("findings_extractor"), lexicon: lexicon}
}

// Lexicon returns the vocabulary in use.
func (e *Extractor) Lexicon() Lexicon {
	return e.lexicon
}

// Extract produces the sorted finding set for the graph.
func (e *Extractor) Extract(g *graph.Graph) (out []schemas.Finding) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic recovered during findings extraction",
				zap.Any("panic_value", r),
				zap.Stack("stack"),
			)
			out = nil
		}
	}()
	if g == nil {
		return nil
	}

	// 1. Operation-level facts.
	for _, op := range g.Operations() {
		if op.Public {
			out = append(out, publicEndpoint(op))
		}
		out = append(out, e.associations(g, op, graph.EdgeReturns)...)
		out = append(out, e.associations(g, op, graph.EdgeAccepts)...)
	}

	// 2. Schema-level facts.
	for _, s := range g.Schemas() {
		for _, p := range s.Properties {
			term, tier, ok := e.lexicon.Match(p.Name)
			if !ok {
				continue
			}
			out = append(out, sensitiveField(s, p, term, tier))
		}
	}

	// 3. Structural notes surface as facts, never as errors.
	for _, n := range g.Notes() {
		out = append(out, schemas.Finding{
			ID:          ID(schemas.KindStructuralNote, n.Location, n.Message),
			Kind:        schemas.KindStructuralNote,
			Location:    displayLocation(n.Location),
			Description: n.Message,
			Metadata:    schemas.FindingMetadata{Note: string(n.Kind)},
		})
	}

	Sort(out)
	e.logger.Debug("Findings extracted", zap.Int("count", len(out)))
	return out
}

func publicEndpoint(op *graph.OperationNode) schemas.Finding {
	return schemas.Finding{
		ID:          ID(schemas.KindPublicEndpoint, op.ID, ""),
		Kind:        schemas.KindPublicEndpoint,
		Location:    op.Label(),
		Description: fmt.Sprintf("%s has no effective security requirement and is reachable anonymously", op.Label()),
		Metadata: schemas.FindingMetadata{
			Method:      op.Method,
			Path:        op.Path,
			OperationID: op.ID,
		},
	}
}

// associations emits one finding per schema reachable from the operation through
// the given edge type, each carrying that schema's own properties only.
func (e *Extractor) associations(g *graph.Graph, op *graph.OperationNode, via graph.EdgeType) []schemas.Finding {
	kind := schemas.KindEndpointReturnsSchema
	verb := "returns"
	if via == graph.EdgeAccepts {
		kind = schemas.KindEndpointAcceptsSchema
		verb = "accepts"
	}
	status := make(map[string]string)
	for _, edge := range g.Out(op.ID, via) {
		if _, ok := status[edge.To]; !ok {
			status[edge.To] = edge.Label
		}
	}

	var out []schemas.Finding
	for _, schemaID := range g.ReachableSchemas(op.ID, via) {
		s, ok := g.Schema(graph.SchemaName(schemaID))
		if !ok {
			continue
		}
		props := make([]string, 0, len(s.Properties))
		for _, p := range s.Properties {
			props = append(props, p.Name+":"+p.Type)
		}
		md := schemas.FindingMetadata{
			Method:      op.Method,
			Path:        op.Path,
			OperationID: op.ID,
			Schema:      s.Name,
			Properties:  props,
		}
		if via == graph.EdgeReturns {
			md.Status = status[schemaID]
		}
		desc := fmt.Sprintf("%s %s schema %s", op.Label(), verb, s.Name)
		if md.Status == "" && via == graph.EdgeReturns {
			desc += " (nested)"
		}
		out = append(out, schemas.Finding{
			ID:          ID(kind, op.ID, schemaID),
			Kind:        kind,
			Location:    op.Label() + " -> " + s.Name,
			Description: desc,
			Metadata:    md,
		})
	}
	return out
}

func sensitiveField(s *graph.SchemaNode, p graph.PropertyInfo, term string, tier schemas.SensitivityTier) schemas.Finding {
	return schemas.Finding{
		ID:          ID(schemas.KindSensitiveField, s.ID, p.Name),
		Kind:        schemas.KindSensitiveField,
		Location:    s.Name + "." + p.Name,
		Description: fmt.Sprintf("Property %s of schema %s matches sensitive term %q (%s tier)", p.Name, s.Name, term, tier),
		Metadata: schemas.FindingMetadata{
			Schema:    s.Name,
			Field:     p.Name,
			FieldType: p.Type,
			Tier:      tier,
			Note:      term,
		},
	}
}

// ID derives a stable finding identifier from its identifying parts.
func ID(kind schemas.FindingKind, location, detail string) string {
	sum := sha256.Sum256([]byte(string(kind) + "|" + location + "|" + detail))
	return "F-" + hex.EncodeToString(sum[:])[:12]
}

// Sort orders findings by kind, location and ID in place.
func Sort(fs []schemas.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Kind != fs[j].Kind {
			return fs[i].Kind < fs[j].Kind
		}
		if fs[i].Location != fs[j].Location {
			return fs[i].Location < fs[j].Location
		}
		return fs[i].ID < fs[j].ID
	})
}

// Index maps finding IDs to findings.
func Index(fs []schemas.Finding) map[string]schemas.Finding {
	idx := make(map[string]schemas.Finding, len(fs))
	for _, f := range fs {
		idx[f.ID] = f
	}
	return idx
}

func displayLocation(nodeID string) string {
	if strings.HasPrefix(nodeID, "op:") {
		return strings.TrimPrefix(nodeID, "op:")
	}
	return graph.SchemaName(nodeID)
}
