// Package zombie finds operations that a router can never reach and operations that
// look unfinished.
package zombie

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-contract/internal/graph"
)

// Name identifies the analyzer in results and logs.
const Name = "ZombieEndpointAnalyzer"

// Analyzer implements core.Analyzer.
type Analyzer struct {
	*core.BaseAnalyzer
}

var _ core.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates the zombie endpoint detector.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer(Name, "Detects shadowed paths and orphaned operations", core.TypeStructural, logger),
	}
}

// Analyze runs both checks.
func (a *Analyzer) Analyze(ctx context.Context, ac *core.AnalysisContext) (schemas.AnalyzerResult, error) {
	res := schemas.AnalyzerResult{Analyzer: Name}
	g := ac.Graph
	if g == nil {
		return res, nil
	}
	ops := g.Operations()

	res.Zombies = append(res.Zombies, Shadowed(ops)...)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	for _, op := range ops {
		if reason, ok := orphaned(g, op); ok {
			res.Zombies = append(res.Zombies, schemas.ZombieEndpoint{
				ID:     core.StableID("Z-", string(schemas.ZombieOrphanedOperation), op.Path, op.Method),
				Kind:   schemas.ZombieOrphanedOperation,
				Path:   op.Path,
				Method: op.Method,
				Reason: reason,
			})
		}
	}
	for _, z := range res.Zombies {
		res.Vulnerabilities = append(res.Vulnerabilities, toVulnerability(z))
	}

	a.Logger.Debug("Zombie detection complete", zap.Int("zombies", len(res.Zombies)))
	return res, nil
}

// Shadowed reports every static path that an earlier-declared parameterized path
// of the same shape captures first. Paths are compared by their first declaration;
// each shadowed path is reported once, against the earliest shadowing path.
func Shadowed(ops []*graph.OperationNode) []schemas.ZombieEndpoint {
	var paths []string
	seen := make(map[string]struct{})
	for _, op := range ops {
		if _, ok := seen[op.Path]; ok {
			continue
		}
		seen[op.Path] = struct{}{}
		paths = append(paths, op.Path)
	}

	var out []schemas.ZombieEndpoint
	for j := range paths {
		for i := 0; i < j; i++ {
			if !shadows(paths[i], paths[j]) {
				continue
			}
			out = append(out, schemas.ZombieEndpoint{
				ID:         core.StableID("Z-", string(schemas.ZombieShadowedPath), paths[j]),
				Kind:       schemas.ZombieShadowedPath,
				Path:       paths[j],
				ShadowedBy: paths[i],
				Reason:     fmt.Sprintf("%s is declared before %s and matches it first", paths[i], paths[j]),
			})
			break
		}
	}
	return out
}

// shadows reports whether the earlier path matches every request the later path
// would, while being less specific in at least one segment.
func shadows(earlier, later string) bool {
	es, ls := Segments(earlier), Segments(later)
	if len(es) != len(ls) {
		return false
	}
	lessSpecific := false
	for k := range es {
		eParam, lParam := isParam(es[k]), isParam(ls[k])
		switch {
		case eParam && !lParam:
			lessSpecific = true
		case eParam && lParam:
		case !eParam && lParam:
			return false
		case es[k] != ls[k]:
			return false
		}
	}
	return lessSpecific
}

// Segments splits a path on "/" and drops empty segments.
func Segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

// orphaned reports operations with no inputs whose responses carry no content.
func orphaned(g *graph.Graph, op *graph.OperationNode) (string, bool) {
	if len(op.Parameters) > 0 || op.HasRequestBody {
		return "", false
	}
	if len(op.Responses) == 0 {
		return "operation takes no input and declares no responses", true
	}
	for _, r := range op.Responses {
		if len(r.ContentTypes) == 0 && r.SchemaID == "" {
			continue
		}
		if r.SchemaID != "" && !emptySchema(g, r.SchemaID) {
			return "", false
		}
		if r.SchemaID == "" && len(r.ContentTypes) > 0 {
			// Declared media type without a schema carries opaque content.
			return "", false
		}
	}
	return "operation takes no input and its responses carry no properties or content types", true
}

func emptySchema(g *graph.Graph, id string) bool {
	n, ok := g.Node(id)
	if !ok || n.Schema == nil {
		return true
	}
	return len(n.Schema.Properties) == 0 && len(g.Out(id, graph.EdgeReferences)) == 0
}

func toVulnerability(z schemas.ZombieEndpoint) schemas.Vulnerability {
	v := schemas.Vulnerability{
		ID:             core.StableID("V-", "zombie", string(z.Kind), z.Path, z.Method),
		Classification: schemas.ClassInventory,
		Description:    z.Reason,
		Location:       strings.TrimSpace(z.Method + " " + z.Path),
		Confidence:     0.8,
	}
	if z.Kind == schemas.ZombieShadowedPath {
		v.Category = "SHADOWED_ENDPOINT"
		v.Title = fmt.Sprintf("%s is shadowed by %s", z.Path, z.ShadowedBy)
		v.Severity = schemas.SeverityLow
		v.Recommendation = fmt.Sprintf("Declare %s before %s or rename one of them.", z.Path, z.ShadowedBy)
	} else {
		v.Category = "ORPHANED_OPERATION"
		v.Title = "Operation looks dead or incomplete: " + v.Location
		v.Severity = schemas.SeverityInfo
		v.Recommendation = "Document the response payload or retire the operation."
		v.Operation = v.Location
	}
	return v
}
