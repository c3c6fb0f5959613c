// Package authz builds the operation by scope authorization matrix and checks it
// for anomalies.
package authz

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-contract/internal/findings"
	"github.com/xkilldash9x/scalpel-contract/internal/graph"
)

// Name identifies the analyzer in results and logs.
const Name = "AuthzMatrixAnalyzer"

// Options tunes the anomaly rules. The over-permissive rule is a heuristic, so its
// reporting threshold is configurable.
type Options struct {
	// ReadMarkers are tokens that mark a scope as read-only ("read", "view").
	ReadMarkers []string `mapstructure:"read_markers" yaml:"read_markers"`
	// PrivilegedMarkers are tokens that mark a scope as write or admin level.
	PrivilegedMarkers []string `mapstructure:"privileged_markers" yaml:"privileged_markers"`
	// IdentityFields are request property names treated as mutable identity or role.
	IdentityFields []string `mapstructure:"identity_fields" yaml:"identity_fields"`
	// MaxScopesPerOperation is the scope count above which a read operation counts
	// as over-scoped.
	MaxScopesPerOperation int `mapstructure:"max_scopes_per_operation" yaml:"max_scopes_per_operation"`
	// ConfidenceThreshold is the minimum confidence for reporting over-permissive
	// scope anomalies.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
}

// DefaultOptions returns the built-in rule tuning.
func DefaultOptions() Options {
	return Options{
		ReadMarkers:           []string{"read", "view", "list", "get", "readonly", "ro"},
		PrivilegedMarkers:     []string{"write", "admin", "delete", "manage", "full", "all", "*"},
		IdentityFields:        []string{"role", "permission", "is_admin", "admin", "owner", "owner_id", "user_id", "username", "group", "scope"},
		MaxScopesPerOperation: 3,
		ConfidenceThreshold:   0.3,
	}
}

// Analyzer implements core.Analyzer.
type Analyzer struct {
	*core.BaseAnalyzer
	opts     Options
	identity findings.Lexicon
}

var _ core.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates the authorization analyzer. Zero-valued option fields take
// their defaults.
func NewAnalyzer(logger *zap.Logger, opts Options) *Analyzer {
	def := DefaultOptions()
	if len(opts.ReadMarkers) == 0 {
		opts.ReadMarkers = def.ReadMarkers
	}
	if len(opts.PrivilegedMarkers) == 0 {
		opts.PrivilegedMarkers = def.PrivilegedMarkers
	}
	if len(opts.IdentityFields) == 0 {
		opts.IdentityFields = def.IdentityFields
	}
	if opts.MaxScopesPerOperation <= 0 {
		opts.MaxScopesPerOperation = def.MaxScopesPerOperation
	}
	return &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer(Name, "Builds the operation/scope matrix and flags authorization anomalies", core.TypeAccessControl, logger),
		opts:         opts,
		// Identity fields reuse the sensitive-name matcher so "userRole" and
		// "is-admin" behave like the lexicon does.
		identity: findings.Lexicon{High: opts.IdentityFields},
	}
}

// Analyze builds the matrix and evaluates the three rules independently.
func (a *Analyzer) Analyze(ctx context.Context, ac *core.AnalysisContext) (schemas.AnalyzerResult, error) {
	res := schemas.AnalyzerResult{Analyzer: Name}
	g := ac.Graph
	if g == nil {
		return res, nil
	}
	res.AuthzMatrix = BuildMatrix(g)

	for _, op := range g.Operations() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if an, ok := a.destructiveUnderRead(g, ac, op); ok {
			res.AuthzAnomalies = append(res.AuthzAnomalies, an)
		}
		if an, ok := a.publicSensitive(g, ac, op); ok {
			res.AuthzAnomalies = append(res.AuthzAnomalies, an)
		}
		if an, ok := a.overlyPermissive(op); ok {
			res.AuthzAnomalies = append(res.AuthzAnomalies, an)
		}
	}
	for _, an := range res.AuthzAnomalies {
		res.Vulnerabilities = append(res.Vulnerabilities, toVulnerability(an))
	}

	a.Logger.Debug("Authorization analysis complete",
		zap.Int("rows", len(res.AuthzMatrix.Rows)),
		zap.Int("columns", len(res.AuthzMatrix.Columns)),
		zap.Int("anomalies", len(res.AuthzAnomalies)))
	return res, nil
}

// BuildMatrix collects the sparse operation by scope matrix in declaration order.
func BuildMatrix(g *graph.Graph) *schemas.AuthzMatrix {
	m := &schemas.AuthzMatrix{Cells: make(map[string][]string)}
	cols := make(map[string]struct{})
	for _, op := range g.Operations() {
		row := op.Label()
		m.Rows = append(m.Rows, row)
		scopes := op.Scopes()
		if len(scopes) > 0 {
			m.Cells[row] = scopes
		}
		for _, s := range scopes {
			cols[s] = struct{}{}
		}
	}
	for c := range cols {
		m.Columns = append(m.Columns, c)
	}
	sort.Strings(m.Columns)
	return m
}

// destructiveUnderRead is rule (a): DELETE, or PUT/PATCH that accept identity or role
// fields, admitted by some requirement whose scopes are all read-only.
func (a *Analyzer) destructiveUnderRead(g *graph.Graph, ac *core.AnalysisContext, op *graph.OperationNode) (schemas.AuthzAnomaly, bool) {
	var fieldIDs []string
	switch op.Method {
	case "DELETE":
	case "PUT", "PATCH":
		fields, ids := a.identityFields(g, ac, op)
		if len(fields) == 0 {
			return schemas.AuthzAnomaly{}, false
		}
		fieldIDs = ids
	default:
		return schemas.AuthzAnomaly{}, false
	}

	var readOnly []string
	for _, req := range op.Security {
		if req.Scheme == "" || len(req.Scopes) == 0 {
			continue
		}
		allRead := true
		for _, s := range req.Scopes {
			if !a.isRead(s) {
				allRead = false
				break
			}
		}
		if allRead {
			readOnly = append(readOnly, req.Scopes...)
		}
	}
	if len(readOnly) == 0 {
		return schemas.AuthzAnomaly{}, false
	}

	recommended := make([]string, 0, len(readOnly))
	for _, s := range dedupe(readOnly) {
		recommended = append(recommended, a.toWrite(s))
	}
	return a.anomaly(schemas.RuleDestructiveUnderReadScope, op, dedupe(recommended), 0.9,
		fmt.Sprintf("%s modifies state but is admitted by read-only scopes %s", op.Label(), strings.Join(dedupe(readOnly), ", ")),
		fieldIDs), true
}

// identityFields returns the identity-like property names of the request schemas
// and the IDs of the associations that carry them.
func (a *Analyzer) identityFields(g *graph.Graph, ac *core.AnalysisContext, op *graph.OperationNode) ([]string, []string) {
	var fields, ids []string
	for _, sid := range g.ReachableSchemas(op.ID, graph.EdgeAccepts) {
		s, ok := g.Schema(graph.SchemaName(sid))
		if !ok {
			continue
		}
		matched := false
		for _, p := range s.Properties {
			if _, _, hit := a.identity.Match(p.Name); hit {
				fields = append(fields, s.Name+"."+p.Name)
				matched = true
			}
		}
		if f, ok := ac.AcceptsFinding(op.ID, s.Name); ok && matched {
			ids = append(ids, f.ID)
		}
	}
	return fields, ids
}

// publicSensitive is rule (b): a public operation whose response includes a schema
// carrying a SENSITIVE_FIELD finding.
func (a *Analyzer) publicSensitive(g *graph.Graph, ac *core.AnalysisContext, op *graph.OperationNode) (schemas.AuthzAnomaly, bool) {
	pub, ok := ac.PublicEndpoint(op.ID)
	if !ok {
		return schemas.AuthzAnomaly{}, false
	}
	ids := []string{pub.ID}
	var fields []string
	for _, sid := range g.ReachableSchemas(op.ID, graph.EdgeReturns) {
		for _, f := range ac.SensitiveFields(graph.SchemaName(sid)) {
			ids = append(ids, f.ID)
			fields = append(fields, f.Location)
		}
	}
	if len(fields) == 0 {
		return schemas.AuthzAnomaly{}, false
	}
	recommended := []string{"read:" + resource(op.Path)}
	return a.anomaly(schemas.RulePublicSensitiveResponse, op, recommended, 1.0,
		fmt.Sprintf("%s is public but its response includes sensitive fields %s", op.Label(), strings.Join(fields, ", ")),
		ids), true
}

// overlyPermissive is rule (c): a read operation demanding privileged scopes or more
// scopes than its class conventionally needs.
func (a *Analyzer) overlyPermissive(op *graph.OperationNode) (schemas.AuthzAnomaly, bool) {
	if !isReadMethod(op.Method) {
		return schemas.AuthzAnomaly{}, false
	}
	scopes := op.Scopes()
	if len(scopes) == 0 {
		return schemas.AuthzAnomaly{}, false
	}
	var privileged, kept []string
	for _, s := range scopes {
		if a.isPrivileged(s) {
			privileged = append(privileged, s)
		} else {
			kept = append(kept, s)
		}
	}
	excess := len(scopes) - a.opts.MaxScopesPerOperation
	if excess < 0 {
		excess = 0
	}
	if len(privileged) == 0 && excess == 0 {
		return schemas.AuthzAnomaly{}, false
	}

	confidence := PermissiveConfidence(len(privileged), excess)
	if confidence < a.opts.ConfidenceThreshold {
		return schemas.AuthzAnomaly{}, false
	}
	if len(kept) == 0 {
		kept = []string{"read:" + resource(op.Path)}
	}
	if len(kept) > a.opts.MaxScopesPerOperation {
		kept = kept[:a.opts.MaxScopesPerOperation]
	}
	reason := fmt.Sprintf("read operation %s demands %d scopes", op.Label(), len(scopes))
	if len(privileged) > 0 {
		reason += fmt.Sprintf(", including privileged %s", strings.Join(privileged, ", "))
	}
	return a.anomaly(schemas.RuleOverlyPermissiveScope, op, kept, confidence, reason, nil), true
}

// PermissiveConfidence grows with the number of privileged and surplus scopes but
// stays below the confidence of the structural rules.
func PermissiveConfidence(privileged, excess int) float64 {
	c := 0.25 + 0.15*float64(privileged) + 0.05*float64(excess)
	return math.Round(math.Min(c, 0.6)*100) / 100
}

func (a *Analyzer) anomaly(rule schemas.AnomalyRule, op *graph.OperationNode, recommended []string, confidence float64, reason string, ids []string) schemas.AuthzAnomaly {
	return schemas.AuthzAnomaly{
		ID:                core.StableID("A-", string(rule), op.ID),
		Rule:              rule,
		Operation:         op.Label(),
		Method:            op.Method,
		Path:              op.Path,
		CurrentScopes:     op.Scopes(),
		RecommendedScopes: recommended,
		Confidence:        confidence,
		Reason:            reason,
		FindingIDs:        ids,
	}
}

func toVulnerability(an schemas.AuthzAnomaly) schemas.Vulnerability {
	v := schemas.Vulnerability{
		ID:             core.StableID("V-", "authz", string(an.Rule), an.Operation),
		Classification: schemas.ClassAuthorization,
		Description:    an.Reason,
		Location:       an.Operation,
		Operation:      an.Operation,
		FindingIDs:     an.FindingIDs,
		Confidence:     an.Confidence,
		Recommendation: fmt.Sprintf("Change required scopes from [%s] to [%s].",
			strings.Join(an.CurrentScopes, ", "), strings.Join(an.RecommendedScopes, ", ")),
	}
	switch an.Rule {
	case schemas.RuleDestructiveUnderReadScope:
		v.Category = "BROKEN_FUNCTION_LEVEL_AUTHORIZATION"
		v.Title = "State-changing operation admitted by read-only scope: " + an.Operation
		v.Severity = schemas.SeverityHigh
	case schemas.RulePublicSensitiveResponse:
		v.Category = "MISSING_AUTHENTICATION"
		v.Title = "Unauthenticated operation returns sensitive data: " + an.Operation
		v.Severity = schemas.SeverityHigh
		v.Recommendation = fmt.Sprintf("Require authentication with scope %s.", strings.Join(an.RecommendedScopes, ", "))
	default:
		v.Category = "EXCESSIVE_SCOPE"
		v.Title = "Read operation requires overly broad scopes: " + an.Operation
		v.Severity = schemas.SeverityLow
	}
	return v
}

func (a *Analyzer) isRead(scope string) bool {
	return hasMarker(scope, a.opts.ReadMarkers) && !a.isPrivileged(scope)
}

func (a *Analyzer) isPrivileged(scope string) bool {
	if strings.Contains(scope, "*") {
		return true
	}
	return hasMarker(scope, a.opts.PrivilegedMarkers)
}

// toWrite swaps the read marker of a scope for "write": "read:users" becomes
// "write:users".
func (a *Analyzer) toWrite(scope string) string {
	parts := splitScope(scope)
	for _, p := range parts {
		for _, m := range a.opts.ReadMarkers {
			if strings.EqualFold(p, m) {
				return strings.Replace(scope, p, "write", 1)
			}
		}
	}
	return scope + ":write"
}

func hasMarker(scope string, markers []string) bool {
	for _, part := range splitScope(scope) {
		for _, m := range markers {
			if strings.EqualFold(part, m) {
				return true
			}
		}
	}
	return false
}

// splitScope breaks "read:users", "users.read" or "https://x/auth/users.readonly"
// into marker-sized parts.
func splitScope(scope string) []string {
	return strings.FieldsFunc(scope, func(r rune) bool {
		return r == ':' || r == '.' || r == '/' || r == '_' || r == '-'
	})
}

func isReadMethod(m string) bool {
	return m == "GET" || m == "HEAD" || m == "OPTIONS"
}

// resource is the first literal segment of a path: "/users/{id}" yields "users".
func resource(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" && !strings.HasPrefix(seg, "{") {
			return seg
		}
	}
	return "resource"
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
