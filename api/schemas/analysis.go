package schemas

// -- Analyzer Output Schemas --

// Classification labels which deterministic analysis produced a vulnerability.
type Classification string

const (
	ClassTaint         Classification = "TAINT"
	ClassAuthorization Classification = "AUTHORIZATION"
	ClassInventory     Classification = "INVENTORY"
)

// Vulnerability is a finding annotated with a severity and a classification. Every
// vulnerability is traceable to one or more findings through FindingIDs.
type Vulnerability struct {
	ID             string         `json:"id"`
	Category       string         `json:"category"`
	Classification Classification `json:"classification"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Severity       Severity       `json:"severity"`
	Location       string         `json:"location"`
	FindingIDs     []string       `json:"finding_ids"`

	// Taint-specific detail. Path is the primary (shortest) path from the source
	// schema to the exposing operation; PathCount is the number of distinct
	// reference paths between them.
	Path      []string `json:"path,omitempty"`
	PathCount int      `json:"path_count,omitempty"`
	Operation string   `json:"operation,omitempty"`
	Schema    string   `json:"schema,omitempty"`
	Field     string   `json:"field,omitempty"`

	// Confidence in [0, 1]. Heuristic rules report less than 1.
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation,omitempty"`
	// CWE lists weakness identifiers such as "CWE-200", most specific first.
	CWE []string `json:"cwe,omitempty"`
}

// AnomalyRule names an authorization matrix rule.
type AnomalyRule string

const (
	RuleDestructiveUnderReadScope AnomalyRule = "DESTRUCTIVE_UNDER_READ_SCOPE"
	RulePublicSensitiveResponse   AnomalyRule = "PUBLIC_SENSITIVE_RESPONSE"
	RuleOverlyPermissiveScope     AnomalyRule = "OVERLY_PERMISSIVE_SCOPE"
)

// AuthzAnomaly is one flagged cell group of the authorization matrix. Recommended
// scopes are a suggestion only; nothing is applied to the contract.
type AuthzAnomaly struct {
	ID                string      `json:"id"`
	Rule              AnomalyRule `json:"rule"`
	Operation         string      `json:"operation"`
	Method            string      `json:"method"`
	Path              string      `json:"path"`
	CurrentScopes     []string    `json:"current_scopes"`
	RecommendedScopes []string    `json:"recommended_scopes"`
	Confidence        float64     `json:"confidence"`
	Reason            string      `json:"reason"`
	FindingIDs        []string    `json:"finding_ids,omitempty"`
}

// AuthzMatrix is the sparse operation by scope matrix. Cells lists, per operation
// label, the scopes that operation accepts.
type AuthzMatrix struct {
	Rows    []string            `json:"rows"`
	Columns []string            `json:"columns"`
	Cells   map[string][]string `json:"cells"`
}

// Accepts reports whether the operation row accepts the scope column.
func (m *AuthzMatrix) Accepts(row, scope string) bool {
	if m == nil {
		return false
	}
	for _, s := range m.Cells[row] {
		if s == scope {
			return true
		}
	}
	return false
}

// RefactorStrategy is the suggested consolidation for a cluster of similar schemas.
type RefactorStrategy string

const (
	StrategyMerge       RefactorStrategy = "MERGE"
	StrategyInheritance RefactorStrategy = "BASE_SCHEMA_WITH_INHERITANCE"
	StrategyComposition RefactorStrategy = "COMPOSITION"
)

// SimilarityCluster groups structurally similar schemas.
type SimilarityCluster struct {
	ID       string           `json:"id"`
	Members  []string         `json:"members"`
	Strategy RefactorStrategy `json:"strategy"`
	// MinSimilarity and MaxSimilarity span all member pairs.
	MinSimilarity float64 `json:"min_similarity"`
	MaxSimilarity float64 `json:"max_similarity"`
	// CommonFields is the "name:type" set shared by every member.
	CommonFields []string `json:"common_fields"`
}

// ZombieKind distinguishes the two dead-endpoint checks.
type ZombieKind string

const (
	ZombieShadowedPath      ZombieKind = "SHADOWED_PATH"
	ZombieOrphanedOperation ZombieKind = "ORPHANED_OPERATION"
)

// ZombieEndpoint is an operation that is likely unreachable or incomplete.
type ZombieEndpoint struct {
	ID         string     `json:"id"`
	Kind       ZombieKind `json:"kind"`
	Path       string     `json:"path"`
	Method     string     `json:"method,omitempty"`
	ShadowedBy string     `json:"shadowed_by,omitempty"`
	Reason     string     `json:"reason"`
}

// AnalyzerResult is the output of a single deterministic analyzer. Analyzers only
// populate the slices relevant to them; results merge by concatenation.
type AnalyzerResult struct {
	Analyzer        string              `json:"analyzer"`
	Vulnerabilities []Vulnerability     `json:"vulnerabilities,omitempty"`
	AuthzAnomalies  []AuthzAnomaly      `json:"authz_anomalies,omitempty"`
	AuthzMatrix     *AuthzMatrix        `json:"authz_matrix,omitempty"`
	Clusters        []SimilarityCluster `json:"similarity_clusters,omitempty"`
	Zombies         []ZombieEndpoint    `json:"zombie_endpoints,omitempty"`
	Notes           []string            `json:"notes,omitempty"`
}
