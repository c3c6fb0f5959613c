package schemas

import "time"

// -- Report Schemas --

// ReportStatus is the explicit outcome field every report carries.
type ReportStatus string

const (
	// StatusComplete means every stage ran and nothing degraded.
	StatusComplete ReportStatus = "COMPLETE"
	// StatusPartial means the pipeline finished but some output was discarded or
	// produced without retrieved context.
	StatusPartial ReportStatus = "PARTIAL"
	// StatusFailed means a reasoning stage failed; the scanner output is still present.
	StatusFailed ReportStatus = "FAILED"
	// StatusDeterministicOnly means no reasoning backend was configured.
	StatusDeterministicOnly ReportStatus = "DETERMINISTIC_ONLY"
)

// DegradationKind follows the error taxonomy: structural, reasoning, retrieval.
type DegradationKind string

const (
	DegradationStructural DegradationKind = "STRUCTURAL"
	DegradationReasoning  DegradationKind = "REASONING"
	DegradationRetrieval  DegradationKind = "RETRIEVAL"
)

// Degradation records a recovered failure.
type Degradation struct {
	Stage   string          `json:"stage"`
	Kind    DegradationKind `json:"kind"`
	Message string          `json:"message"`
}

// StateTransition records one orchestrator state change.
type StateTransition struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// ChainReport is the orchestrator's output, and the unit stored in the attack chain
// cache.
type ChainReport struct {
	State            string            `json:"state"`
	RankedVulns      []Vulnerability   `json:"ranked_vulnerabilities"`
	AttackChains     []AttackChain     `json:"attack_chains"`
	DroppedChains    int               `json:"dropped_chains"`
	OverallRiskScore float64           `json:"overall_risk_score"`
	ExecutiveSummary string            `json:"executive_summary"`
	Remediation      []string          `json:"remediation"`
	Degradations     []Degradation     `json:"degradations,omitempty"`
	Transitions      []StateTransition `json:"transitions,omitempty"`
}

// Degraded reports whether any stage recovered from a failure.
func (r *ChainReport) Degraded() bool {
	return r != nil && len(r.Degradations) > 0
}

// CacheEntry is a persisted orchestrator result keyed by findings signature.
type CacheEntry struct {
	Signature string        `json:"signature"`
	Report    *ChainReport  `json:"report"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// Report is the structured result returned by both analysis entry points.
type Report struct {
	RunID string `json:"run_id"`
	// Source is the contract location the report was produced from, when known.
	Source       string        `json:"source,omitempty"`
	Signature    string        `json:"signature"`
	Status       ReportStatus  `json:"status"`
	Degraded     bool          `json:"degraded"`
	Degradations []Degradation `json:"degradations,omitempty"`
	CacheHit     bool          `json:"cache_hit"`
	GeneratedAt  time.Time     `json:"generated_at"`

	Findings           []Finding           `json:"findings"`
	Vulnerabilities    []Vulnerability     `json:"vulnerabilities"`
	AuthzAnomalies     []AuthzAnomaly      `json:"authz_anomalies"`
	AuthzMatrix        *AuthzMatrix        `json:"authz_matrix,omitempty"`
	SimilarityClusters []SimilarityCluster `json:"similarity_clusters"`
	ZombieEndpoints    []ZombieEndpoint    `json:"zombie_endpoints"`
	StructuralNotes    []string            `json:"structural_notes,omitempty"`

	RankedVulnerabilities []Vulnerability   `json:"ranked_vulnerabilities,omitempty"`
	AttackChains          []AttackChain     `json:"attack_chains"`
	DroppedChains         int               `json:"dropped_chains,omitempty"`
	OverallRiskScore      float64           `json:"overall_risk_score"`
	ExecutiveSummary      string            `json:"executive_summary"`
	Remediation           []string          `json:"remediation,omitempty"`
	OrchestratorState     string            `json:"orchestrator_state,omitempty"`
	Transitions           []StateTransition `json:"transitions,omitempty"`
}

// AddDegradation appends a degradation and marks the report degraded.
func (r *Report) AddDegradation(d Degradation) {
	r.Degradations = append(r.Degradations, d)
	r.Degraded = true
}
