package schemas

// -- Finding Schemas --

// Severity represents the severity level of a vulnerability or attack chain, ranging
// from critical to informational. The values are lowercase to align with the
// persisted report format.
type Severity string

// Constants defining the standard severity levels.
const (
	SeverityCritical Severity = "critical" // Represents a critical vulnerability.
	SeverityHigh     Severity = "high"     // Represents a high-severity vulnerability.
	SeverityMedium   Severity = "medium"   // Represents a medium-severity vulnerability.
	SeverityLow      Severity = "low"      // Represents a low-severity vulnerability.
	SeverityInfo     Severity = "info"     // Represents an informational finding.
)

// Weight maps a severity onto [0, 1]. Unknown severities weigh as informational.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.25
	default:
		return 0.1
	}
}

// Rank orders severities for sorting, critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// FindingKind categorizes an atomic structural observation about a contract.
type FindingKind string

const (
	KindPublicEndpoint        FindingKind = "PUBLIC_ENDPOINT"
	KindSensitiveField        FindingKind = "SENSITIVE_FIELD"
	KindEndpointReturnsSchema FindingKind = "ENDPOINT_RETURNS_SCHEMA"
	KindEndpointAcceptsSchema FindingKind = "ENDPOINT_ACCEPTS_SCHEMA"
	KindStructuralNote        FindingKind = "STRUCTURAL_NOTE"
)

// SensitivityTier grades how damaging exposure of a field would be.
type SensitivityTier string

const (
	TierCredential SensitivityTier = "credential"
	TierHigh       SensitivityTier = "high"
	TierMedium     SensitivityTier = "medium"
)

// Severity returns the vulnerability severity associated with exposing a field of
// this tier.
func (t SensitivityTier) Severity() Severity {
	switch t {
	case TierCredential:
		return SeverityCritical
	case TierHigh:
		return SeverityHigh
	case TierMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// rank orders tiers, credential highest.
func (t SensitivityTier) rank() int {
	switch t {
	case TierCredential:
		return 3
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// Outranks reports whether t is strictly more sensitive than other.
func (t SensitivityTier) Outranks(other SensitivityTier) bool {
	return t.rank() > other.rank()
}

// Finding is an atomic, deterministic observation derived from a contract. Findings
// are the only facts the AI stages may cite.
type Finding struct {
	// ID is stable across runs: identical contracts produce identical IDs.
	ID          string          `json:"id"`
	Kind        FindingKind     `json:"kind"`
	Location    string          `json:"location"`
	Description string          `json:"description"`
	Metadata    FindingMetadata `json:"metadata"`
}

// FindingMetadata carries kind-specific structured detail. Unused fields are omitted
// from the serialized form.
type FindingMetadata struct {
	Method      string          `json:"method,omitempty"`
	Path        string          `json:"path,omitempty"`
	OperationID string          `json:"operation_id,omitempty"`
	Schema      string          `json:"schema,omitempty"`
	Field       string          `json:"field,omitempty"`
	FieldType   string          `json:"field_type,omitempty"`
	Tier        SensitivityTier `json:"tier,omitempty"`
	// Properties lists "name:type" pairs of the referenced schema, one level deep.
	Properties []string `json:"properties,omitempty"`
	Status     string   `json:"status,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
	Note       string   `json:"note,omitempty"`
}
