// internal/results/providers/cwe_provider.go
package providers

import (
	"fmt"
	"sort"
	"strings"
)

// CWEEntry holds details about a specific CWE.
type CWEEntry struct {
	ID          string
	Name        string
	Description string
}

// CWEProvider defines the interface for retrieving CWE information.
type CWEProvider interface {
	GetCWE(id string) (*CWEEntry, error)
	// ForCategory returns the CWE IDs a vulnerability category maps to, most
	// specific first. Unknown categories map to nothing.
	ForCategory(category string) []string
}

// InMemoryCWEProvider provides a basic in-memory implementation of CWEProvider,
// covering the weaknesses a contract analysis can surface.
type InMemoryCWEProvider struct {
	data       map[string]CWEEntry
	categories map[string][]string
}

// NewInMemoryCWEProvider creates a new InMemoryCWEProvider with preloaded data.
func NewInMemoryCWEProvider() *InMemoryCWEProvider {
	data := map[string]CWEEntry{
		"CWE-200":  {ID: "CWE-200", Name: "Exposure of Sensitive Information to an Unauthorized Actor", Description: "The product exposes sensitive information to an actor that is not explicitly authorized to have access to that information."},
		"CWE-213":  {ID: "CWE-213", Name: "Exposure of Sensitive Information Due to Incompatible Policies", Description: "The product's intended functionality exposes information to certain actors in accordance with the developer's security policy, but this information is regarded as sensitive according to the intended security policies of other stakeholders."},
		"CWE-269":  {ID: "CWE-269", Name: "Improper Privilege Management", Description: "The product does not properly assign, modify, track, or check privileges for an actor, creating an unintended sphere of control for that actor."},
		"CWE-285":  {ID: "CWE-285", Name: "Improper Authorization", Description: "The product does not perform or incorrectly performs an authorization check when an actor attempts to access a resource or perform an action."},
		"CWE-306":  {ID: "CWE-306", Name: "Missing Authentication for Critical Function", Description: "The product does not perform any authentication for functionality that requires a provable user identity or consumes a significant amount of resources."},
		"CWE-359":  {ID: "CWE-359", Name: "Exposure of Private Personal Information to an Unauthorized Actor", Description: "The product does not properly prevent a person's private, personal information from being accessed by actors who either are not explicitly authorized to access the information or do not have the implicit consent of the person about whom the information is collected."},
		"CWE-639":  {ID: "CWE-639", Name: "Authorization Bypass Through User-Controlled Key", Description: "The system's authorization functionality does not prevent one user from gaining access to another user's data or record by modifying the key value identifying the data."},
		"CWE-862":  {ID: "CWE-862", Name: "Missing Authorization", Description: "The product does not perform an authorization check when an actor attempts to access a resource or perform an action."},
		"CWE-912":  {ID: "CWE-912", Name: "Hidden Functionality", Description: "The product contains functionality that is not documented and not accessible through an interface or command sequence that is obvious to the product's users or administrators."},
		"CWE-1059": {ID: "CWE-1059", Name: "Insufficient Technical Documentation", Description: "The product does not contain sufficient technical or engineering documentation that contains all the necessary information to support its use."},
		"CWE-1068": {ID: "CWE-1068", Name: "Inconsistency Between Implementation and Documented Design", Description: "The implementation of the product is not consistent with the design as described within the relevant documentation."},
	}
	categories := map[string][]string{
		"SENSITIVE_DATA_EXPOSURE":             {"CWE-200", "CWE-359", "CWE-213"},
		"MISSING_AUTHENTICATION":              {"CWE-306", "CWE-862"},
		"BROKEN_FUNCTION_LEVEL_AUTHORIZATION": {"CWE-285", "CWE-269"},
		"EXCESSIVE_SCOPE":                     {"CWE-269", "CWE-285"},
		"BROKEN_OBJECT_LEVEL_AUTHORIZATION":   {"CWE-639", "CWE-285"},
		"SHADOWED_ENDPOINT":                   {"CWE-1068", "CWE-912"},
		"ORPHANED_OPERATION":                  {"CWE-1059", "CWE-912"},
	}
	return &InMemoryCWEProvider{data: data, categories: categories}
}

// GetCWE retrieves CWE details by ID.
func (p *InMemoryCWEProvider) GetCWE(id string) (*CWEEntry, error) {
	entry, exists := p.data[id]
	if !exists {
		// Return a generic entry instead of an error if not found, to avoid failing the enrichment process.
		return &CWEEntry{ID: id, Name: fmt.Sprintf("%s (Details Not Found)", id), Description: "Details for this CWE ID are not available in the local database."}, nil
	}
	return &entry, nil
}

func (p *InMemoryCWEProvider) ForCategory(category string) []string {
	ids := p.categories[strings.ToUpper(strings.TrimSpace(category))]
	return append([]string(nil), ids...)
}

// Categories lists the mapped vulnerability categories in sorted order.
func (p *InMemoryCWEProvider) Categories() []string {
	out := make([]string, 0, len(p.categories))
	for c := range p.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
