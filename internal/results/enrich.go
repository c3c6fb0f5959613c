// internal/results/enrich.go
package results

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/results/providers"
)

// minDescriptionLength is the length under which a description counts as a
// placeholder and is replaced by the CWE description.
const minDescriptionLength = 20

// Enricher is responsible for enhancing vulnerabilities with additional context.
type Enricher struct {
	cweProvider providers.CWEProvider
	logger      *zap.Logger
}

// NewEnricher creates a new Enricher instance. A nil provider falls back to the
// built-in CWE table.
func NewEnricher(cweProvider providers.CWEProvider, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cweProvider == nil {
		cweProvider = providers.NewInMemoryCWEProvider()
	}
	return &Enricher{
		cweProvider: cweProvider,
		logger:      logger.Named("enricher"),
	}
}

// Enrich annotates every vulnerability in place and returns how many were changed.
func (e *Enricher) Enrich(vulns []schemas.Vulnerability) int {
	changed := 0
	for i := range vulns {
		if e.EnrichVulnerability(&vulns[i]) {
			changed++
		}
	}
	return changed
}

// EnrichVulnerability attaches CWE IDs for the vulnerability's category and fills
// a missing or placeholder description. IDs already present are kept, and the
// vulnerability ID never changes.
func (e *Enricher) EnrichVulnerability(v *schemas.Vulnerability) bool {
	if v == nil {
		return false
	}
	changed := false
	if len(v.CWE) == 0 {
		if ids := e.cweProvider.ForCategory(v.Category); len(ids) > 0 {
			v.CWE = ids
			changed = true
		}
	}
	if len(v.CWE) == 0 {
		return changed
	}

	// We only use the first CWE ID for text enrichment.
	entry, err := e.cweProvider.GetCWE(v.CWE[0])
	if err != nil {
		e.logger.Debug("Could not retrieve CWE details", zap.String("cwe_id", v.CWE[0]), zap.Error(err))
		return changed
	}
	if v.Title == "" && entry.Name != "" {
		v.Title = entry.Name
		changed = true
	}
	if len(v.Description) < minDescriptionLength && entry.Description != "" {
		v.Description = entry.Description
		changed = true
	}
	return changed
}
