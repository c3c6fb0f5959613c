package findings_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/findings"
	"github.com/xkilldash9x/scalpel-contract/internal/graph"
	"github.com/xkilldash9x/scalpel-contract/internal/testing/fixtures"
)

func extract(t *testing.T, c *schemas.Contract) []schemas.Finding {
	t.Helper()
	ex := findings.NewExtractor(zaptest.NewLogger(t), findings.Lexicon{})
	return ex.Extract(graph.Build(c))
}

func byKind(fs []schemas.Finding, kind schemas.FindingKind) []schemas.Finding {
	var out []schemas.Finding
	for _, f := range fs {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func locations(fs []schemas.Finding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Location)
	}
	return out
}

func TestExtract_PublicEndpoints(t *testing.T) {
	t.Parallel()
	fs := extract(t, fixtures.SampleContract())
	public := byKind(fs, schemas.KindPublicEndpoint)
	assert.Equal(t, []string{"GET /orders", "GET /users/{id}", "POST /login"}, locations(public))
	assert.Equal(t, "op:GET /users/{id}", public[1].Metadata.OperationID)
}

func TestExtract_SensitiveFields(t *testing.T) {
	t.Parallel()
	fs := extract(t, fixtures.SampleContract())
	sensitive := byKind(fs, schemas.KindSensitiveField)

	tiers := make(map[string]schemas.SensitivityTier)
	for _, f := range sensitive {
		tiers[f.Location] = f.Metadata.Tier
	}
	assert.Equal(t, map[string]schemas.SensitivityTier{
		"Credentials.password":                  schemas.TierCredential,
		"POST /login#response/200.access_token": schemas.TierCredential,
		"RoleChange.role":                       schemas.TierHigh,
		"User.address":                          schemas.TierMedium,
		"User.email":                            schemas.TierMedium,
		"User.role":                             schemas.TierHigh,
	}, tiers)
}

func TestExtract_AssociationsFlattenOneLevel(t *testing.T) {
	t.Parallel()
	fs := extract(t, fixtures.SampleContract())

	var direct, nested *schemas.Finding
	for i, f := range fs {
		if f.Kind != schemas.KindEndpointReturnsSchema {
			continue
		}
		switch f.Location {
		case "GET /users/{id} -> User":
			direct = &fs[i]
		case "GET /users/{id} -> Address":
			nested = &fs[i]
		}
	}
	require.NotNil(t, direct)
	require.NotNil(t, nested)
	assert.Equal(t, "200", direct.Metadata.Status)
	assert.Equal(t, []string{"address:ref:Address", "email:string", "id:string", "name:string", "role:string"}, direct.Metadata.Properties)
	assert.Empty(t, nested.Metadata.Status)
	assert.Equal(t, []string{"city:string", "street:string", "zip:string"}, nested.Metadata.Properties)

	accepts := byKind(fs, schemas.KindEndpointAcceptsSchema)
	assert.ElementsMatch(t, []string{"PATCH /users/{id}/role -> RoleChange", "POST /login -> Credentials"}, locations(accepts))
}

func TestExtract_StructuralNotesAreFindings(t *testing.T) {
	t.Parallel()
	fs := extract(t, fixtures.SampleContract())
	notes := byKind(fs, schemas.KindStructuralNote)
	require.Len(t, notes, 2)
	assert.ElementsMatch(t, []string{"CYCLE", "DANGLING_REF"}, []string{notes[0].Metadata.Note, notes[1].Metadata.Note})
}

func TestExtract_Deterministic(t *testing.T) {
	t.Parallel()
	first := extract(t, fixtures.SampleContract())
	second := extract(t, fixtures.SampleContract())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("extraction is not deterministic (-first +second):\n%s", diff)
	}
	for _, f := range first {
		assert.Regexp(t, `^F-[0-9a-f]{12}$`, f.ID)
	}
}

func TestExtract_SortedByKindLocationID(t *testing.T) {
	t.Parallel()
	fs := extract(t, fixtures.SampleContract())
	for i := 1; i < len(fs); i++ {
		prev, cur := fs[i-1], fs[i]
		if prev.Kind != cur.Kind {
			assert.Less(t, string(prev.Kind), string(cur.Kind))
			continue
		}
		assert.LessOrEqual(t, prev.Location, cur.Location)
	}
}

func TestExtract_NilGraphIsEmpty(t *testing.T) {
	t.Parallel()
	ex := findings.NewExtractor(nil, findings.DefaultLexicon())
	assert.Empty(t, ex.Extract(nil))
}

func TestExtract_CustomLexicon(t *testing.T) {
	t.Parallel()
	c := &schemas.Contract{Schemas: map[string]schemas.Schema{
		"Patient": {Properties: fixtures.Scalars("diagnosis", "email")},
	}}
	ex := findings.NewExtractor(nil, findings.Lexicon{High: []string{"diagnosis"}})
	fs := byKind(ex.Extract(graph.Build(c)), schemas.KindSensitiveField)
	require.Len(t, fs, 1, "a custom lexicon replaces the defaults")
	assert.Equal(t, "Patient.diagnosis", fs[0].Location)
}

func TestID_Stable(t *testing.T) {
	t.Parallel()
	a := findings.ID(schemas.KindSensitiveField, "schema:User", "email")
	b := findings.ID(schemas.KindSensitiveField, "schema:User", "email")
	c := findings.ID(schemas.KindSensitiveField, "schema:User", "role")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
