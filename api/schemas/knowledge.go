package schemas

// -- Knowledge Retrieval Schemas --

// Corpus names a curated knowledge collection.
type Corpus string

const (
	// CorpusAttacker holds attack pattern and technique material.
	CorpusAttacker Corpus = "attacker"
	// CorpusGovernance holds scoring, compliance and remediation guidance.
	CorpusGovernance Corpus = "governance"
)

// KnowledgeChunk is a pre-embedded unit of reference material.
type KnowledgeChunk struct {
	ID        string    `json:"id" yaml:"id"`
	Corpus    Corpus    `json:"corpus" yaml:"corpus"`
	Title     string    `json:"title" yaml:"title"`
	Content   string    `json:"content" yaml:"content"`
	Embedding []float32 `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	// Score is the cosine similarity to the query. Only set on query results.
	Score float64 `json:"score,omitempty" yaml:"-"`
}
