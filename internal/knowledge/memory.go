package knowledge

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

//go:embed corpus/default.yaml
var defaultCorpus []byte

// corpusFile is the on-disk layout of a corpus file. JSON files work too since
// YAML is a superset.
type corpusFile struct {
	Chunks []schemas.KnowledgeChunk `yaml:"chunks"`
}

// MemorySource serves a fixed slice of chunks.
type MemorySource struct {
	chunks []schemas.KnowledgeChunk
}

// NewMemorySource copies the given chunks.
func NewMemorySource(chunks []schemas.KnowledgeChunk) *MemorySource {
	return &MemorySource{chunks: append([]schemas.KnowledgeChunk(nil), chunks...)}
}

// DefaultSource returns the built-in attacker and governance corpora.
func DefaultSource() (*MemorySource, error) {
	return ParseSource(defaultCorpus)
}

// FileSource loads a corpus file. The path may start with ~.
func FileSource(path string) (*MemorySource, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand corpus path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}
	return ParseSource(data)
}

// ParseSource decodes a YAML or JSON corpus document.
func ParseSource(data []byte) (*MemorySource, error) {
	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}
	for i, c := range f.Chunks {
		switch c.Corpus {
		case schemas.CorpusAttacker, schemas.CorpusGovernance:
		default:
			return nil, fmt.Errorf("chunk %d (%s): unknown corpus %q", i, c.ID, c.Corpus)
		}
	}
	return &MemorySource{chunks: f.Chunks}, nil
}

func (m *MemorySource) Chunks(context.Context) ([]schemas.KnowledgeChunk, error) {
	return append([]schemas.KnowledgeChunk(nil), m.chunks...), nil
}
