package schemas

import (
	"context"
)

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
//
//go:generate mockery --name LLMClient --output ../../internal/mocks --outpkg mocks
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client (e.g., network connections, SDK resources).
	Close() error
}

// -- Knowledge Interfaces --

// KnowledgeRetriever is the read-only retrieval contract consumed by the reasoning
// agents. Implementations never write to the corpora.
//
//go:generate mockery --name KnowledgeRetriever --output ../../internal/mocks --outpkg mocks
type KnowledgeRetriever interface {
	// Query returns at most k chunks from the corpus, most similar first.
	Query(ctx context.Context, text string, corpus Corpus, k int) ([]KnowledgeChunk, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// -- Store Interface --

// ReportStore is the persistent second tier of the attack chain cache.
type ReportStore interface {
	LoadCacheEntry(ctx context.Context, signature string) (*CacheEntry, error)
	SaveCacheEntry(ctx context.Context, entry CacheEntry) error
	DeleteCacheEntry(ctx context.Context, signature string) error
}
