// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Analysis() AnalysisConfig
	Orchestrator() OrchestratorConfig
	Knowledge() KnowledgeConfig
	Cache() CacheConfig
	Agent() AgentConfig

	// Setters for values that CLI flags override.
	SetReasoningEnabled(bool)
	SetCacheTTL(time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	AnalysisCfg     AnalysisConfig     `mapstructure:"analysis" yaml:"analysis"`
	OrchestratorCfg OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	KnowledgeCfg    KnowledgeConfig    `mapstructure:"knowledge" yaml:"knowledge"`
	CacheCfg        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	AgentCfg        AgentConfig        `mapstructure:"agent" yaml:"agent"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig         { return c.DatabaseCfg }
func (c *Config) Analysis() AnalysisConfig         { return c.AnalysisCfg }
func (c *Config) Orchestrator() OrchestratorConfig { return c.OrchestratorCfg }
func (c *Config) Knowledge() KnowledgeConfig       { return c.KnowledgeCfg }
func (c *Config) Cache() CacheConfig               { return c.CacheCfg }
func (c *Config) Agent() AgentConfig               { return c.AgentCfg }

func (c *Config) SetReasoningEnabled(b bool)  { c.OrchestratorCfg.Enabled = b }
func (c *Config) SetCacheTTL(d time.Duration) { c.CacheCfg.TTL = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// AnalysisConfig tunes the deterministic pipeline.
type AnalysisConfig struct {
	// Concurrency bounds how many analyzers run at once.
	Concurrency   int              `mapstructure:"concurrency" yaml:"concurrency"`
	TaintMaxDepth int              `mapstructure:"taint_max_depth" yaml:"taint_max_depth"`
	Lexicon       LexiconConfig    `mapstructure:"lexicon" yaml:"lexicon"`
	Similarity    SimilarityConfig `mapstructure:"similarity" yaml:"similarity"`
	Authz         AuthzConfig      `mapstructure:"authz" yaml:"authz"`
}

// LexiconConfig lists sensitive field terms per tier, highest tier first.
type LexiconConfig struct {
	Credential []string `mapstructure:"credential" yaml:"credential"`
	High       []string `mapstructure:"high" yaml:"high"`
	Medium     []string `mapstructure:"medium" yaml:"medium"`
}

// SimilarityConfig holds the schema clustering thresholds.
type SimilarityConfig struct {
	Threshold        float64 `mapstructure:"threshold" yaml:"threshold"`
	MergeThreshold   float64 `mapstructure:"merge_threshold" yaml:"merge_threshold"`
	InheritanceRatio float64 `mapstructure:"inheritance_ratio" yaml:"inheritance_ratio"`
	IncludeSynthetic bool    `mapstructure:"include_synthetic" yaml:"include_synthetic"`
}

// AuthzConfig tunes the authorization anomaly rules.
type AuthzConfig struct {
	ReadMarkers           []string `mapstructure:"read_markers" yaml:"read_markers"`
	PrivilegedMarkers     []string `mapstructure:"privileged_markers" yaml:"privileged_markers"`
	IdentityFields        []string `mapstructure:"identity_fields" yaml:"identity_fields"`
	MaxScopesPerOperation int      `mapstructure:"max_scopes_per_operation" yaml:"max_scopes_per_operation"`
	ConfidenceThreshold   float64  `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
}

// OrchestratorConfig configures the three-agent reasoning pipeline.
type OrchestratorConfig struct {
	// Enabled turns the reasoning stages on. When false, reports are deterministic only.
	Enabled            bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxVulnerabilities int           `mapstructure:"max_vulnerabilities" yaml:"max_vulnerabilities"`
	StepTimeout        time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
}

// KnowledgeConfig configures the retrieval corpora.
type KnowledgeConfig struct {
	// Source is one of "memory" (built-in corpus), "file" or "postgres".
	Source         string `mapstructure:"source" yaml:"source"`
	File           string `mapstructure:"file" yaml:"file"`
	TopK           int    `mapstructure:"top_k" yaml:"top_k"`
	Embedder       string `mapstructure:"embedder" yaml:"embedder"`
	EmbeddingModel string `mapstructure:"embedding_model" yaml:"embedding_model"`
	Dimension      int    `mapstructure:"dimension" yaml:"dimension"`
}

// CacheConfig configures the attack chain cache.
type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries"`
	// Persistent enables the Postgres-backed second tier. Requires database.url.
	Persistent bool `mapstructure:"persistent" yaml:"persistent"`
}

// AgentConfig holds settings related to the AI agents and their components.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	// APIKey applies to every model that does not carry its own key.
	APIKey string                    `mapstructure:"api_key" yaml:"api_key"`
	Models map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider          LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model             string            `mapstructure:"model" yaml:"model"`
	APIKey            string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK              int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// ModelConfig resolves the configuration for a named model, falling back to a
// Gemini config carrying the router-level API key.
func (r LLMRouterConfig) ModelConfig(name string) LLMModelConfig {
	cfg, ok := r.Models[name]
	if !ok {
		cfg = LLMModelConfig{Provider: ProviderGemini, APITimeout: 2 * time.Minute}
	}
	if cfg.Model == "" {
		cfg.Model = name
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderGemini
	}
	if cfg.APIKey == "" {
		cfg.APIKey = r.APIKey
	}
	return cfg
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-contract")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Analysis --
	v.SetDefault("analysis.concurrency", 4)
	v.SetDefault("analysis.taint_max_depth", 32)
	v.SetDefault("analysis.lexicon.credential", []string{"password", "passwd", "secret", "token", "ssn", "api_key", "private_key"})
	v.SetDefault("analysis.lexicon.high", []string{"role", "permission", "is_admin", "credit_card", "card_number", "iban", "dob"})
	v.SetDefault("analysis.lexicon.medium", []string{"email", "phone", "address", "birth"})
	v.SetDefault("analysis.similarity.threshold", 0.8)
	v.SetDefault("analysis.similarity.merge_threshold", 0.95)
	v.SetDefault("analysis.similarity.inheritance_ratio", 0.6)
	v.SetDefault("analysis.similarity.include_synthetic", false)
	v.SetDefault("analysis.authz.read_markers", []string{"read", "view", "list", "get", "readonly", "ro"})
	v.SetDefault("analysis.authz.privileged_markers", []string{"write", "admin", "delete", "manage", "full", "all", "*"})
	v.SetDefault("analysis.authz.identity_fields", []string{"role", "permission", "is_admin", "admin", "owner", "owner_id", "user_id", "username", "group", "scope"})
	v.SetDefault("analysis.authz.max_scopes_per_operation", 3)
	v.SetDefault("analysis.authz.confidence_threshold", 0.3)

	// -- Orchestrator --
	v.SetDefault("orchestrator.enabled", true)
	v.SetDefault("orchestrator.max_vulnerabilities", 25)
	v.SetDefault("orchestrator.step_timeout", "90s")
	v.SetDefault("orchestrator.max_retries", 1)
	v.SetDefault("orchestrator.initial_backoff", "500ms")

	// -- Knowledge --
	v.SetDefault("knowledge.source", "memory")
	v.SetDefault("knowledge.top_k", 3)
	v.SetDefault("knowledge.embedder", "hashing")
	v.SetDefault("knowledge.embedding_model", "gemini-embedding-001")
	v.SetDefault("knowledge.dimension", 256)

	// -- Cache --
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.max_entries", 128)
	v.SetDefault("cache.persistent", false)

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "SCALPEL_DATABASE_URL")
	_ = v.BindEnv("agent.llm.api_key", "SCALPEL_LLM_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.AnalysisCfg.Concurrency <= 0 {
		return fmt.Errorf("analysis.concurrency must be a positive integer")
	}
	if err := c.AnalysisCfg.Similarity.Validate(); err != nil {
		return fmt.Errorf("analysis.similarity configuration invalid: %w", err)
	}
	if t := c.AnalysisCfg.Authz.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("analysis.authz.confidence_threshold must be between 0.0 and 1.0")
	}
	if err := c.OrchestratorCfg.Validate(); err != nil {
		return fmt.Errorf("orchestrator configuration invalid: %w", err)
	}
	if c.KnowledgeCfg.TopK <= 0 {
		return fmt.Errorf("knowledge.top_k must be a positive integer")
	}
	switch c.KnowledgeCfg.Source {
	case "memory", "file", "postgres":
	default:
		return fmt.Errorf("knowledge.source must be one of memory, file, postgres (got %q)", c.KnowledgeCfg.Source)
	}
	if c.KnowledgeCfg.Source == "file" && c.KnowledgeCfg.File == "" {
		return fmt.Errorf("knowledge.file is required when knowledge.source is file")
	}
	if c.CacheCfg.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be a positive integer")
	}
	if c.CacheCfg.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	return nil
}

// Validate checks the similarity thresholds.
func (s SimilarityConfig) Validate() error {
	for name, val := range map[string]float64{
		"threshold":         s.Threshold,
		"merge_threshold":   s.MergeThreshold,
		"inheritance_ratio": s.InheritanceRatio,
	} {
		if val <= 0 || val > 1 {
			return fmt.Errorf("%s must be in (0.0, 1.0]", name)
		}
	}
	if s.MergeThreshold < s.Threshold {
		return fmt.Errorf("merge_threshold must not be below threshold")
	}
	return nil
}

// Validate checks the orchestrator settings. Retries are bounded at one.
func (o OrchestratorConfig) Validate() error {
	if o.MaxVulnerabilities <= 0 {
		return fmt.Errorf("max_vulnerabilities must be a positive integer")
	}
	if o.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be a positive duration")
	}
	if o.MaxRetries < 0 || o.MaxRetries > 1 {
		return fmt.Errorf("max_retries must be 0 or 1")
	}
	return nil
}
