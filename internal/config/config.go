// Package config holds the YAML configuration tree for claudeindex: where
// transcripts live, where the vector store is persisted, which enhancements
// run, and the quality thresholds that gate the orchestrator's circuit
// breaker (spec.md §5, §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all claudeindex configuration (spec.md §6).
type Config struct {
	// ProjectsRoot is the root directory C3 walks for *.jsonl transcripts.
	// Default: <home>/.claude/projects.
	ProjectsRoot string `yaml:"projects_root"`

	// StorePath is where the embedded vector database is persisted.
	// Default: ./vector_store.
	StorePath string `yaml:"store_path"`

	// EmbeddingModelID names the embedding backend/model (C1).
	EmbeddingModelID string `yaml:"embedding_model_id"`

	// BatchSize caps the number of rows C2.upsert_many submits per call,
	// chunked internally below the backing store's own cap.
	BatchSize int `yaml:"batch_size"`

	// BackfillWindowSize is W in spec.md §4.6/§9 - how many entries forward
	// of a solution attempt C6 scans for a non-neutral feedback message.
	BackfillWindowSize int `yaml:"backfill_window_size"`

	// BackfillIdleWindow is how long a session file must go unmodified
	// before C6 considers it "complete" (spec.md §4.6's N minutes).
	BackfillIdleWindow time.Duration `yaml:"backfill_idle_window"`

	QualityThresholds  QualityThresholds          `yaml:"quality_thresholds"`
	EnabledEnhancements EnabledEnhancements       `yaml:"enabled_enhancements"`
	ProjectTechStacks  map[string][]string         `yaml:"project_tech_stacks"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`

	// Search holds C7 tuning values (not a top-level object in spec.md §6).
	// They are loaded and saved with the rest of the file, but the search
	// engine does not read them: it uses its own built-in constants
	// (over-fetch factor 4, ceiling 200, default limit 5), which these
	// defaults match.
	Search SearchConfig `yaml:"search"`
}

// QualityThresholds gates the orchestrator circuit breaker (spec.md §5).
type QualityThresholds struct {
	EmptyContentRateMax   float64 `yaml:"empty_content_rate_max"`
	UnknownProjectRateMax float64 `yaml:"unknown_project_rate_max"`
	DuplicateIDRateMax    float64 `yaml:"duplicate_id_rate_max"`
	MinQualityScore       float64 `yaml:"min_quality_score"`
	WindowSize            int     `yaml:"window_size"`
}

// EnabledEnhancements is the closed set of C5 capabilities (spec.md §9
// "closed enumerations in configuration, not open-ended plugin points").
type EnabledEnhancements struct {
	TopicDetection   bool `yaml:"topic_detection"`
	SolutionDetection bool `yaml:"solution_detection"`
	SemanticFeedback bool `yaml:"semantic_feedback"`
}

// EmbeddingConfig configures C1's embedding backend.
type EmbeddingConfig struct {
	// Provider: "local" (in-process model, default), "ollama" (local HTTP
	// server), or "genai" (Google GenAI embedding API - the one explicit
	// network-access exception noted in SPEC_FULL.md §1).
	Provider       string `yaml:"provider"`
	LocalModelPath string `yaml:"local_model_path"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

// RedisConfig optionally names a Redis server into which the
// ProcessingMonitor mirrors a count of recorded outcomes (SPEC_FULL.md §5);
// the monitor's ring buffer itself stays in-process.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// SearchConfig tunes C7's candidate fan-out.
type SearchConfig struct {
	OverFetchFactor int `yaml:"over_fetch_factor"`
	MaxCandidates   int `yaml:"max_candidates"`
	DefaultLimit    int `yaml:"default_limit"`
}

// DefaultConfig returns every default named in spec.md §6.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ProjectsRoot:       filepath.Join(home, ".claude", "projects"),
		StorePath:          "./vector_store",
		EmbeddingModelID:   "all-MiniLM-L6-v2",
		BatchSize:          100,
		BackfillWindowSize: 3,
		BackfillIdleWindow: 10 * time.Minute,
		QualityThresholds: QualityThresholds{
			EmptyContentRateMax:   0.30,
			UnknownProjectRateMax: 0.50,
			DuplicateIDRateMax:    0.0,
			MinQualityScore:       0.5,
			WindowSize:            50,
		},
		EnabledEnhancements: EnabledEnhancements{
			TopicDetection:    true,
			SolutionDetection: true,
			SemanticFeedback:  true,
		},
		ProjectTechStacks: map[string][]string{},
		Embedding: EmbeddingConfig{
			Provider:       "local",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
		},
		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
		Search: SearchConfig{
			OverFetchFactor: 4,
			MaxCandidates:   200,
			DefaultLimit:    5,
		},
	}
}

// Load reads a YAML config file, falling back to DefaultConfig() fields for
// anything the file omits. A missing file is not an error - it simply
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config back to disk as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets operators override the store/transcript locations
// and embedding credentials without editing the YAML file, matching the
// teacher's env-override convention.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CLAUDEINDEX_PROJECTS_ROOT"); v != "" {
		c.ProjectsRoot = v
	}
	if v := os.Getenv("CLAUDEINDEX_STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("CLAUDEINDEX_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "genai"
		}
	}
	if v := os.Getenv("CLAUDEINDEX_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// Validate checks internal consistency of the configuration (spec.md §6
// quality_thresholds and mode enums are checked at the point of use, not
// here, since they are operation inputs rather than static config).
func (c *Config) Validate() error {
	if c.ProjectsRoot == "" {
		return fmt.Errorf("projects_root must not be empty")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BackfillWindowSize <= 0 {
		return fmt.Errorf("backfill_window_size must be positive, got %d", c.BackfillWindowSize)
	}
	switch c.Embedding.Provider {
	case "local", "ollama", "genai":
	default:
		return fmt.Errorf("invalid embedding provider: %s (valid: local, ollama, genai)", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "genai" && c.Embedding.GenAIAPIKey == "" {
		return fmt.Errorf("genai embedding provider requires genai_api_key")
	}
	return nil
}
