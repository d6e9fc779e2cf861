package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration reads TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	MaxTokens      int    `toml:"max_tokens"`

	// Optional separate embedding provider, e.g. Claude reviews with OpenAI embeddings.
	EmbeddingProvider string `toml:"embedding_provider"`
	EmbeddingAPIKey   string `toml:"embedding_api_key"`
	EmbeddingBaseURL  string `toml:"embedding_base_url"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type StoreConfig struct {
	Backend         string   `toml:"backend"`
	DSN             string   `toml:"dsn"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
}

type ConsolidationConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	TemporalWindowDays  int     `toml:"temporal_window_days"`
	Workers             int     `toml:"workers"`
	ReviewConcurrency   int     `toml:"review_concurrency"`
	DryRun              bool    `toml:"dry_run"`
}

type OracleConfig struct {
	SimilarityTimeout Duration `toml:"similarity_timeout"`
	ReviewTimeout     Duration `toml:"review_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
}

type PromptConfig struct {
	// Review is a fmt template with one %s verb for the numbered member list.
	Review string `toml:"review"`
}

type CountriesConfig struct {
	Default []string            `toml:"default"`
	Sets    map[string][]string `toml:"sets"`
}

type ServerConfig struct {
	Port string `toml:"port"`
	Mode string `toml:"mode"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Config struct {
	LLM           LLMConfig           `toml:"llm"`
	Memgraph      MemgraphConfig      `toml:"memgraph"`
	Store         StoreConfig         `toml:"store"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
	Oracle        OracleConfig        `toml:"oracle"`
	Prompts       PromptConfig        `toml:"prompts"`
	Countries     CountriesConfig     `toml:"countries"`
	Server        ServerConfig        `toml:"server"`
	Log           LogConfig           `toml:"log"`
}

var backends = map[string]bool{"memory": true, "sqlite": true, "postgres": true, "memgraph": true}

// Default is a runnable local configuration: in-memory store, Ollama on localhost.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       "ollama",
			Model:          "gpt-oss:latest",
			EmbeddingModel: "nomic-embed-text",
			BaseURL:        "http://localhost:11434",
		},
		Memgraph: MemgraphConfig{URI: "bolt://localhost:7687"},
		Store: StoreConfig{
			Backend:         "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{30 * time.Minute},
		},
		Consolidation: ConsolidationConfig{
			SimilarityThreshold: 0.80,
			TemporalWindowDays:  7,
			Workers:             4,
			ReviewConcurrency:   4,
		},
		Oracle: OracleConfig{
			SimilarityTimeout: Duration{10 * time.Second},
			ReviewTimeout:     Duration{60 * time.Second},
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Countries: CountriesConfig{Sets: map[string][]string{}},
		Server:    ServerConfig{Port: "8080", Mode: "release"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment when the variable is set.
func (c *Config) ApplyEnv() error {
	for env, dst := range map[string]*string{
		"LLM_PROVIDER":        &c.LLM.Provider,
		"LLM_MODEL":           &c.LLM.Model,
		"LLM_EMBEDDING_MODEL": &c.LLM.EmbeddingModel,
		"LLM_API_KEY":         &c.LLM.APIKey,
		"LLM_BASE_URL":        &c.LLM.BaseURL,
		"STORE_BACKEND":       &c.Store.Backend,
		"STORE_DSN":           &c.Store.DSN,
		"MEMGRAPH_URI":        &c.Memgraph.URI,
		"MEMGRAPH_USER":       &c.Memgraph.User,
		"MEMGRAPH_PASSWORD":   &c.Memgraph.Password,
		"PORT":                &c.Server.Port,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("CANON_DRY_RUN"); v != "" {
		dry, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CANON_DRY_RUN %q: %w", v, err)
		}
		c.Consolidation.DryRun = dry
	}
	return nil
}

func (c *Config) Validate() error {
	cc := c.Consolidation
	if cc.SimilarityThreshold < 0 || cc.SimilarityThreshold > 1 {
		return fmt.Errorf("consolidation.similarity_threshold must be within [0,1], got %v", cc.SimilarityThreshold)
	}
	if cc.TemporalWindowDays < 0 {
		return fmt.Errorf("consolidation.temporal_window_days must not be negative, got %d", cc.TemporalWindowDays)
	}
	if cc.Workers < 1 {
		return fmt.Errorf("consolidation.workers must be at least 1, got %d", cc.Workers)
	}
	if cc.ReviewConcurrency < 1 {
		return fmt.Errorf("consolidation.review_concurrency must be at least 1, got %d", cc.ReviewConcurrency)
	}
	backend := strings.ToLower(c.Store.Backend)
	if !backends[backend] {
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if (backend == "sqlite" || backend == "postgres") && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the %s backend", c.Store.Backend)
	}
	if c.Oracle.RequestsPerSecond < 0 {
		return fmt.Errorf("oracle.requests_per_second must not be negative")
	}
	if c.Prompts.Review != "" && strings.Count(c.Prompts.Review, "%s") != 1 {
		return fmt.Errorf("prompts.review must contain exactly one %%s verb")
	}
	return nil
}

// CountrySet resolves a named set such as "influencers".
func (c *Config) CountrySet(name string) ([]string, bool) {
	set, ok := c.Countries.Sets[name]
	return set, ok
}
