// Package bootstrap builds the logger, store and consolidator described by a config.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agenthands/canon/internal/config"
	"github.com/agenthands/canon/internal/core"
	"github.com/agenthands/canon/internal/core/advisory"
	"github.com/agenthands/canon/internal/core/grouping"
	"github.com/agenthands/canon/internal/core/similarity"
	"github.com/agenthands/canon/internal/driver"
	"github.com/agenthands/canon/internal/llm"
	"github.com/agenthands/canon/internal/store"
	"github.com/agenthands/canon/internal/store/graphstore"
	"github.com/agenthands/canon/internal/store/sqlstore"
	"github.com/sirupsen/logrus"
)

func NewLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level := logrus.InfoLevel
	if cfg.Level != "" {
		l, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}
	return logger, nil
}

// OpenStore connects the configured backend. Memgraph gets its indices built on open.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, error) {
	backend := strings.ToLower(cfg.Store.Backend)
	switch backend {
	case "", "memory":
		return store.NewMemoryStore(), nil

	case sqlstore.DialectSQLite, sqlstore.DialectPostgres:
		dsn := cfg.Store.DSN
		if dsn == "" {
			return nil, fmt.Errorf("store.dsn is required for the %s backend", backend)
		}
		return sqlstore.Open(ctx, sqlstore.Options{
			Dialect:         backend,
			DSN:             dsn,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime.Duration,
			Logger:          logger,
		})

	case "memgraph":
		d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Memgraph: %w", err)
		}
		if err := d.BuildIndices(ctx); err != nil {
			_ = d.Close(ctx)
			return nil, fmt.Errorf("failed to build indices: %w", err)
		}
		return graphstore.New(d), nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// NewConsolidator wires the LLM reviewer and the embedding oracle around s.
func NewConsolidator(ctx context.Context, cfg *config.Config, s store.Store, logger *logrus.Logger) (*core.Consolidator, error) {
	llmClient, _, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	embedder, err := llm.NewEmbedder(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	oracle := similarity.NewEmbeddingOracle(embedder, cfg.Oracle.SimilarityTimeout.Duration, logger)
	reviewer := advisory.NewLLMReviewer(llmClient, advisory.Options{
		Prompt:            cfg.Prompts.Review,
		Timeout:           cfg.Oracle.ReviewTimeout.Duration,
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
		Burst:             cfg.Oracle.Burst,
	}, logger)

	return core.NewConsolidator(s, oracle, reviewer, GroupingConfig(cfg), core.Options{
		Workers:           cfg.Consolidation.Workers,
		ReviewConcurrency: cfg.Consolidation.ReviewConcurrency,
		CountrySets:       cfg.Countries.Sets,
		DefaultCountries:  cfg.Countries.Default,
	}, logger), nil
}

func GroupingConfig(cfg *config.Config) grouping.Config {
	return grouping.Config{
		SimilarityThreshold: cfg.Consolidation.SimilarityThreshold,
		TemporalWindowDays:  cfg.Consolidation.TemporalWindowDays,
		Timeout:             cfg.Oracle.SimilarityTimeout.Duration,
	}
}

// LoadConfig reads path when it exists and falls back to defaults plus environment.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
