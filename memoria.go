package memoria

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/memoria/pkg/checkpoint"
	"github.com/soundprediction/memoria/pkg/config"
	"github.com/soundprediction/memoria/pkg/driver"
	"github.com/soundprediction/memoria/pkg/extraction"
	"github.com/soundprediction/memoria/pkg/types"
)

var (
	// ErrEntityNotFound is returned when a requested entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrPathNotFound is returned when no path connects two entities within
	// the depth bound.
	ErrPathNotFound = errors.New("path not found")
)

const (
	defaultRecallDepth = 1
	defaultRecallLimit = 10
)

// Config holds configuration for the memoria client.
type Config struct {
	// DefaultDomain is applied when an operation receives a zero domain.
	DefaultDomain types.Domain
	// RecallDepth is the traversal depth Recall uses when the caller passes
	// a negative depth.
	RecallDepth int
	// RecallLimit is the hit limit Recall uses when the caller passes a
	// non-positive limit.
	RecallLimit int
	// Checkpoints enables resume-safe capture when non-nil: memories already
	// recorded as processed are skipped.
	Checkpoints *checkpoint.Store
}

// Client is the main entry point for capturing memories into the knowledge
// graph and recalling them. It bundles a storage backend, an entity
// extractor, and an optional checkpoint store.
type Client struct {
	backend     driver.GraphBackend
	extractor   extraction.Extractor
	checkpoints *checkpoint.Store
	config      *Config
	logger      *slog.Logger
}

// NewClient creates a new memoria client from its collaborators. The backend
// and extractor are required; config and logger may be nil.
func NewClient(backend driver.GraphBackend, extractor extraction.Extractor, cfg *Config, logger *slog.Logger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("graph backend is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.RecallDepth <= 0 {
		cfg.RecallDepth = defaultRecallDepth
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = defaultRecallLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		backend:     backend,
		extractor:   extractor,
		checkpoints: cfg.Checkpoints,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Open assembles a client from file-level configuration: the storage backend
// from the database section, the extractor from the extraction and circuit
// breaker sections, and the checkpoint store when enabled.
//
// When the configured provider is "llm" but no usable credentials are
// present, Open logs a warning and falls back to pattern extraction so that
// offline commands keep working.
func Open(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	extractor, err := buildExtractor(cfg, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}

	var store *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		store, err = checkpoint.NewStore(cfg.Checkpoint.Path, logger)
		if err != nil {
			backend.Close()
			return nil, err
		}
	}

	return NewClient(backend, extractor, &Config{Checkpoints: store}, logger)
}

func openBackend(cfg *config.Config, logger *slog.Logger) (driver.GraphBackend, error) {
	switch cfg.Database.Driver {
	case "memory":
		return driver.NewMemoryBackend(logger), nil
	case "sqlite", "":
		return driver.NewSQLiteBackend(cfg.Database.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

func buildExtractor(cfg *config.Config, logger *slog.Logger) (extraction.Extractor, error) {
	rules := extraction.DefaultRules()
	if cfg.Extraction.RulesPath != "" {
		loaded, err := extraction.LoadRules(cfg.Extraction.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load extraction rules: %w", err)
		}
		rules = loaded
	}
	patternExtractor, err := extraction.NewPatternExtractor(rules, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Extraction.Provider == "pattern" {
		return patternExtractor, nil
	}

	llmExtractor, err := extraction.NewLLMExtractor(extraction.LLMConfig{
		APIKey:      cfg.Extraction.APIKey,
		BaseURL:     cfg.Extraction.BaseURL,
		Model:       cfg.Extraction.Model,
		Temperature: cfg.Extraction.Temperature,
		MaxRetries:  cfg.Extraction.MaxRetries,
	}, logger)
	if err != nil {
		logger.Warn("LLM extractor unavailable, using pattern extraction", "error", err)
		return patternExtractor, nil
	}

	if !cfg.CircuitBreaker.Enabled {
		return llmExtractor, nil
	}

	return extraction.NewBreakerExtractor(llmExtractor, patternExtractor, extraction.BreakerConfig{
		MaxRequests:  cfg.CircuitBreaker.MaxRequests,
		Interval:     time.Duration(cfg.CircuitBreaker.Interval) * time.Second,
		Timeout:      time.Duration(cfg.CircuitBreaker.Timeout) * time.Second,
		FailureRatio: cfg.CircuitBreaker.ReadyToTripRatio,
	}, logger), nil
}

// GetBackend returns the underlying graph backend.
func (c *Client) GetBackend() driver.GraphBackend {
	return c.backend
}

// GetExtractor returns the extractor.
func (c *Client) GetExtractor() extraction.Extractor {
	return c.extractor
}

// GetCheckpoints returns the checkpoint store, or nil when checkpointing is
// disabled.
func (c *Client) GetCheckpoints() *checkpoint.Store {
	return c.checkpoints
}

// resolveDomain substitutes the configured default for a zero domain.
func (c *Client) resolveDomain(domain types.Domain) types.Domain {
	if domain.IsZero() {
		return c.config.DefaultDomain
	}
	return domain
}

// Stats summarizes the stored graph.
func (c *Client) Stats(ctx context.Context) (*types.GraphStats, error) {
	return c.backend.Stats(ctx)
}

// Clear removes everything: entities, relationships, mentions, and any
// recorded checkpoints. Previously captured memories can be captured again
// after a clear.
func (c *Client) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return err
	}
	if c.checkpoints != nil {
		if err := c.checkpoints.Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the backend and the checkpoint store.
func (c *Client) Close() error {
	var errs []error
	if err := c.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.checkpoints != nil {
		if err := c.checkpoints.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
