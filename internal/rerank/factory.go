package rerank

import (
	"fmt"
	"strings"

	"github.com/coreindex/coreindex/internal/search"
)

// BackendType identifies a reranker backend.
type BackendType string

const (
	BackendTFIDF        BackendType = "tfidf"
	BackendCrossEncoder BackendType = "cross_encoder"
	BackendExternal     BackendType = "external"
	BackendHybrid       BackendType = "hybrid"
	// BackendNone disables reranking; HybridEngine already treats a nil
	// Reranker as NoOpReranker, so this exists for explicit config values.
	BackendNone BackendType = "none"
)

// Config selects and configures a reranker backend.
type Config struct {
	Backend      BackendType
	CrossEncoder CrossEncoderConfig
	External     ExternalConfig
	Hybrid       HybridConfig
	// HybridPrimary and HybridFallback name the two backends the hybrid
	// combinator composes; only consulted when Backend == BackendHybrid.
	// HybridPrimary defaults to BackendExternal (the common case: a
	// remote model as primary, a local backend as fallback).
	HybridPrimary  BackendType
	HybridFallback BackendType
}

// DefaultConfig returns the TF-IDF backend, since it is always available
// and needs no network or API key configuration.
func DefaultConfig() Config {
	return Config{Backend: BackendTFIDF}
}

// New constructs the configured reranker backend.
func New(cfg Config) (search.Reranker, error) {
	switch BackendType(strings.ToLower(string(cfg.Backend))) {
	case BackendTFIDF, "":
		return NewTFIDFReranker(), nil
	case BackendCrossEncoder:
		return NewCrossEncoderReranker(cfg.CrossEncoder), nil
	case BackendExternal:
		if cfg.External.Endpoint == "" {
			return nil, fmt.Errorf("rerank: external backend requires an endpoint")
		}
		return NewExternalReranker(cfg.External), nil
	case BackendHybrid:
		primaryBackend := cfg.HybridPrimary
		if primaryBackend == "" {
			primaryBackend = BackendExternal
		}
		primary, err := New(Config{Backend: primaryBackend, External: cfg.External, CrossEncoder: cfg.CrossEncoder})
		if err != nil {
			return nil, fmt.Errorf("rerank: hybrid primary: %w", err)
		}
		fallback, err := New(Config{Backend: cfg.HybridFallback, CrossEncoder: cfg.CrossEncoder})
		if err != nil {
			return nil, fmt.Errorf("rerank: hybrid fallback: %w", err)
		}
		hybridCfg := cfg.Hybrid
		if hybridCfg.PrimaryWeight == 0 && hybridCfg.FallbackWeight == 0 {
			hybridCfg = DefaultHybridConfig()
		}
		return NewHybridReranker(primary, fallback, hybridCfg), nil
	case BackendNone:
		return search.NoOpReranker{}, nil
	default:
		return nil, fmt.Errorf("rerank: unknown backend %q", cfg.Backend)
	}
}

// ValidBackends returns all backend names accepted by New.
func ValidBackends() []string {
	return []string{
		string(BackendTFIDF), string(BackendCrossEncoder),
		string(BackendExternal), string(BackendHybrid), string(BackendNone),
	}
}
