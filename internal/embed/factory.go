package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderStatic uses a deterministic hash-based embedder. It requires
	// no network access or model download, making it the default: semantic
	// search degrades gracefully to a lexical-only signal when no richer
	// embedding service is configured.
	ProviderStatic ProviderType = "static"

	// ProviderStatic768 is dimension-compatible with common 768-dim
	// sentence-transformer models, for environments that later swap in a
	// real model without reindexing from scratch.
	ProviderStatic768 ProviderType = "static768"
)

// NewEmbedder creates an embedder for the given provider, wrapped with an
// LRU query cache. The CORE_EMBEDDER environment variable overrides the
// provider when set.
func NewEmbedder(ctx context.Context, provider ProviderType, cacheSize int) (Embedder, error) {
	if env := os.Getenv("CORE_EMBEDDER"); env != "" {
		provider = ProviderType(strings.ToLower(env))
	}

	var embedder Embedder
	switch provider {
	case ProviderStatic768:
		embedder = NewStaticEmbedder768()
	case ProviderStatic, "":
		embedder = NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}

	return NewCachedEmbedder(embedder, cacheSize), nil
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderStatic), string(ProviderStatic768)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo contains information about an embedder.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	switch info.Model {
	case "static768":
		info.Provider = ProviderStatic768
	default:
		info.Provider = ProviderStatic
	}

	return info
}

// MustNewEmbedder creates an embedder and panics on failure.
// Use only in tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, cacheSize int) Embedder {
	embedder, err := NewEmbedder(ctx, provider, cacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
