package extractor

import (
	"fmt"
	"strings"
	"sync"
)

// Registry maps file extensions to the Extractor registered for them.
// The Index Engine consults it once per file during a scan.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor // extension -> extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register installs e for every extension it reports via
// SupportedExtensions, overwriting any prior registration for that
// extension.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ext := range e.SupportedExtensions() {
		r.extractors[normalizeExt(ext)] = e
	}
}

// Get returns the extractor registered for ext, if any.
func (r *Registry) Get(ext string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.extractors[normalizeExt(ext)]
	return e, ok
}

// SupportedExtensions lists every extension with a registered extractor.
func (r *Registry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		exts = append(exts, ext)
	}
	return exts
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the package-wide registry, pre-populated with
// the Go, TypeScript, JavaScript and Python tree-sitter extractors.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		for _, lang := range []string{"go", "typescript", "tsx", "javascript", "jsx", "python"} {
			e, err := NewTreeSitterExtractor(lang)
			if err != nil {
				// A language missing from the tree-sitter registry is a
				// build-time wiring bug, not a runtime condition.
				panic(fmt.Sprintf("extractor: default registry: %v", err))
			}
			defaultRegistry.Register(e)
		}
	})
	return defaultRegistry
}
