// Package extractor defines the Symbol-Extractor Interface: a pluggable
// contract for turning a file's raw content into the symbols and
// references the Storage Layer and search indexes are built from.
// Extractors are looked up by file extension via a Registry; languages
// with no registered extractor fall back to plain-text indexing by the
// Index Engine.
package extractor

import (
	"context"

	"github.com/coreindex/coreindex/internal/store"
)

// Result is everything one Extract call produces for a single file.
type Result struct {
	Symbols    []*store.Symbol
	References []*store.Reference
}

// Extractor turns a file's content into symbols (functions, types,
// classes, methods, variables, constants) and references (call sites,
// imports, inheritance/implements edges) for one source language.
//
// Implementations MUST be safe for concurrent use: the Index Engine's
// worker pool calls Extract from multiple goroutines.
type Extractor interface {
	// Language identifies the language this extractor handles, e.g. "go".
	Language() string

	// SupportedExtensions lists the file extensions routed to this
	// extractor by the Registry, e.g. []string{".go"}.
	SupportedExtensions() []string

	// Extract parses content and returns its symbols and references.
	// fileID is the Storage Layer's id for the file being processed and
	// is used to stamp Symbol.FileID / Reference.FileID.
	Extract(ctx context.Context, fileID string, path string, content []byte) (*Result, error)
}
