// Package store provides the storage layer: a relational store for
// repositories/files/symbols/references, a pluggable BM25 index, an
// in-memory fuzzy index, and an optional HNSW vector store.
package store

import (
	"context"
	"fmt"
	"time"
)

// ContentType represents the type of content in a file.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// State keys for the key-value state table.
const (
	StateKeyIndexDimension = "index_embedding_dimension"
	StateKeyIndexModel     = "index_embedding_model"
)

// SymbolType represents the kind of a code symbol.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// ReferenceKind describes how a symbol is referenced at a call site.
type ReferenceKind string

const (
	ReferenceKindCall       ReferenceKind = "call"
	ReferenceKindImport     ReferenceKind = "import"
	ReferenceKindInherits   ReferenceKind = "inherits"
	ReferenceKindImplements ReferenceKind = "implements"
)

// Repository represents an indexed codebase root.
type Repository struct {
	ID        string // sha256(absolute root path)[:16]
	Name      string // directory name
	RootPath  string // absolute path
	VCS       string // "git", "" if none
	FileCount int
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int // schema version the repository was indexed under
}

// File represents a tracked file within a repository.
type File struct {
	ID           string // sha256(repo_id + ":" + relative path)[:16]
	RepositoryID string
	Path         string // relative to repository root
	Size         int64
	ModTime      time.Time
	ContentHash  string // sha256 hex of full file content
	Language     string
	ContentType  ContentType
	IndexedAt    time.Time
}

// Symbol represents a named code entity extracted by a Symbol-Extractor
// plugin: a function, type, class, method, variable or constant.
type Symbol struct {
	ID         string // sha256(file_id + ":" + name + ":" + start_line)[:16]
	FileID     string
	Name       string
	Qualified  string // dotted/namespaced name, when the language has one
	Type       SymbolType
	StartLine  int // 1-indexed
	EndLine    int // inclusive
	StartCol   int
	EndCol     int
	Signature  string
	DocComment string
	ParentID   string // enclosing symbol, e.g. method -> class; "" at top level
}

// Reference represents a use of a symbol at a specific source location,
// distinct from its definition.
type Reference struct {
	ID         string
	SymbolID   string // target symbol, if resolved; "" if unresolved
	SymbolName string // textual name at the reference site, always set
	FileID     string
	Line       int
	Col        int
	Kind       ReferenceKind
}

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// Storage is the relational metadata store: repositories, files, symbols
// and references, plus a small key-value state table.
type Storage interface {
	// Repository operations
	SaveRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, id string) (*Repository, error)
	RefreshRepositoryStats(ctx context.Context, id string) error

	// File operations
	SaveFiles(ctx context.Context, files []*File) error
	GetFileByPath(ctx context.Context, repoID, path string) (*File, error)
	GetFile(ctx context.Context, fileID string) (*File, error)
	GetFilesForReconciliation(ctx context.Context, repoID string) (map[string]*File, error)
	ListFilePathsUnder(ctx context.Context, repoID, dirPrefix string) ([]string, error)
	FileExists(ctx context.Context, fileID string) (bool, error)
	DeleteFile(ctx context.Context, fileID string) error // cascades to symbols/references
	DeleteFilesByRepository(ctx context.Context, repoID string) error

	// Symbol operations
	SaveSymbols(ctx context.Context, symbols []*Symbol) error
	GetSymbol(ctx context.Context, id string) (*Symbol, error)
	GetSymbolsByFile(ctx context.Context, fileID string) ([]*Symbol, error)
	FindSymbolDefinition(ctx context.Context, name string, limit int) ([]*Symbol, error)
	DeleteSymbolsByFile(ctx context.Context, fileID string) error

	// Reference operations
	SaveReferences(ctx context.Context, refs []*Reference) error
	FindReferences(ctx context.Context, symbolName string, limit int) ([]*Reference, error)
	DeleteReferencesByFile(ctx context.Context, fileID string) error

	// State (key-value)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Statistics and maintenance
	GetStatistics(ctx context.Context) (*StoreStatistics, error)
	OptimizeFTSTables(ctx context.Context) error
	SearchContent(ctx context.Context, query string, limit int) ([]*ContentMatch, error)

	Close() error
}

// StoreStatistics reports row counts per table, used by `get_statistics`.
type StoreStatistics struct {
	Repositories int
	Files        int
	Symbols      int
	References   int
}

// ContentMatch is a single row returned by SearchContent, the plain-LIKE
// fallback used when a BM25 index is unavailable.
type ContentMatch struct {
	FilePath string
	Line     int
	Snippet  string
}

// BM25Document is a unit of text submitted to the BM25 index.
type BM25Document struct {
	ID      string // Symbol.ID, File.ID, or a synthetic document id
	Content string
}

// BM25Result is a single BM25 match.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats describes the current state of a BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// TermStatistics describes a single term's corpus-wide frequency, used by
// the Query Optimizer's cost model and by `get_term_statistics`.
type TermStatistics struct {
	Term           string
	DocFrequency   int     // number of documents containing the term
	TotalOccur     int     // total occurrences across the corpus
	TotalDocuments int     // total number of documents in the index
	IDF            float64 // inverse document frequency, standard BM25/Okapi smoothing
	Percentage     float64 // 100 * DocFrequency / TotalDocuments
}

// BM25Index provides keyword search scored by Okapi BM25 over one of
// three logical sub-indexes: file content, symbol names/signatures, or
// synthetic documents (e.g. doc comments).
type BM25Index interface {
	Index(ctx context.Context, docs []*BM25Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	SearchPhrase(ctx context.Context, phrase string, limit int) ([]*BM25Result, error)
	SearchPrefix(ctx context.Context, prefix string, limit int) ([]*BM25Result, error)
	SearchNear(ctx context.Context, terms []string, distance int, limit int) ([]*BM25Result, error)
	TermStatistics(ctx context.Context, term string) (*TermStatistics, error)

	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats

	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 scoring function.
type BM25Config struct {
	K1             float64 // term frequency saturation, default 1.2
	B              float64 // length normalization, default 0.75
	StopWords      []string
	MinTokenLength int // default 2
}

// DefaultBM25Config returns the spec's default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains common programming keywords filtered out
// of the BM25 vocabulary; they carry little discriminative weight and
// would otherwise dominate term-frequency statistics.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// FuzzyEntry is a single line recorded by the Fuzzy Index.
type FuzzyEntry struct {
	FileID string
	Line   int // 1-indexed
	Text   string
}

// FuzzyMatch is a single fuzzy search result.
type FuzzyMatch struct {
	FileID  string
	Line    int
	Snippet string
}

// FuzzyIndex provides fast in-memory case-insensitive substring search
// over file content, independent of and complementary to BM25.
type FuzzyIndex interface {
	AddFile(ctx context.Context, fileID string, content string) error
	RemoveFile(ctx context.Context, fileID string) error
	Search(ctx context.Context, query string, limit int) ([]*FuzzyMatch, error)
	Clear()
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" or "l2"
	M              int    // max connections per layer
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible HNSW defaults.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfConstruction: 128,
		EfSearch:       20,
	}
}

// VectorStore provides the optional dense-vector semantic search source.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector of the wrong dimensionality was
// submitted to a VectorStore, typically because the index was built with
// a different embedder than the one currently configured.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild the index with --force)", e.Expected, e.Got)
}
