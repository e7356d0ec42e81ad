package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryFuzzyIndex implements FuzzyIndex as a simple per-file line
// table, scanned linearly for case-insensitive substring matches. It
// carries no persistence of its own; the Index Engine rebuilds it from
// the files tracked in Storage on startup.
type InMemoryFuzzyIndex struct {
	mu    sync.RWMutex
	lines map[string][]fuzzyLine // fileID -> lines
}

type fuzzyLine struct {
	line int
	text string
}

var _ FuzzyIndex = (*InMemoryFuzzyIndex)(nil)

// NewInMemoryFuzzyIndex creates an empty fuzzy index.
func NewInMemoryFuzzyIndex() *InMemoryFuzzyIndex {
	return &InMemoryFuzzyIndex{lines: make(map[string][]fuzzyLine)}
}

// AddFile records a file's content, replacing any prior entry for the
// same fileID.
func (idx *InMemoryFuzzyIndex) AddFile(ctx context.Context, fileID string, content string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rawLines := strings.Split(content, "\n")
	lines := make([]fuzzyLine, 0, len(rawLines))
	for i, l := range rawLines {
		lines = append(lines, fuzzyLine{line: i + 1, text: strings.TrimRight(l, " \t\r")})
	}
	idx.lines[fileID] = lines
	return nil
}

func (idx *InMemoryFuzzyIndex) RemoveFile(ctx context.Context, fileID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.lines, fileID)
	return nil
}

// Search returns up to limit case-insensitive substring matches, ordered
// by file ID then line number for determinism.
func (idx *InMemoryFuzzyIndex) Search(ctx context.Context, query string, limit int) ([]*FuzzyMatch, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	q := strings.ToLower(query)
	if q == "" {
		return []*FuzzyMatch{}, nil
	}

	fileIDs := make([]string, 0, len(idx.lines))
	for fileID := range idx.lines {
		fileIDs = append(fileIDs, fileID)
	}
	sort.Strings(fileIDs)

	results := make([]*FuzzyMatch, 0, limit)
	for _, fileID := range fileIDs {
		for _, l := range idx.lines[fileID] {
			if strings.Contains(strings.ToLower(l.text), q) {
				results = append(results, &FuzzyMatch{
					FileID:  fileID,
					Line:    l.line,
					Snippet: strings.TrimSpace(l.text),
				})
				if len(results) >= limit {
					return results, nil
				}
			}
		}
	}
	return results, nil
}

// Clear removes every indexed file.
func (idx *InMemoryFuzzyIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.lines = make(map[string][]fuzzyLine)
}
