package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/coreindex/coreindex/internal/chunk"
	"github.com/coreindex/coreindex/internal/store"
)

// callNodeTypes and importNodeTypes name the tree-sitter node types that
// mark a call site or an import, per language. Languages not listed
// fall back to symbol extraction only (no references).
var callNodeTypes = map[string]string{
	"go":         "call_expression",
	"typescript": "call_expression",
	"tsx":        "call_expression",
	"javascript": "call_expression",
	"jsx":        "call_expression",
	"python":     "call",
}

var importNodeTypes = map[string][]string{
	"go":         {"import_spec"},
	"typescript": {"import_statement"},
	"tsx":        {"import_statement"},
	"javascript": {"import_statement"},
	"jsx":        {"import_statement"},
	"python":     {"import_statement", "import_from_statement"},
}

// TreeSitterExtractor implements Extractor for one language using the
// tree-sitter grammar registered in the shared chunk.LanguageRegistry.
type TreeSitterExtractor struct {
	language string
	parser   *chunk.Parser
	symbols  *chunk.SymbolExtractor
	registry *chunk.LanguageRegistry
}

var _ Extractor = (*TreeSitterExtractor)(nil)

// NewTreeSitterExtractor creates an extractor for language, which must
// be registered in chunk.DefaultRegistry() (go, typescript, tsx,
// javascript, jsx, python).
func NewTreeSitterExtractor(language string) (*TreeSitterExtractor, error) {
	registry := chunk.DefaultRegistry()
	if _, ok := registry.GetByName(language); !ok {
		return nil, fmt.Errorf("extractor: unsupported language %q", language)
	}
	return &TreeSitterExtractor{
		language: language,
		parser:   chunk.NewParserWithRegistry(registry),
		symbols:  chunk.NewSymbolExtractorWithRegistry(registry),
		registry: registry,
	}, nil
}

func (e *TreeSitterExtractor) Language() string { return e.language }

func (e *TreeSitterExtractor) SupportedExtensions() []string {
	config, ok := e.registry.GetByName(e.language)
	if !ok {
		return nil
	}
	return config.Extensions
}

// Extract parses content and converts the tree-sitter symbol/reference
// nodes it finds into store types, stamped with fileID.
func (e *TreeSitterExtractor) Extract(ctx context.Context, fileID string, path string, content []byte) (*Result, error) {
	if len(content) == 0 {
		return &Result{}, nil
	}

	tree, err := e.parser.Parse(ctx, content, e.language)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	chunkSymbols := e.symbols.Extract(tree, content)
	symbols := make([]*store.Symbol, 0, len(chunkSymbols))
	for _, cs := range chunkSymbols {
		symbols = append(symbols, &store.Symbol{
			ID:         symbolID(fileID, cs.Name, cs.StartLine),
			FileID:     fileID,
			Name:       cs.Name,
			Type:       store.SymbolType(cs.Type),
			StartLine:  cs.StartLine,
			EndLine:    cs.EndLine,
			Signature:  cs.Signature,
			DocComment: cs.DocComment,
		})
	}

	references := e.extractReferences(tree, content, fileID)

	return &Result{Symbols: symbols, References: references}, nil
}

func (e *TreeSitterExtractor) extractReferences(tree *chunk.Tree, source []byte, fileID string) []*store.Reference {
	callType := callNodeTypes[e.language]
	importTypes := importNodeTypes[e.language]

	var refs []*store.Reference
	tree.Root.Walk(func(n *chunk.Node) bool {
		if callType != "" && n.Type == callType {
			if name := extractCalleeName(n, source); name != "" {
				refs = append(refs, &store.Reference{
					ID:         referenceID(fileID, name, int(n.StartPoint.Row)+1, int(n.StartPoint.Column)),
					SymbolName: name,
					FileID:     fileID,
					Line:       int(n.StartPoint.Row) + 1,
					Col:        int(n.StartPoint.Column),
					Kind:       store.ReferenceKindCall,
				})
			}
		}
		for _, t := range importTypes {
			if n.Type == t {
				path := n.GetContent(source)
				refs = append(refs, &store.Reference{
					ID:         referenceID(fileID, path, int(n.StartPoint.Row)+1, int(n.StartPoint.Column)),
					SymbolName: path,
					FileID:     fileID,
					Line:       int(n.StartPoint.Row) + 1,
					Col:        int(n.StartPoint.Column),
					Kind:       store.ReferenceKindImport,
				})
			}
		}
		return true
	})
	return refs
}

// extractCalleeName finds the identifier actually being called within a
// call expression's callee sub-tree: for a dotted call like pkg.Func()
// or obj.method(), that is the rightmost identifier (Func, method); for
// a plain call it is the only one.
func extractCalleeName(callNode *chunk.Node, source []byte) string {
	if len(callNode.Children) == 0 {
		return ""
	}
	callee := callNode.Children[0]

	identTypes := map[string]bool{
		"identifier":         true,
		"field_identifier":   true,
		"property_identifier": true,
	}

	var best *chunk.Node
	var walk func(n *chunk.Node)
	walk = func(n *chunk.Node) {
		if identTypes[n.Type] {
			if best == nil || n.StartByte > best.StartByte {
				best = n
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(callee)

	if best == nil {
		return ""
	}
	return best.GetContent(source)
}

func symbolID(fileID, name string, startLine int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", fileID, name, startLine)))
	return hex.EncodeToString(h[:])[:16]
}

func referenceID(fileID, name string, line, col int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d:%d", fileID, name, line, col)))
	return hex.EncodeToString(h[:])[:16]
}
