package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// bm25Table names one of the three logical sub-indexes the spec carves
// the BM25 Index into: file content, symbol names/signatures, and
// synthetic documents (doc comments, markdown).
type bm25Table string

const (
	tableContent   bm25Table = "bm25_content"
	tableSymbols   bm25Table = "bm25_symbols"
	tableDocuments bm25Table = "bm25_documents"
)

// SQLiteBM25Index implements BM25Index using SQLite FTS5.
// It provides concurrent multi-process access via WAL mode.
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	table     bm25Table
	config    BM25Config
	closed    bool
	stopWords map[string]struct{}
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// validateSQLiteIntegrity checks if a SQLite FTS5 index is valid before
// opening. Returns nil if valid, or an error describing the corruption.
func validateSQLiteIntegrity(path string, table bm25Table) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // database doesn't exist yet, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, string(table)).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table %q missing", table)
	}

	return nil
}

// NewSQLiteBM25Index creates a SQLite FTS5-backed index over one of the
// three logical sub-indexes. If path is empty, creates an in-memory
// index for testing. Uses WAL mode for concurrent multi-process access.
func NewSQLiteBM25Index(path string, table bm25Table, config BM25Config) (*SQLiteBM25Index, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path, table); validErr != nil {
			slog.Warn("bm25_index_corrupted",
				slog.String("path", path),
				slog.String("table", string(table)),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("bm25_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reindex required"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention; see concurrency model.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536", // 64MB cache
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &SQLiteBM25Index{
		db:        db,
		path:      path,
		table:     table,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}

	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return idx, nil
}

func (s *SQLiteBM25Index) idsTable() string {
	return string(s.table) + "_doc_ids"
}

// initSchema creates the FTS5 virtual table and its supporting tables.
func (s *SQLiteBM25Index) initSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS %s (
		doc_id TEXT PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (%d);
	`, s.table, s.idsTable(), CurrentSchemaVersion)

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteBM25Index) tokenizeAndJoin(text string) []string {
	tokens := TokenizeCode(text)
	return FilterStopWords(tokens, s.stopWords)
}

// Index adds documents to the sub-index. Content is pre-tokenized with
// the code-aware tokenizer (camelCase/snake_case splitting, stop-word
// filtering) before being handed to FTS5. Existing IDs are replaced.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*BM25Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE doc_id = ?`, s.table))
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s(doc_id, content) VALUES (?, ?)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT OR REPLACE INTO %s(doc_id) VALUES (?)`, s.idsTable()))
	if err != nil {
		return fmt.Errorf("failed to prepare ID statement: %w", err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		tokens := s.tokenizeAndJoin(doc.Content)
		processedContent := strings.Join(tokens, " ")

		// FTS5 virtual tables do not support REPLACE; delete then insert.
		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, processedContent); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to track document ID %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteBM25Index) runMatch(ctx context.Context, matchExpr string, tokens []string, limit int) ([]*BM25Result, error) {
	// FTS5 bm25() returns negative scores where lower = better match;
	// negate so higher is better, matching the Bleve backend.
	query := fmt.Sprintf(`
		SELECT doc_id, bm25(%s) as score
		FROM %s
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?
	`, s.table, s.table)

	rows, err := s.db.QueryContext(ctx, query, matchExpr, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*BM25Result{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*BM25Result
	for rows.Next() {
		var docID string
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &BM25Result{
			DocID:        docID,
			Score:        -score,
			MatchedTerms: tokens,
		})
	}

	return results, rows.Err()
}

// Search returns documents matching query, scored by BM25. Terms are
// implicitly ANDed together (FTS5's default).
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	tokens := s.tokenizeAndJoin(queryStr)
	if len(tokens) == 0 {
		return []*BM25Result{}, nil
	}

	return s.runMatch(ctx, strings.Join(tokens, " "), tokens, limit)
}

// SearchPhrase requires the tokenized terms to appear contiguously and
// in order, using FTS5's quoted-phrase syntax.
func (s *SQLiteBM25Index) SearchPhrase(ctx context.Context, phrase string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	tokens := s.tokenizeAndJoin(phrase)
	if len(tokens) == 0 {
		return []*BM25Result{}, nil
	}

	matchExpr := fmt.Sprintf(`"%s"`, strings.Join(tokens, " "))
	return s.runMatch(ctx, matchExpr, tokens, limit)
}

// SearchPrefix matches documents containing any indexed term beginning
// with prefix, using FTS5's `term*` syntax.
func (s *SQLiteBM25Index) SearchPrefix(ctx context.Context, prefix string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	tokens := s.tokenizeAndJoin(prefix)
	if len(tokens) == 0 {
		return []*BM25Result{}, nil
	}

	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t + "*"
	}
	matchExpr := strings.Join(parts, " ")
	return s.runMatch(ctx, matchExpr, tokens, limit)
}

// SearchNear requires all terms to appear within distance tokens of one
// another, using FTS5's NEAR() operator.
func (s *SQLiteBM25Index) SearchNear(ctx context.Context, terms []string, distance int, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(terms) < 2 {
		return []*BM25Result{}, nil
	}
	if distance <= 0 {
		distance = 10
	}

	matchExpr := fmt.Sprintf("NEAR(%s, %d)", strings.Join(terms, " "), distance)
	return s.runMatch(ctx, matchExpr, terms, limit)
}

// TermStatistics reports a single term's corpus-wide frequency, feeding
// the Query Optimizer's cost model.
func (s *SQLiteBM25Index) TermStatistics(ctx context.Context, term string) (*TermStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	tokens := s.tokenizeAndJoin(term)
	if len(tokens) == 0 {
		return &TermStatistics{Term: term}, nil
	}
	matched := tokens[0]

	var docFreq, totalOccur int
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*), SUM(cnt) FROM (
			SELECT doc_id, (LENGTH(content) - LENGTH(REPLACE(content, ?, ''))) AS cnt
			FROM %s WHERE content MATCH ?
		)`, s.table), matched, matched)
	if err := row.Scan(&docFreq, &totalOccur); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to compute term statistics: %w", err)
	}

	var totalDocs int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.idsTable())).Scan(&totalDocs); err != nil {
		return nil, fmt.Errorf("failed to count total documents: %w", err)
	}

	return &TermStatistics{
		Term:           matched,
		DocFrequency:   docFreq,
		TotalOccur:     totalOccur,
		TotalDocuments: totalDocs,
		IDF:            idfScore(docFreq, totalDocs),
		Percentage:     percentageOf(docFreq, totalDocs),
	}, nil
}

// idfScore computes the standard smoothed inverse document frequency:
// log(1 + (N - df + 0.5) / (df + 0.5)), the Okapi BM25 IDF term.
func idfScore(docFreq, totalDocs int) float64 {
	if totalDocs == 0 {
		return 0
	}
	return math.Log(1 + (float64(totalDocs-docFreq)+0.5)/(float64(docFreq)+0.5))
}

// percentageOf returns 100 * part / whole, or 0 when whole is 0.
func percentageOf(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}

// Delete removes documents from the sub-index.
func (s *SQLiteBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(docIDs))
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	ftsQuery := fmt.Sprintf("DELETE FROM %s WHERE doc_id IN (%s)", s.table, inClause)
	if _, err := tx.ExecContext(ctx, ftsQuery, args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}

	idsQuery := fmt.Sprintf("DELETE FROM %s WHERE doc_id IN (%s)", s.idsTable(), inClause)
	if _, err := tx.ExecContext(ctx, idsQuery, args...); err != nil {
		return fmt.Errorf("failed to delete from doc id tracking table: %w", err)
	}

	return tx.Commit()
}

// AllIDs returns all document IDs in the sub-index.
func (s *SQLiteBM25Index) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	rows, err := s.db.Query(fmt.Sprintf(`SELECT doc_id FROM %s ORDER BY doc_id`, s.idsTable()))
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Stats returns index statistics.
func (s *SQLiteBM25Index) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &IndexStats{}
	}

	var count int
	if err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.idsTable())).Scan(&count); err != nil {
		return &IndexStats{}
	}

	return &IndexStats{DocumentCount: count}
}

// Save forces a WAL checkpoint to ensure all changes land in the main
// database file.
func (s *SQLiteBM25Index) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Load opens an existing index from disk, replacing the current
// connection.
func (s *SQLiteBM25Index) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil && !s.closed {
		_ = s.db.Close()
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	s.db = db
	s.path = path
	s.closed = false

	return nil
}

// Close closes the index, checkpointing the WAL first for durability.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
