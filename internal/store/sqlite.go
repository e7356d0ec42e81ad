package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements Storage over a single SQLite database holding
// repositories, files, symbols, references, and a small key-value state
// table. Uses WAL mode for concurrent readers alongside the single
// writer that holds store.FileLock for the lifetime of an index build.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

var _ Storage = (*SQLiteStore)(nil)

// DB returns the underlying connection so callers that need to share
// the same database file (telemetry, ad-hoc migrations) can do so
// without opening a second handle to a WAL-mode SQLite file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// NewSQLiteStore opens (or creates) the metadata database at path. If
// path is empty, an in-memory database is created (for tests).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	vcs TEXT,
	file_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	mod_time TIMESTAMP NOT NULL,
	content_hash TEXT NOT NULL,
	language TEXT,
	content_type TEXT NOT NULL,
	indexed_at TIMESTAMP NOT NULL,
	UNIQUE(repository_id, path)
);
CREATE INDEX IF NOT EXISTS idx_files_repository ON files(repository_id);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(repository_id, path);

CREATE TABLE IF NOT EXISTS symbols (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	qualified TEXT,
	type TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	start_col INTEGER NOT NULL DEFAULT 0,
	end_col INTEGER NOT NULL DEFAULT 0,
	signature TEXT,
	doc_comment TEXT,
	parent_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

CREATE TABLE IF NOT EXISTS refs (
	id TEXT PRIMARY KEY,
	symbol_id TEXT,
	symbol_name TEXT NOT NULL,
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	line INTEGER NOT NULL,
	col INTEGER NOT NULL DEFAULT 0,
	kind TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refs_file ON refs(file_id);
CREATE INDEX IF NOT EXISTS idx_refs_symbol_name ON refs(symbol_name);

CREATE TABLE IF NOT EXISTS state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveRepository(ctx context.Context, repo *Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, name, root_path, vcs, file_count, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root_path = excluded.root_path,
			vcs = excluded.vcs,
			file_count = excluded.file_count,
			updated_at = excluded.updated_at,
			version = excluded.version
	`, repo.ID, repo.Name, repo.RootPath, repo.VCS, repo.FileCount, repo.CreatedAt, repo.UpdatedAt, repo.Version)
	if err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repo := &Repository{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, vcs, file_count, created_at, updated_at, version
		FROM repositories WHERE id = ?
	`, id).Scan(&repo.ID, &repo.Name, &repo.RootPath, &repo.VCS, &repo.FileCount, &repo.CreatedAt, &repo.UpdatedAt, &repo.Version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

// RefreshRepositoryStats recomputes file_count and bumps updated_at from
// the files currently on record for the repository.
func (s *SQLiteStore) RefreshRepositoryStats(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET
			file_count = (SELECT COUNT(*) FROM files WHERE repository_id = ?),
			updated_at = ?
		WHERE id = ?
	`, id, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("refresh repository stats: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (id, repository_id, path, size, mod_time, content_hash, language, content_type, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			language = excluded.language,
			content_type = excluded.content_type,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.ID, f.RepositoryID, f.Path, f.Size, f.ModTime, f.ContentHash, f.Language, string(f.ContentType), f.IndexedAt); err != nil {
			return fmt.Errorf("save file %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, repoID, path string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := &File{}
	var contentType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, repository_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE repository_id = ? AND path = ?
	`, repoID, path).Scan(&f.ID, &f.RepositoryID, &f.Path, &f.Size, &f.ModTime, &f.ContentHash, &f.Language, &contentType, &f.IndexedAt)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", path, err)
	}
	f.ContentType = ContentType(contentType)
	return f, nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, fileID string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := &File{}
	var contentType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, repository_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE id = ?
	`, fileID).Scan(&f.ID, &f.RepositoryID, &f.Path, &f.Size, &f.ModTime, &f.ContentHash, &f.Language, &contentType, &f.IndexedAt)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	f.ContentType = ContentType(contentType)
	return f, nil
}

// GetFilesForReconciliation returns every tracked file for a repository,
// keyed by relative path, for the Index Engine to diff against the
// current filesystem scan.
func (s *SQLiteStore) GetFilesForReconciliation(ctx context.Context, repoID string) (map[string]*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE repository_id = ?
	`, repoID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*File)
	for rows.Next() {
		f := &File{}
		var contentType string
		if err := rows.Scan(&f.ID, &f.RepositoryID, &f.Path, &f.Size, &f.ModTime, &f.ContentHash, &f.Language, &contentType, &f.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.ContentType = ContentType(contentType)
		result[f.Path] = f
	}
	return result, rows.Err()
}

func (s *SQLiteStore) ListFilePathsUnder(ctx context.Context, repoID, dirPrefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT path FROM files WHERE repository_id = ? AND path LIKE ? || '%'
	`, repoID, dirPrefix)
	if err != nil {
		return nil, fmt.Errorf("list file paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStore) FileExists(ctx context.Context, fileID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE id = ?`, fileID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check file exists: %w", err)
	}
	return count > 0, nil
}

// DeleteFile removes a file and, via ON DELETE CASCADE, its symbols and
// references.
func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFilesByRepository(ctx context.Context, repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE repository_id = ?`, repoID)
	if err != nil {
		return fmt.Errorf("delete files by repository: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSymbols(ctx context.Context, symbols []*Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (id, file_id, name, qualified, type, start_line, end_line, start_col, end_col, signature, doc_comment, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			qualified = excluded.qualified,
			type = excluded.type,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			start_col = excluded.start_col,
			end_col = excluded.end_col,
			signature = excluded.signature,
			doc_comment = excluded.doc_comment,
			parent_id = excluded.parent_id
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, sym := range symbols {
		if _, err := stmt.ExecContext(ctx, sym.ID, sym.FileID, sym.Name, sym.Qualified, string(sym.Type),
			sym.StartLine, sym.EndLine, sym.StartCol, sym.EndCol, sym.Signature, sym.DocComment, sym.ParentID); err != nil {
			return fmt.Errorf("save symbol %s: %w", sym.Name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSymbol(ctx context.Context, id string) (*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanSymbolRow(s.db.QueryRowContext(ctx, `
		SELECT id, file_id, name, qualified, type, start_line, end_line, start_col, end_col, signature, doc_comment, parent_id
		FROM symbols WHERE id = ?
	`, id))
}

func (s *SQLiteStore) scanSymbolRow(row *sql.Row) (*Symbol, error) {
	sym := &Symbol{}
	var symType string
	err := row.Scan(&sym.ID, &sym.FileID, &sym.Name, &sym.Qualified, &symType, &sym.StartLine, &sym.EndLine,
		&sym.StartCol, &sym.EndCol, &sym.Signature, &sym.DocComment, &sym.ParentID)
	if err != nil {
		return nil, fmt.Errorf("get symbol: %w", err)
	}
	sym.Type = SymbolType(symType)
	return sym, nil
}

func (s *SQLiteStore) GetSymbolsByFile(ctx context.Context, fileID string) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, name, qualified, type, start_line, end_line, start_col, end_col, signature, doc_comment, parent_id
		FROM symbols WHERE file_id = ? ORDER BY start_line
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func (s *SQLiteStore) FindSymbolDefinition(ctx context.Context, name string, limit int) ([]*Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, name, qualified, type, start_line, end_line, start_col, end_col, signature, doc_comment, parent_id
		FROM symbols WHERE name = ?
		ORDER BY CASE type
			WHEN 'class' THEN 0
			WHEN 'struct' THEN 0
			WHEN 'interface' THEN 0
			WHEN 'function' THEN 0
			WHEN 'method' THEN 0
			WHEN 'type' THEN 0
			WHEN 'variable' THEN 1
			WHEN 'constant' THEN 1
			ELSE 2
		END, start_line
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("find symbol definition: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func scanSymbols(rows *sql.Rows) ([]*Symbol, error) {
	var symbols []*Symbol
	for rows.Next() {
		sym := &Symbol{}
		var symType string
		if err := rows.Scan(&sym.ID, &sym.FileID, &sym.Name, &sym.Qualified, &symType, &sym.StartLine, &sym.EndLine,
			&sym.StartCol, &sym.EndCol, &sym.Signature, &sym.DocComment, &sym.ParentID); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		sym.Type = SymbolType(symType)
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

func (s *SQLiteStore) DeleteSymbolsByFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("delete symbols by file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveReferences(ctx context.Context, refs []*Reference) error {
	if len(refs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO refs (id, symbol_id, symbol_name, file_id, line, col, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol_id = excluded.symbol_id,
			symbol_name = excluded.symbol_name,
			line = excluded.line,
			col = excluded.col,
			kind = excluded.kind
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range refs {
		if _, err := stmt.ExecContext(ctx, r.ID, r.SymbolID, r.SymbolName, r.FileID, r.Line, r.Col, string(r.Kind)); err != nil {
			return fmt.Errorf("save reference %s: %w", r.SymbolName, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindReferences(ctx context.Context, symbolName string, limit int) ([]*Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol_id, symbol_name, file_id, line, col, kind
		FROM refs WHERE symbol_name = ? LIMIT ?
	`, symbolName, limit)
	if err != nil {
		return nil, fmt.Errorf("find references: %w", err)
	}
	defer rows.Close()

	var refs []*Reference
	for rows.Next() {
		r := &Reference{}
		var kind string
		if err := rows.Scan(&r.ID, &r.SymbolID, &r.SymbolName, &r.FileID, &r.Line, &r.Col, &kind); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		r.Kind = ReferenceKind(kind)
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *SQLiteStore) DeleteReferencesByFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM refs WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("delete references by file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetStatistics returns row counts for each relational table.
func (s *SQLiteStore) GetStatistics(ctx context.Context) (*StoreStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &StoreStatistics{}
	counts := []struct {
		table string
		dest  *int
	}{
		{"repositories", &stats.Repositories},
		{"files", &stats.Files},
		{"symbols", &stats.Symbols},
		{"refs", &stats.References},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, c.table)).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return stats, nil
}

// OptimizeFTSTables refreshes SQLite's query planner statistics for this
// store's relational tables. The BM25 full-text tables live in their own
// per-index databases (see BM25Indexes) and are optimized independently
// through their own Save/Load lifecycle; this runs PRAGMA optimize here
// so the relational side of a long-lived store doesn't drift as it grows.
func (s *SQLiteStore) OptimizeFTSTables(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

// SearchContent is the plain-LIKE fallback used when a BM25 index is
// unavailable. File content itself isn't persisted in the relational
// store, so this scans symbol names, signatures, and doc comments —
// the searchable text the store actually holds — joined back to the
// owning file's path.
func (s *SQLiteStore) SearchContent(ctx context.Context, query string, limit int) ([]*ContentMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.path, s.start_line, COALESCE(NULLIF(s.signature, ''), s.qualified, s.name)
		FROM symbols s
		JOIN files f ON f.id = s.file_id
		WHERE s.name LIKE ? OR s.qualified LIKE ? OR s.signature LIKE ? OR s.doc_comment LIKE ?
		ORDER BY f.path, s.start_line
		LIMIT ?
	`, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	defer rows.Close()

	var matches []*ContentMatch
	for rows.Next() {
		m := &ContentMatch{}
		if err := rows.Scan(&m.FilePath, &m.Line, &m.Snippet); err != nil {
			return nil, fmt.Errorf("scan content match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
