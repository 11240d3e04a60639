package lexical

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

// SQLiteIndex is a BM25 index on SQLite FTS5. The chunk text is kept in an
// UNINDEXED column; the searchable column holds the tokenized form.
type SQLiteIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Store = (*SQLiteIndex)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
	chunk_id UNINDEXED,
	doc_id UNINDEXED,
	body UNINDEXED,
	content,
	tokenize='unicode61'
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// NewSQLiteIndex opens or creates the index at path. An empty path opens
// an in-memory index.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := validateSQLite(path); err != nil {
			slog.Warn("lexical_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
			_ = os.Remove(path)
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a second :memory: connection would be a different
	// database, and a single writer avoids lock contention on files.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN pragmas.
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteIndex{db: db, path: path}, nil
}

// validateSQLite reports a corrupt or foreign database file. A missing
// file is valid.
func validateSQLite(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='fts_content'`).Scan(&n); err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("fts_content table missing")
	}
	return nil
}

// Index inserts docs, replacing rows with the same id.
func (s *SQLiteIndex) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 has no REPLACE, so delete first.
	del, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE chunk_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer func() { _ = del.Close() }()

	ins, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(chunk_id, doc_id, body, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = ins.Close() }()

	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document id is required")
		}
		if _, err := del.ExecContext(ctx, d.ID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", d.ID, err)
		}
		content := strings.Join(Tokenize(d.Text), " ")
		if _, err := ins.ExecContext(ctx, d.ID, d.DocID, d.Text, content); err != nil {
			return fmt.Errorf("failed to index %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Search ranks chunks with FTS5 bm25. Scores are negated so higher is better.
func (s *SQLiteIndex) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 || topK <= 0 {
		return []Hit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, body, bm25(fts_content) AS score
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score
		LIMIT ?`, ftsQuery(queryTerms), topK)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]Hit, 0, topK)
	for rows.Next() {
		var h Hit
		var score float64
		if err := rows.Scan(&h.ID, &h.Text, &score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		h.Score = -score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of indexed chunks.
func (s *SQLiteIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fts_content`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
