package dense

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// PgvectorConfig configures the PostgreSQL index.
type PgvectorConfig struct {
	DSN        string
	Table      string
	Dimensions int
	MaxConns   int32
}

// PgvectorIndex stores chunks in a PostgreSQL table with a pgvector column
// and ranks them by cosine distance.
type PgvectorIndex struct {
	pool  *pgxpool.Pool
	table string
	dims  int
}

var (
	_ Store      = (*PgvectorIndex)(nil)
	_ DocCounter = (*PgvectorIndex)(nil)
)

// NewPgvectorIndex connects, registers pgvector types on every connection
// and creates the table when missing.
func NewPgvectorIndex(ctx context.Context, cfg PgvectorConfig) (*PgvectorIndex, error) {
	if cfg.Table == "" {
		cfg.Table = "chunks"
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector index: dimensions must be positive")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	// The extension must exist before vector types can be registered.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return err
		}
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	idx := &PgvectorIndex{
		pool:  pool,
		table: pgx.Identifier{cfg.Table}.Sanitize(),
		dims:  cfg.Dimensions,
	}
	if err := idx.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PgvectorIndex) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id        text PRIMARY KEY,
	doc_id    text,
	text      text,
	metadata  jsonb NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%d) NOT NULL
)`, p.table, p.dims)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Query ranks rows by cosine distance to q.Vector.
func (p *PgvectorIndex) Query(ctx context.Context, q Query) (*QueryResponse, error) {
	if q.TopK <= 0 {
		return &QueryResponse{Matches: []Match{}}, nil
	}
	if len(q.Vector) != p.dims {
		return nil, ErrDimensionMismatch{Expected: p.dims, Got: len(q.Vector)}
	}

	sql, args := buildPgvectorQuery(p.table, pgvector.NewVector(q.Vector), q.TopK, q.Filter)
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector query failed: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, q.TopK)
	for rows.Next() {
		var (
			id    string
			raw   []byte
			score float64
		)
		if err := rows.Scan(&id, &raw, &score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m := Match{ID: id, Score: score}
		if q.IncludeMetadata {
			if err := json.Unmarshal(raw, &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return &QueryResponse{Matches: matches}, nil
}

// buildPgvectorQuery renders the ranking query. Filter keys and values are
// bound as parameters in sorted key order.
func buildPgvectorQuery(table string, vec pgvector.Vector, topK int, filter map[string]string) (string, []any) {
	args := []any{vec}
	var where []string

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, filter[k])
		where = append(where, fmt.Sprintf("metadata->>$%d = $%d", len(args)-1, len(args)))
	}
	args = append(args, topK)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, metadata, 1 - (embedding <=> $1) AS score FROM %s", table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))
	return b.String(), args
}

// Upsert inserts or replaces rows in one batch. doc_id and text are
// mirrored into columns from the metadata.
func (p *PgvectorIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, doc_id, text, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	doc_id = EXCLUDED.doc_id,
	text = EXCLUDED.text,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding`, p.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		if len(r.Vector) != p.dims {
			return ErrDimensionMismatch{Expected: p.dims, Got: len(r.Vector)}
		}
		meta, err := json.Marshal(nonNilMetadata(r.Metadata))
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", r.ID, err)
		}
		docID, _ := r.Metadata[MetaDocID].(string)
		text, _ := r.Metadata[MetaText].(string)
		batch.Queue(sql, r.ID, docID, text, meta, pgvector.NewVector(r.Vector))
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert %d records: %w", len(records), err)
	}
	return nil
}

// Count returns the row count, or 0 when the database cannot be reached.
func (p *PgvectorIndex) Count() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+p.table).Scan(&n); err != nil {
		slog.Warn("pgvector_count_failed", slog.String("error", err.Error()))
		return 0
	}
	return n
}

// CountDoc returns the number of rows stored for docID.
func (p *PgvectorIndex) CountDoc(ctx context.Context, docID string) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+p.table+" WHERE doc_id = $1", docID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows for %s: %w", docID, err)
	}
	return n, nil
}

// Close closes the pool.
func (p *PgvectorIndex) Close() error {
	p.pool.Close()
	return nil
}

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
