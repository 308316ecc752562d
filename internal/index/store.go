package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Lookup when no span is indexed under a path.
var ErrNotFound = errors.New("span not found")

// Store provides SQLite-based span storage.
type Store struct {
	db     *sql.DB
	dbPath string
}

// StoreConfig holds configuration for the span store.
type StoreConfig struct {
	DBPath string // Path to SQLite file, ":memory:" for in-memory
}

// NewStore creates a new SQLite span store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = "spans.db"
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", cfg.DBPath).Msg("Span store opened")
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS spans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		path TEXT NOT NULL,
		member_key TEXT NOT NULL DEFAULT '',
		start_pos INTEGER NOT NULL,
		end_pos INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (document_id, path)
	);

	CREATE INDEX IF NOT EXISTS idx_spans_document_id ON spans(document_id);
	CREATE INDEX IF NOT EXISTS idx_spans_path ON spans(path);
	`

	_, err := s.db.Exec(schema)
	return err
}

// upsertSpan replaces an earlier span recorded under the same path.
const upsertSpan = `
	INSERT INTO spans (document_id, path, member_key, start_pos, end_pos, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (document_id, path) DO UPDATE SET
		member_key = excluded.member_key,
		start_pos = excluded.start_pos,
		end_pos = excluded.end_pos,
		created_at = excluded.created_at
`

// Insert adds a single span.
func (s *Store) Insert(ctx context.Context, span *Span) error {
	_, err := s.db.ExecContext(ctx, upsertSpan,
		span.DocumentID, span.Path, span.Key, span.Start, span.End, span.CreatedAt,
	)
	return err
}

// InsertBatch inserts multiple spans in a single transaction.
func (s *Store) InsertBatch(ctx context.Context, spans []*Span) error {
	if len(spans) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSpan)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, span := range spans {
		_, err := stmt.ExecContext(ctx,
			span.DocumentID, span.Path, span.Key, span.Start, span.End, span.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert span %s: %w", span.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

const selectSpans = "SELECT id, document_id, path, member_key, start_pos, end_pos, created_at FROM spans"

// Lookup returns the span indexed under path for a document.
func (s *Store) Lookup(ctx context.Context, documentID, path string) (*Span, error) {
	row := s.db.QueryRowContext(ctx,
		selectSpans+" WHERE document_id = ? AND path = ?",
		documentID, path,
	)

	span := &Span{}
	err := row.Scan(&span.ID, &span.DocumentID, &span.Path, &span.Key, &span.Start, &span.End, &span.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s in document %s", ErrNotFound, path, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up span: %w", err)
	}
	return span, nil
}

// allowedOrderByColumns defines the whitelist of columns that can be used in ORDER BY.
var allowedOrderByColumns = map[string]string{
	"id":          "id",
	"document_id": "document_id",
	"path":        "path",
	"start":       "start_pos",
	"end":         "end_pos",
	"created_at":  "created_at",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Query retrieves spans based on options.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*Span, error) {
	var conditions []string
	var args []interface{}

	if opts.DocumentID != "" {
		conditions = append(conditions, "document_id = ?")
		args = append(args, opts.DocumentID)
	}
	if opts.PathPrefix != "" {
		conditions = append(conditions, `path LIKE ? ESCAPE '\'`)
		args = append(args, likeEscaper.Replace(opts.PathPrefix)+"%")
	}

	query := selectSpans
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	orderBy := "start_pos"
	if opts.OrderBy != "" {
		col, ok := allowedOrderByColumns[opts.OrderBy]
		if !ok {
			return nil, fmt.Errorf("invalid order by column: %s", opts.OrderBy)
		}
		orderBy = col
	}
	order := "ASC"
	if opts.OrderDesc {
		order = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s", orderBy, order, order)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var spans []*Span
	for rows.Next() {
		span := &Span{}
		if err := rows.Scan(&span.ID, &span.DocumentID, &span.Path, &span.Key, &span.Start, &span.End, &span.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		spans = append(spans, span)
	}

	return spans, rows.Err()
}

// Documents lists every indexed document with its span count.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, COUNT(*), COALESCE(SUM(end_pos - start_pos), 0)
		FROM spans
		GROUP BY document_id
		ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.DocumentID, &d.Spans, &d.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

// Delete removes every span of a document and returns how many were removed.
func (s *Store) Delete(ctx context.Context, documentID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM spans WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}

	return result.RowsAffected()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	log.Info().Str("path", s.dbPath).Msg("Closing span store")
	return s.db.Close()
}
