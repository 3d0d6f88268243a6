package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	mime_type   TEXT DEFAULT '',
	size        INTEGER DEFAULT 0,
	chunk_count INTEGER DEFAULT 0,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	words       INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(document_id, chunk_index);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	content,
	content='chunks',
	content_rowid='id'
);
`

// sqliteStore persists documents and chunks with an FTS5 index.
type sqliteStore struct {
	db *sql.DB
}

func openSQLite(ctx context.Context, path string) (*sqliteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create knowledge directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open knowledge database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate knowledge database: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

// insert stores doc and its chunks. It reports false when a document with the
// same id already exists, in which case nothing is written.
func (s *sqliteStore) insert(ctx context.Context, doc Document, chunks []Chunk) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (id, name, mime_type, size, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.MimeType, doc.Size, len(chunks), doc.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	for _, chunk := range chunks {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (document_id, chunk_index, content, words) VALUES (?, ?, ?, ?)`,
			doc.ID, chunk.Index, chunk.Content, chunk.Words,
		)
		if err != nil {
			return false, fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts (rowid, content) VALUES (?, ?)`, rowID, chunk.Content); err != nil {
			return false, fmt.Errorf("index chunk %d: %w", chunk.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) search(ctx context.Context, match string, limit int) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.document_id, d.name, c.chunk_index, c.content, bm25(chunks_fts) AS score
		 FROM chunks_fts
		 JOIN chunks c ON c.id = chunks_fts.rowid
		 JOIN documents d ON d.id = c.document_id
		 WHERE chunks_fts MATCH ?
		 ORDER BY score
		 LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.DocumentID, &r.Document, &r.ChunkIndex, &r.Content, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

func (s *sqliteStore) documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, mime_type, size, chunk_count, created_at FROM documents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var created string
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.MimeType, &doc.Size, &doc.ChunkCount, &created); err != nil {
			return nil, err
		}
		doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func (s *sqliteStore) delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// External-content FTS rows are removed with the special 'delete' command.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chunks_fts (chunks_fts, rowid, content)
		 SELECT 'delete', id, content FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("unindex chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *sqliteStore) close() error {
	return s.db.Close()
}

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("document not found")

// ftsQuery turns free text into an FTS5 OR query of quoted terms so user
// punctuation never reaches the FTS parser.
func ftsQuery(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || r == '-' || r == '.' || isWordRune(r))
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.Trim(field, "-.")
		if len([]rune(field)) < 2 {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		terms = append(terms, `"`+strings.ReplaceAll(field, `"`, `""`)+`"`)
	}

	return strings.Join(terms, " OR ")
}

func isWordRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
