package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/indexpool/internal/errors"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteIndex implements DocumentIndex on SQLite with an FTS5 mirror table.
type SQLiteIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ DocumentIndex = (*SQLiteIndex)(nil)

// validateSQLite checks an existing database before it is opened for writing.
func validateSQLite(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
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
	return nil
}

// NewSQLiteIndex opens or creates the database at path.
// An empty path creates an in-memory index.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.IOError("create index directory", err)
		}
		if validErr := validateSQLite(path); validErr != nil {
			slog.Warn("sqlite_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, errors.IOError(fmt.Sprintf("index corrupted at %s and cannot be removed", path), err)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("sqlite_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.IOError("open database", err)
	}
	// Single connection: one writer, and an in-memory database stays shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.IOError("set pragma", err)
		}
	}

	idx := &SQLiteIndex{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.IOError("initialize schema", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		repository  TEXT NOT NULL,
		path        TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		body        TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		indexed_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS documents_repo_path ON documents(repository, path);

	-- id is stored but not searchable
	CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
		id UNINDEXED,
		title,
		body,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or replaces documents in one transaction.
func (s *SQLiteIndex) Put(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO documents(id, repository, path, title, body, fingerprint, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			fingerprint = excluded.fingerprint,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	defer upsert.Close()

	// FTS5 virtual tables do not support REPLACE, so delete first.
	ftsDelete, err := tx.PrepareContext(ctx, `DELETE FROM documents_fts WHERE id = ?`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	defer ftsDelete.Close()

	ftsInsert, err := tx.PrepareContext(ctx, `INSERT INTO documents_fts(id, title, body) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	defer ftsInsert.Close()

	for _, doc := range docs {
		indexedAt := doc.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now()
		}
		if _, err := upsert.ExecContext(ctx, doc.ID, doc.Repository, doc.Path, doc.Title, doc.Body,
			formatFingerprint(doc.Fingerprint), indexedAt.UnixNano()); err != nil {
			return errors.Wrap(errors.ErrCodeIndexStore, fmt.Errorf("upsert %s: %w", doc.ID, err))
		}
		if _, err := ftsDelete.ExecContext(ctx, doc.ID); err != nil {
			return errors.Wrap(errors.ErrCodeIndexStore, err)
		}
		if _, err := ftsInsert.ExecContext(ctx, doc.ID, doc.Title, doc.Body); err != nil {
			return errors.Wrap(errors.ErrCodeIndexStore, fmt.Errorf("fts insert %s: %w", doc.ID, err))
		}
	}
	return tx.Commit()
}

// Get returns one document.
func (s *SQLiteIndex) Get(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	var doc Document
	var fp string
	var indexedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, repository, path, title, body, fingerprint, indexed_at
		FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.Repository, &doc.Path, &doc.Title, &doc.Body, &fp, &indexedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	doc.Fingerprint = parseFingerprint(fp)
	doc.IndexedAt = time.Unix(0, indexedAt)
	return &doc, nil
}

// Delete removes documents by ID.
func (s *SQLiteIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")
	for _, table := range []string{"documents_fts", "documents"} {
		q := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", table, in)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return errors.Wrap(errors.ErrCodeIndexStore, err)
		}
	}
	return tx.Commit()
}

// DeleteTree removes path and its descendants.
func (s *SQLiteIndex) DeleteTree(ctx context.Context, repository, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	match := `repository = ? AND (path = ? OR substr(path, 1, ?) = ?)`
	prefix := treePrefix(path)
	args := []any{repository, path, len(prefix), prefix}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents_fts WHERE id IN (SELECT id FROM documents WHERE `+match+`)`, args...); err != nil {
		return 0, errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE `+match, args...)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

// IDs returns the document IDs of repository.
func (s *SQLiteIndex) IDs(ctx context.Context, repository string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE repository = ? ORDER BY id`, repository)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(errors.ErrCodeIndexStore, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns the document count.
func (s *SQLiteIndex) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, errClosed
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	return Stats{Backend: string(BackendSQLite), Documents: count, Path: s.path}, nil
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
