package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"plagiscan/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    file_ref    TEXT NOT NULL,
    media_type  TEXT NOT NULL,
    status      TEXT NOT NULL,
    similarity  INTEGER,
    error       TEXT,
    uploaded_at INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS match_results (
    document_id  TEXT PRIMARY KEY REFERENCES documents (id) ON DELETE CASCADE,
    similarity   INTEGER NOT NULL,
    segments     TEXT NOT NULL,
    processed_at INTEGER NOT NULL
);`

// SQLite is an embedded single-file Store for single-node deployments.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (creating if needed) the database at path and applies the schema.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; terminal updates rely on it.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Create(ctx context.Context, job models.Job) (models.Job, error) {
	now := s.now()
	if job.UploadedAt.IsZero() {
		job.UploadedAt = now
	}
	job.Status = models.StatusProcessing
	job.Similarity = nil
	job.Error = nil
	job.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, file_ref, media_type, status, uploaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, job.ID, job.Name, job.FileRef, job.MediaType, job.Status, job.UploadedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return models.Job{}, fmt.Errorf("insert document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Job{}, ErrDuplicateJob
	}
	return job, nil
}

func (s *SQLite) MarkCompleted(ctx context.Context, id string, similarity int, result models.MatchResult) error {
	segments, err := json.Marshal(result.MatchedSegments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET status = ?, similarity = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.StatusCompleted, similarity, s.now().UnixNano(), id, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.conflict(ctx, tx, id)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO match_results (document_id, similarity, segments, processed_at)
		VALUES (?, ?, ?, ?)
	`, id, result.Similarity, string(segments), result.ProcessedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) MarkFailed(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.StatusFailed, reason, s.now().UnixNano(), id, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.conflict(ctx, s.db, id)
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) conflict(ctx context.Context, q rowQuerier, id string) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	return terminalConflict(exists)
}

func (s *SQLite) Get(ctx context.Context, id string) (models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, file_ref, media_type, status, similarity, error, uploaded_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	var job models.Job
	var similarity sql.NullInt64
	var lastErr sql.NullString
	var uploaded, updated int64
	if err := row.Scan(&job.ID, &job.Name, &job.FileRef, &job.MediaType, &job.Status, &similarity, &lastErr, &uploaded, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("scan document: %w", err)
	}
	if similarity.Valid {
		job.Similarity = intPtr(int(similarity.Int64))
	}
	if lastErr.Valid {
		job.Error = strPtr(lastErr.String)
	}
	job.UploadedAt = time.Unix(0, uploaded).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()
	return job, nil
}

func (s *SQLite) GetResult(ctx context.Context, id string) (models.MatchResult, error) {
	var res models.MatchResult
	var segments string
	var processed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, similarity, segments, processed_at FROM match_results WHERE document_id = ?
	`, id).Scan(&res.DocumentID, &res.Similarity, &segments, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MatchResult{}, ErrNotFound
	}
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("scan result: %w", err)
	}
	if err := json.Unmarshal([]byte(segments), &res.MatchedSegments); err != nil {
		return models.MatchResult{}, fmt.Errorf("unmarshal segments: %w", err)
	}
	res.ProcessedAt = time.Unix(0, processed).UTC()
	return res, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
