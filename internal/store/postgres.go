package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"plagiscan/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Postgres wraps pgxpool for Postgres persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "plagiscan"
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, job models.Job) (models.Job, error) {
	now := time.Now().UTC()
	if job.UploadedAt.IsZero() {
		job.UploadedAt = now
	}
	job.Status = models.StatusProcessing
	job.Similarity = nil
	job.Error = nil
	job.UpdatedAt = now

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, name, file_ref, media_type, status, uploaded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, job.ID, job.Name, job.FileRef, job.MediaType, job.Status, job.UploadedAt, job.UpdatedAt)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Job{}, ErrDuplicateJob
	}
	return job, nil
}

func (s *Postgres) MarkCompleted(ctx context.Context, id string, similarity int, result models.MatchResult) error {
	segments, err := json.Marshal(result.MatchedSegments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		UPDATE documents SET status = $2, similarity = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.StatusCompleted, similarity, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflict(ctx, tx, id)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO match_results (document_id, similarity, segments, processed_at)
		VALUES ($1, $2, $3, $4)
	`, id, result.Similarity, segments, result.ProcessedAt); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Postgres) MarkFailed(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET status = $2, error = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.StatusFailed, reason, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflict(ctx, s.pool, id)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Postgres) conflict(ctx context.Context, q querier, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	return terminalConflict(exists)
}

func (s *Postgres) Get(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, file_ref, media_type, status, similarity, error, uploaded_at, updated_at
		FROM documents WHERE id = $1
	`, id)

	var job models.Job
	var similarity pgtype.Int4
	var lastErr pgtype.Text
	if err := row.Scan(&job.ID, &job.Name, &job.FileRef, &job.MediaType, &job.Status, &similarity, &lastErr, &job.UploadedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("scan document: %w", err)
	}
	if similarity.Valid {
		job.Similarity = intPtr(int(similarity.Int32))
	}
	if lastErr.Valid {
		job.Error = strPtr(lastErr.String)
	}
	return job, nil
}

func (s *Postgres) GetResult(ctx context.Context, id string) (models.MatchResult, error) {
	var res models.MatchResult
	var segments []byte
	err := s.pool.QueryRow(ctx, `
		SELECT document_id, similarity, segments, processed_at FROM match_results WHERE document_id = $1
	`, id).Scan(&res.DocumentID, &res.Similarity, &segments, &res.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MatchResult{}, ErrNotFound
	}
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("scan result: %w", err)
	}
	if err := json.Unmarshal(segments, &res.MatchedSegments); err != nil {
		return models.MatchResult{}, fmt.Errorf("unmarshal segments: %w", err)
	}
	return res, nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
