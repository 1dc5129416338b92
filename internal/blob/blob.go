// Package blob resolves stored document references into their bytes.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// DefaultMaxBytes is the largest document the pipeline accepts.
const DefaultMaxBytes int64 = 10 * 1024 * 1024

// ErrTooLarge is returned when a stored document exceeds the size limit.
var ErrTooLarge = errors.New("document too large")

// ErrForbiddenRef is returned for references that resolve outside the local
// base directory or name a bucket other than the configured one.
var ErrForbiddenRef = errors.New("document reference outside the document store")

// Config selects and tunes the storage backends.
type Config struct {
	BaseDir     string
	MaxBytes    int64
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

type backend interface {
	open(ctx context.Context, ref string) (io.ReadCloser, error)
	put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Store fetches documents by reference. References are local paths
// (optionally prefixed with file://) or s3://bucket/key URLs.
type Store struct {
	local    backend
	s3       backend
	maxBytes int64
}

// New builds a Store. The S3 backend is only configured when a bucket is set.
func New(ctx context.Context, cfg Config) (*Store, error) {
	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = "./uploads"
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	st := &Store{local: &localBackend{baseDir: baseDir}, maxBytes: maxBytes}
	if cfg.S3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st.s3 = &s3Backend{client: client, bucket: cfg.S3Bucket}
	}
	return st, nil
}

// Fetch reads the whole document behind ref, refusing anything over the size limit.
func (s *Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	b, err := s.pick(ref)
	if err != nil {
		return nil, err
	}
	rc, err := b.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("%w (>%d bytes)", ErrTooLarge, s.maxBytes)
	}
	return body, nil
}

// Put stores body under key on the default backend (S3 when configured) and
// returns the reference to pass to Fetch.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if int64(len(body)) > s.maxBytes {
		return "", fmt.Errorf("%w (>%d bytes)", ErrTooLarge, s.maxBytes)
	}
	b := s.local
	if s.s3 != nil {
		b = s.s3
	}
	return b.put(ctx, sanitizeKey(key), body, contentType)
}

func (s *Store) pick(ref string) (backend, error) {
	if strings.HasPrefix(ref, "s3://") {
		if s.s3 == nil {
			return nil, errors.New("s3 reference requested but S3_BUCKET is not configured")
		}
		return s.s3, nil
	}
	return s.local, nil
}
