// Package app assembles the components shared by the api, worker and scan commands.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"plagiscan/internal/blob"
	"plagiscan/internal/config"
	"plagiscan/internal/corpus"
	"plagiscan/internal/extract"
	"plagiscan/internal/models"
	"plagiscan/internal/pipeline"
	"plagiscan/internal/similarity"
	"plagiscan/internal/store"
)

// OpenStore connects the job store selected by STORE_DRIVER and applies its schema.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreSQLite:
		st, err := store.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return st, nil
	case config.StorePostgres:
		st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := st.RunMigrations(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// LoadCorpus returns the corpus file at CORPUS_PATH, or the built-in passages.
func LoadCorpus(cfg config.Config) (corpus.Static, error) {
	if cfg.CorpusPath == "" {
		return corpus.Default(), nil
	}
	c, err := corpus.LoadFile(cfg.CorpusPath)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	return c, nil
}

func NewBlobStore(ctx context.Context, cfg config.Config) (*blob.Store, error) {
	return blob.New(ctx, blob.Config{
		BaseDir:     cfg.UploadDir,
		MaxBytes:    cfg.MaxDocumentBytes,
		S3Bucket:    cfg.S3Bucket,
		S3Region:    cfg.S3Region,
		S3Endpoint:  cfg.S3Endpoint,
		S3PathStyle: cfg.S3PathStyle,
	})
}

// docxExpansion bounds how far a DOCX body may decompress relative to the upload limit.
const docxExpansion = 10

// NewPipeline builds the orchestrator over st with the configured blob
// store, corpus and run timeout.
func NewPipeline(ctx context.Context, cfg config.Config, st store.Store, logger *slog.Logger, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	blobs, err := NewBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	c, err := LoadCorpus(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("corpus loaded", "entries", len(c))

	base := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithTimeout(cfg.ProcessTimeout),
	}
	reg := extract.NewRegistry()
	reg.Register(models.MediaTypeDOCX, extract.DOCX{MaxXMLBytes: docxExpansion * cfg.MaxDocumentBytes})
	return pipeline.New(st, blobs, reg, similarity.New(c), append(base, opts...)...), nil
}
