package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"plagiscan/internal/blob"
	"plagiscan/internal/corpus"
	"plagiscan/internal/extract"
	"plagiscan/internal/models"
	"plagiscan/internal/report"
	"plagiscan/internal/similarity"
)

type scanOptions struct {
	mediaType string
	corpus    string
	maxBytes  int64
	jsonOut   bool
	xlsxOut   string
}

func newRootCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "plagiscan-scan <file>",
		Short: "Score a PDF or DOCX document against the reference corpus",
		Long:  "Extracts the text of a local PDF or DOCX file, matches each sentence against the reference corpus and prints the matched segments with the aggregate similarity.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&opts.mediaType, "media-type", "", "Document media type (detected from the extension when empty)")
	cmd.Flags().StringVar(&opts.corpus, "corpus", os.Getenv("CORPUS_PATH"), "JSON corpus file (built-in passages when empty)")
	cmd.Flags().Int64Var(&opts.maxBytes, "max-bytes", blob.DefaultMaxBytes, "Refuse documents larger than this")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the full report as JSON")
	cmd.Flags().StringVar(&opts.xlsxOut, "xlsx", "", "Also write the report workbook to this path")
	return cmd
}

func runScan(ctx context.Context, out io.Writer, path string, opts *scanOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mediaType := opts.mediaType
	if mediaType == "" {
		mediaType = mediaTypeFor(path)
	}
	if !models.IsSupportedMediaType(mediaType) {
		return fmt.Errorf("unsupported media type %q for %s", mediaType, path)
	}

	src := corpus.Default()
	if opts.corpus != "" {
		var err error
		if src, err = corpus.LoadFile(opts.corpus); err != nil {
			return err
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	blobs, err := blob.New(ctx, blob.Config{BaseDir: filepath.Dir(abs), MaxBytes: opts.maxBytes})
	if err != nil {
		return err
	}
	data, err := blobs.Fetch(ctx, abs)
	if err != nil {
		return err
	}
	text, err := extract.NewRegistry().Extract(ctx, data, mediaType)
	if err != nil {
		return err
	}
	res := similarity.New(src).Match(text)

	now := time.Now().UTC()
	name := filepath.Base(path)
	rep := report.Build(
		models.Job{ID: name, Name: name, FileRef: path, MediaType: mediaType, Status: models.StatusCompleted, UploadedAt: now},
		models.MatchResult{DocumentID: name, Similarity: res.Similarity, MatchedSegments: res.Segments, ProcessedAt: now},
		now,
	)

	if opts.xlsxOut != "" {
		wb, err := rep.XLSX()
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.xlsxOut, wb, 0o644); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
	}

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(out, "%s\nSimilarity: %d%%\n", rep.ReportTitle, res.Similarity)
	for i, seg := range res.Segments {
		fmt.Fprintf(out, "%3d. [%d%%] %s\n     -> %s\n", i+1, seg.Similarity, seg.Text, seg.MatchedWith)
	}
	return nil
}

func mediaTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return models.MediaTypePDF
	case ".docx":
		return models.MediaTypeDOCX
	default:
		return ""
	}
}
