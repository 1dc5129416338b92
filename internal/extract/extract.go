// Package extract converts stored binary documents into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"plagiscan/internal/models"
)

// ErrUnsupportedMediaType is wrapped in an ExtractionError when no extractor
// is registered for the declared media type.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// ErrContentTooLarge is wrapped in an ExtractionError when a document
// expands past its extractor's limit.
var ErrContentTooLarge = errors.New("document content too large")

// ExtractionError reports a document that could not be read: corrupt,
// password-protected, or of an unsupported type.
type ExtractionError struct {
	MediaType string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.MediaType, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extractor reads one document format.
type Extractor interface {
	Extract(ctx context.Context, r io.ReaderAt, size int64) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, r io.ReaderAt, size int64) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	return f(ctx, r, size)
}

// Registry dispatches extraction by media type.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry returns a registry with the PDF and DOCX extractors installed.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register(models.MediaTypePDF, PDF{})
	r.Register(models.MediaTypeDOCX, DOCX{})
	return r
}

// Register binds an extractor to a media type, replacing any previous one.
func (r *Registry) Register(mediaType string, e Extractor) {
	if mediaType == "" || e == nil {
		return
	}
	r.extractors[mediaType] = e
}

// Supports reports whether an extractor is registered for mediaType.
func (r *Registry) Supports(mediaType string) bool {
	_, ok := r.extractors[mediaType]
	return ok
}

// Extract returns the plain text of data. Every failure, including a panic
// inside a format parser, comes back as an *ExtractionError.
func (r *Registry) Extract(ctx context.Context, data []byte, mediaType string) (text string, err error) {
	e, ok := r.extractors[mediaType]
	if !ok {
		return "", &ExtractionError{MediaType: mediaType, Err: ErrUnsupportedMediaType}
	}

	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", &ExtractionError{MediaType: mediaType, Err: fmt.Errorf("parser panic: %v", rec)}
		}
	}()

	text, err = e.Extract(ctx, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		var xerr *ExtractionError
		if errors.As(err, &xerr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &ExtractionError{MediaType: mediaType, Err: err}
	}
	return text, nil
}
