// Package pipeline drives a document from ingestion through extraction and
// matching to exactly one terminal write in the job store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"plagiscan/internal/models"
	"plagiscan/internal/report"
	"plagiscan/internal/similarity"
	"plagiscan/internal/store"
	"plagiscan/internal/telemetry"
)

// recordTimeout bounds the terminal write once the run context has ended.
const recordTimeout = 10 * time.Second

// Fetcher resolves a stored file reference to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Extractor converts a document to plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mediaType string) (string, error)
}

// Matcher scores text against the reference corpus.
type Matcher interface {
	Match(text string) similarity.Result
}

// Dispatcher schedules a detached run for an ingested document.
type Dispatcher interface {
	Submit(ctx context.Context, documentID string) error
}

// IngestRequest describes an uploaded document that is already stored at FileRef.
type IngestRequest struct {
	ID        string
	Name      string
	FileRef   string
	MediaType string
}

// Ack is returned to the caller as soon as the job exists.
type Ack struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// StatusView is the pollable state of a document.
type StatusView struct {
	DocumentID string  `json:"document_id"`
	Status     string  `json:"status"`
	Similarity *int    `json:"similarity,omitempty"`
	Error      *string `json:"error,omitempty"`
}

type Pipeline struct {
	store      store.Store
	fetcher    Fetcher
	extractor  Extractor
	matcher    Matcher
	dispatcher Dispatcher
	log        *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

type Option func(*Pipeline)

func WithDispatcher(d Dispatcher) Option {
	return func(p *Pipeline) { p.dispatcher = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithTimeout bounds each run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

func New(st store.Store, f Fetcher, e Extractor, m Matcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     st,
		fetcher:   f,
		extractor: e,
		matcher:   m,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest creates the job in processing and hands it to the dispatcher. It
// returns before the document is processed. If dispatch fails the job is
// marked failed so it never stays in processing.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (Ack, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := p.store.Create(ctx, models.Job{
		ID:         id,
		Name:       req.Name,
		FileRef:    req.FileRef,
		MediaType:  req.MediaType,
		UploadedAt: p.now(),
	}); err != nil {
		return Ack{}, fmt.Errorf("create document %s: %w", id, err)
	}
	telemetry.IngestCounter.Inc()

	err := errors.New("no dispatcher configured")
	if p.dispatcher != nil {
		err = p.dispatcher.Submit(ctx, id)
	}
	if err != nil {
		p.fail(ctx, id, "dispatch: "+err.Error())
		return Ack{}, fmt.Errorf("dispatch document %s: %w", id, err)
	}

	p.log.Info("document ingested", "document_id", id, "media_type", req.MediaType)
	return Ack{
		DocumentID: id,
		Status:     models.StatusProcessing,
		Message:    "Document uploaded and processing started",
	}, nil
}

// Run processes one document to a terminal state. A job that is already
// terminal is left alone. The returned error reports only failures to load
// or record the job; pipeline faults are recorded on the job itself.
func (p *Pipeline) Run(ctx context.Context, id string) error {
	job, err := p.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load document %s: %w", id, err)
	}
	if job.Terminal() {
		p.log.Debug("document already terminal", "document_id", id, "status", job.Status)
		return nil
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("document.id", id),
			attribute.String("document.media_type", job.MediaType),
		))
	defer span.End()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result, err := p.process(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reason := failureReason(ctx, err)
		p.log.Warn("document failed", "document_id", id, "error", reason)
		return p.fail(ctx, id, reason)
	}
	return p.complete(ctx, id, result)
}

func (p *Pipeline) process(ctx context.Context, job models.Job) (result models.MatchResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
	}()

	if err := ctx.Err(); err != nil {
		return models.MatchResult{}, err
	}
	start := time.Now()
	data, err := p.fetcher.Fetch(ctx, job.FileRef)
	observe("fetch", start)
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("fetch %s: %w", job.FileRef, err)
	}

	if err := ctx.Err(); err != nil {
		return models.MatchResult{}, err
	}
	text, err := p.extract(ctx, data, job.MediaType)
	if err != nil {
		return models.MatchResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return models.MatchResult{}, err
	}
	_, span := telemetry.Tracer().Start(ctx, "pipeline.match")
	start = time.Now()
	res := p.matcher.Match(text)
	observe("match", start)
	span.SetAttributes(
		attribute.Int("match.similarity", res.Similarity),
		attribute.Int("match.segments", len(res.Segments)),
	)
	span.End()

	return models.MatchResult{
		DocumentID:      job.ID,
		Similarity:      res.Similarity,
		MatchedSegments: res.Segments,
		ProcessedAt:     p.now(),
	}, nil
}

func (p *Pipeline) extract(ctx context.Context, data []byte, mediaType string) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.extract")
	defer span.End()
	start := time.Now()
	text, err := p.extractor.Extract(ctx, data, mediaType)
	observe("extract", start)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.Int("extract.chars", len(text)))
	return text, nil
}

func (p *Pipeline) complete(ctx context.Context, id string, result models.MatchResult) error {
	rctx, cancel := recordContext(ctx)
	defer cancel()
	_, span := telemetry.Tracer().Start(rctx, "pipeline.record")
	defer span.End()

	start := time.Now()
	err := p.store.MarkCompleted(rctx, id, result.Similarity, result)
	observe("record", start)
	switch {
	case err == nil:
		telemetry.CompletedCounter.Inc()
		p.log.Info("document completed", "document_id", id, "similarity", result.Similarity, "segments", len(result.MatchedSegments))
		return nil
	case errors.Is(err, store.ErrAlreadyTerminal):
		p.log.Info("document finished elsewhere", "document_id", id)
		return nil
	default:
		span.RecordError(err)
		p.log.Error("record result", "document_id", id, "error", err)
		if ferr := p.fail(ctx, id, "record result: "+err.Error()); ferr != nil {
			return errors.Join(fmt.Errorf("record result for %s: %w", id, err), ferr)
		}
		return nil
	}
}

// fail writes the failed state. Losing the race to another terminal write
// is not an error.
func (p *Pipeline) fail(ctx context.Context, id, reason string) error {
	rctx, cancel := recordContext(ctx)
	defer cancel()
	err := p.store.MarkFailed(rctx, id, reason)
	switch {
	case err == nil:
		telemetry.FailedCounter.Inc()
		return nil
	case errors.Is(err, store.ErrAlreadyTerminal):
		return nil
	default:
		p.log.Error("record failure", "document_id", id, "error", err)
		return fmt.Errorf("mark %s failed: %w", id, err)
	}
}

// Status returns the pollable state of a document.
func (p *Pipeline) Status(ctx context.Context, id string) (StatusView, error) {
	job, err := p.store.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{
		DocumentID: job.ID,
		Status:     job.Status,
		Similarity: job.Similarity,
		Error:      job.Error,
	}, nil
}

func (p *Pipeline) Result(ctx context.Context, id string) (models.MatchResult, error) {
	return p.store.GetResult(ctx, id)
}

// Report composes the job and its result. Not found unless both exist.
func (p *Pipeline) Report(ctx context.Context, id string) (report.Report, error) {
	job, err := p.store.Get(ctx, id)
	if err != nil {
		return report.Report{}, err
	}
	result, err := p.store.GetResult(ctx, id)
	if err != nil {
		return report.Report{}, err
	}
	return report.Build(job, result, p.now()), nil
}

// Delete removes a document and its result.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	return p.store.Delete(ctx, id)
}

// recordContext detaches the terminal write from a cancelled run while
// keeping its trace.
func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

func failureReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "cancelled: " + context.Cause(ctx).Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled: " + err.Error()
	}
	return err.Error()
}

func observe(stage string, start time.Time) {
	telemetry.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
