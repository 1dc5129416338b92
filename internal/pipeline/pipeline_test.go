package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plagiscan/internal/blob"
	"plagiscan/internal/corpus"
	"plagiscan/internal/extract"
	"plagiscan/internal/extract/extracttest"
	"plagiscan/internal/models"
	"plagiscan/internal/similarity"
	"plagiscan/internal/store"
	"plagiscan/internal/worker"
)

const climateSource = "https://example.com/climate-research-paper"

type harness struct {
	store *store.Memory
	blobs *blob.Store
	pipe  *Pipeline
}

// recorder collects dispatched ids without running them.
type recorder struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recorder) Submit(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, id)
	return nil
}

type matcherFunc func(string) similarity.Result

func (f matcherFunc) Match(text string) similarity.Result { return f(text) }

type fetcherFunc func(ctx context.Context, ref string) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, ref string) ([]byte, error) { return f(ctx, ref) }

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	blobs, err := blob.New(context.Background(), blob.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	st := store.NewMemory()
	matcher := similarity.New(corpus.Default())
	return &harness{
		store: st,
		blobs: blobs,
		pipe:  New(st, blobs, extract.NewRegistry(), matcher, opts...),
	}
}

func (h *harness) upload(t *testing.T, key string, body []byte) string {
	t.Helper()
	ref, err := h.blobs.Put(context.Background(), key, body, "")
	require.NoError(t, err)
	return ref
}

func (h *harness) ingestAndRun(t *testing.T, req IngestRequest) models.Job {
	t.Helper()
	ctx := context.Background()
	ack, err := h.pipe.Ingest(ctx, req)
	require.NoError(t, err)
	require.NoError(t, h.pipe.Run(ctx, ack.DocumentID))
	job, err := h.store.Get(ctx, ack.DocumentID)
	require.NoError(t, err)
	return job
}

func TestExactSentenceCompletes(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recorder{}))
	ref := h.upload(t, "essay.docx", extracttest.DOCX(t,
		"The effects of climate change are far-reaching and profound.",
		"This sentence is intentionally unrelated to anything in the corpus and fully original.",
	))

	job := h.ingestAndRun(t, IngestRequest{ID: "doc-b", Name: "essay.docx", FileRef: ref, MediaType: models.MediaTypeDOCX})
	require.Equal(t, models.StatusCompleted, job.Status)
	require.NotNil(t, job.Similarity)
	assert.Equal(t, 100, *job.Similarity)
	assert.Nil(t, job.Error)

	res, err := h.pipe.Result(context.Background(), "doc-b")
	require.NoError(t, err)
	require.Len(t, res.MatchedSegments, 1)
	assert.Equal(t, climateSource, res.MatchedSegments[0].MatchedWith)
	assert.Equal(t, 100, res.MatchedSegments[0].Similarity)
	assert.False(t, res.ProcessedAt.IsZero())

	rep, err := h.pipe.Report(context.Background(), "doc-b")
	require.NoError(t, err)
	assert.Equal(t, "Plagiarism Report for essay.docx", rep.ReportTitle)
	assert.Equal(t, 100, rep.Result.Similarity)
}

func TestUnrelatedTextCompletesWithZero(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recorder{}))
	ref := h.upload(t, "original.docx", extracttest.DOCX(t,
		"This sentence is intentionally unrelated to anything in the corpus and fully original.",
	))

	job := h.ingestAndRun(t, IngestRequest{ID: "doc-a", Name: "original.docx", FileRef: ref, MediaType: models.MediaTypeDOCX})
	require.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 0, *job.Similarity)

	res, err := h.pipe.Result(context.Background(), "doc-a")
	require.NoError(t, err)
	assert.Empty(t, res.MatchedSegments)
}

func TestTextPDFCompletes(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recorder{}))
	ref := h.upload(t, "essay.pdf", extracttest.PDF(t,
		"The effects of climate change are far-reaching and profound.",
	))

	job := h.ingestAndRun(t, IngestRequest{ID: "doc-p", Name: "essay.pdf", FileRef: ref, MediaType: models.MediaTypePDF})
	require.Equal(t, models.StatusCompleted, job.Status, "error: %v", job.Error)
	require.NotNil(t, job.Similarity)
	assert.Equal(t, 100, *job.Similarity)

	res, err := h.pipe.Result(context.Background(), "doc-p")
	require.NoError(t, err)
	require.Len(t, res.MatchedSegments, 1)
	assert.Equal(t, climateSource, res.MatchedSegments[0].MatchedWith)
}

func TestFileRefOutsideStoreFails(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recorder{}))
	outside := filepath.Join(t.TempDir(), "secret.pdf")

	job := h.ingestAndRun(t, IngestRequest{ID: "doc-o", Name: "secret.pdf", FileRef: outside, MediaType: models.MediaTypePDF})
	require.Equal(t, models.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, blob.ErrForbiddenRef.Error())
	assert.NotContains(t, *job.Error, "no such file")
}

func TestCorruptPDFFails(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recorder{}))
	ref := h.upload(t, "broken.pdf", []byte("%PDF-1.7 this is not really a pdf"))

	job := h.ingestAndRun(t, IngestRequest{ID: "doc-c", Name: "broken.pdf", FileRef: ref, MediaType: models.MediaTypePDF})
	require.Equal(t, models.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.NotEmpty(t, *job.Error)
	assert.Nil(t, job.Similarity)

	_, err := h.pipe.Result(context.Background(), "doc-c")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.pipe.Report(context.Background(), "doc-c")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnsupportedMediaTypeFails(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recorder{}))
	ref := h.upload(t, "notes.txt", []byte("plain text"))

	job := h.ingestAndRun(t, IngestRequest{ID: "doc-t", Name: "notes.txt", FileRef: ref, MediaType: "text/plain"})
	require.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, *job.Error, extract.ErrUnsupportedMediaType.Error())
}

func TestMissingFileFails(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recorder{}))
	job := h.ingestAndRun(t, IngestRequest{ID: "doc-m", Name: "gone.pdf", FileRef: "gone.pdf", MediaType: models.MediaTypePDF})
	require.Equal(t, models.StatusFailed, job.Status)
	assert.Contains(t, *job.Error, "fetch gone.pdf")
}

func TestConcurrentDocumentsCompleteIndependently(t *testing.T) {
	pool := worker.NewPool(nil, worker.WithWorkers(2))
	h := newHarness(t, WithDispatcher(pool))
	pool.Start(h.pipe.Run)

	climate := h.upload(t, "one.docx", extracttest.DOCX(t, "The effects of climate change are far-reaching and profound."))
	genome := h.upload(t, "two.docx", extracttest.DOCX(t, "The human genome project was completed in 2003, providing a complete map of all human genes."))

	ctx := context.Background()
	_, err := h.pipe.Ingest(ctx, IngestRequest{ID: "one", Name: "one.docx", FileRef: climate, MediaType: models.MediaTypeDOCX})
	require.NoError(t, err)
	_, err = h.pipe.Ingest(ctx, IngestRequest{ID: "two", Name: "two.docx", FileRef: genome, MediaType: models.MediaTypeDOCX})
	require.NoError(t, err)
	require.NoError(t, pool.Shutdown(ctx))

	for id, source := range map[string]string{
		"one": climateSource,
		"two": "https://example.com/human-genome-research",
	} {
		st, err := h.pipe.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, st.Status, id)

		res, err := h.pipe.Result(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, res.DocumentID)
		require.Len(t, res.MatchedSegments, 1, id)
		assert.Equal(t, source, res.MatchedSegments[0].MatchedWith)
	}
}

func TestIngestGeneratesID(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, WithDispatcher(rec))
	ack, err := h.pipe.Ingest(context.Background(), IngestRequest{Name: "a.pdf", FileRef: "a.pdf", MediaType: models.MediaTypePDF})
	require.NoError(t, err)
	_, err = uuid.Parse(ack.DocumentID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, ack.Status)
	assert.Equal(t, []string{ack.DocumentID}, rec.ids)
}

func TestIngestRejectsDuplicate(t *testing.T) {
	rec := &recorder{}
	h := newHarness(t, WithDispatcher(rec))
	req := IngestRequest{ID: "dup", Name: "a.pdf", FileRef: "a.pdf", MediaType: models.MediaTypePDF}
	_, err := h.pipe.Ingest(context.Background(), req)
	require.NoError(t, err)
	_, err = h.pipe.Ingest(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrDuplicateJob)
	assert.Len(t, rec.ids, 1)
}

func TestDispatchFailureMarksFailed(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recorder{err: errors.New("queue unavailable")}))
	_, err := h.pipe.Ingest(context.Background(), IngestRequest{ID: "d", Name: "a.pdf", FileRef: "a.pdf", MediaType: models.MediaTypePDF})
	require.Error(t, err)

	st, err := h.pipe.Status(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st.Status)
	assert.Equal(t, "dispatch: queue unavailable", *st.Error)
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	st := store.NewMemory()
	fetch := fetcherFunc(func(context.Context, string) ([]byte, error) { return []byte("x"), nil })
	ext := extract.NewRegistry()
	ext.Register("text/plain", extract.ExtractorFunc(func(context.Context, io.ReaderAt, int64) (string, error) {
		return "some text long enough to count as a sentence.", nil
	}))
	boom := matcherFunc(func(string) similarity.Result { panic("index out of range") })
	p := New(st, fetch, ext, boom, WithDispatcher(&recorder{}))

	ctx := context.Background()
	_, err := p.Ingest(ctx, IngestRequest{ID: "p", FileRef: "x", MediaType: "text/plain"})
	require.NoError(t, err)
	require.NoError(t, p.Run(ctx, "p"))

	view, err := p.Status(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, view.Status)
	assert.Contains(t, *view.Error, "pipeline panic: index out of range")
}

func TestTimeoutIsRecordedAsCancelled(t *testing.T) {
	st := store.NewMemory()
	slow := fetcherFunc(func(ctx context.Context, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := New(st, slow, extract.NewRegistry(), similarity.New(corpus.Default()),
		WithDispatcher(&recorder{}), WithTimeout(10*time.Millisecond))

	ctx := context.Background()
	_, err := p.Ingest(ctx, IngestRequest{ID: "slow", FileRef: "x", MediaType: models.MediaTypePDF})
	require.NoError(t, err)
	require.NoError(t, p.Run(ctx, "slow"))

	view, err := p.Status(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, view.Status)
	assert.Equal(t, "cancelled: context deadline exceeded", *view.Error)
}

func TestRunIsExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	st := store.NewMemory()
	fetch := fetcherFunc(func(context.Context, string) ([]byte, error) { return []byte("x"), nil })
	ext := extract.NewRegistry()
	ext.Register("text/plain", extract.ExtractorFunc(func(context.Context, io.ReaderAt, int64) (string, error) {
		return "The effects of climate change are far-reaching and profound.", nil
	}))
	m := similarity.New(corpus.Default())
	counting := matcherFunc(func(text string) similarity.Result {
		calls.Add(1)
		return m.Match(text)
	})
	p := New(st, fetch, ext, counting, WithDispatcher(&recorder{}))

	ctx := context.Background()
	_, err := p.Ingest(ctx, IngestRequest{ID: "once", FileRef: "x", MediaType: "text/plain"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Run(ctx, "once"))
		}()
	}
	wg.Wait()
	require.NoError(t, p.Run(ctx, "once"))

	view, err := p.Status(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, view.Status)
	assert.Equal(t, 100, *view.Similarity)
	assert.LessOrEqual(t, calls.Load(), int32(8))
}

func TestRunUnknownDocument(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.pipe.Run(context.Background(), "missing"), store.ErrNotFound)
	_, err := h.pipe.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesDocument(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recorder{}))
	ref := h.upload(t, "d.docx", extracttest.DOCX(t, "The effects of climate change are far-reaching and profound."))
	h.ingestAndRun(t, IngestRequest{ID: "del", Name: "d.docx", FileRef: ref, MediaType: models.MediaTypeDOCX})

	ctx := context.Background()
	require.NoError(t, h.pipe.Delete(ctx, "del"))
	_, err := h.pipe.Result(ctx, "del")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, h.pipe.Delete(ctx, "del"), store.ErrNotFound)
}
