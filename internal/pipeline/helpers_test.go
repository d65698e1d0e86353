package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/monitoring"
	"github.com/sells-group/signmatch/internal/ocr"
	"github.com/sells-group/signmatch/internal/storage"
	"github.com/sells-group/signmatch/internal/store"
)

const testWorkspace = "ws-1"

type stubExtractor struct {
	mu    sync.Mutex
	ex    model.Extraction
	err   error
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, _ ocr.Input) (model.Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.ex, s.err
}

func (s *stubExtractor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeLabels struct {
	removeErr error
	applyErr  error
	removed   []string
	applied   []string
}

func (f *fakeLabels) RemoveLabel(_ context.Context, messageID, labelID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, messageID+"/"+labelID)
	return nil
}

func (f *fakeLabels) ApplyLabel(_ context.Context, messageID, labelID string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, messageID+"/"+labelID)
	return nil
}

type failingUploader struct{ err error }

func (f failingUploader) Upload(context.Context, []byte, string) (storage.Upload, error) {
	return storage.Upload{}, f.err
}

type harness struct {
	pipeline  *Pipeline
	store     *store.SQLiteStore
	extractor *stubExtractor
	labels    *fakeLabels
	metrics   *monitoring.Metrics
}

type harnessOption func(*Deps, *Options)

func withUploader(u storage.Uploader) harnessOption {
	return func(d *Deps, _ *Options) { d.Uploader = u }
}

func withOptions(fn func(*Options)) harnessOption {
	return func(_ *Deps, o *Options) { fn(o) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "signmatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	uploader, err := storage.NewLocalStorage(t.TempDir(), "https://files.example.com")
	require.NoError(t, err)

	metrics, err := monitoring.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	h := &harness{store: st, extractor: &stubExtractor{}, labels: &fakeLabels{}, metrics: metrics}
	deps := Deps{
		Extractor:  h.extractor,
		WorkOrders: st,
		Reviews:    st,
		Uploader:   uploader,
		DLQ:        st,
		Labels:     h.labels,
		Metrics:    metrics,
	}
	options := DefaultOptions()
	for _, o := range opts {
		o(&deps, &options)
	}

	h.pipeline, err = New(deps, options)
	require.NoError(t, err)
	return h
}

func (h *harness) seed(t *testing.T, orders ...model.WorkOrder) {
	t.Helper()
	for i := range orders {
		if orders[i].WorkspaceID == "" {
			orders[i].WorkspaceID = testWorkspace
		}
	}
	_, err := h.store.UpsertWorkOrders(context.Background(), orders)
	require.NoError(t, err)
}

func (h *harness) reviewItems(t *testing.T) []model.ReviewItem {
	t.Helper()
	items, err := h.store.ListReviewItems(context.Background(), store.ReviewFilter{WorkspaceID: testWorkspace})
	require.NoError(t, err)
	return items
}

func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(h.metrics.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func document(content, fmKey string) model.Document {
	return model.Document{
		WorkspaceID: testWorkspace,
		Filename:    "signed.pdf",
		Content:     []byte("%PDF-1.7\n" + content),
		FmKey:       fmKey,
	}
}

func strPtr(s string) *string { return &s }

var errBoom = errors.New("boom")

func (f extractorFunc) Extract(ctx context.Context, _ ocr.Input) (model.Extraction, error) {
	return f(ctx)
}

// sectionLog records when documents enter match lookup and when their
// disposition record is written.
type sectionLog struct {
	mu     sync.Mutex
	events []string
}

func (l *sectionLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *sectionLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type trackedWorkOrders struct {
	WorkOrders
	log *sectionLog
}

func (t trackedWorkOrders) ListOpen(ctx context.Context, workspaceID string, fmKey *string) ([]model.WorkOrder, error) {
	t.log.add("lookup")
	// Leave room for a concurrent document to reach its own lookup.
	time.Sleep(20 * time.Millisecond)
	return t.WorkOrders.ListOpen(ctx, workspaceID, fmKey)
}

func (t trackedWorkOrders) MarkSigned(ctx context.Context, id string, upd model.SignedUpdate) error {
	err := t.WorkOrders.MarkSigned(ctx, id, upd)
	t.log.add("applied")
	return err
}

type trackedReviews struct {
	Reviews
	log *sectionLog
}

func (t trackedReviews) InsertReviewItem(ctx context.Context, item *model.ReviewItem) (bool, error) {
	created, err := t.Reviews.InsertReviewItem(ctx, item)
	t.log.add("applied")
	return created, err
}

func withSectionLog(l *sectionLog) harnessOption {
	return func(d *Deps, _ *Options) {
		d.WorkOrders = trackedWorkOrders{WorkOrders: d.WorkOrders, log: l}
		d.Reviews = trackedReviews{Reviews: d.Reviews, log: l}
	}
}

// staleOpenList serves a fixed open list, like a cache that has not seen
// a later status change.
type staleOpenList struct {
	WorkOrders
	orders []model.WorkOrder
}

func (s staleOpenList) ListOpen(context.Context, string, *string) ([]model.WorkOrder, error) {
	return s.orders, nil
}

// cancelAfterList cancels the request once the open work orders are read.
type cancelAfterList struct {
	WorkOrders
	cancel context.CancelFunc
}

func (c cancelAfterList) ListOpen(ctx context.Context, workspaceID string, fmKey *string) ([]model.WorkOrder, error) {
	orders, err := c.WorkOrders.ListOpen(ctx, workspaceID, fmKey)
	c.cancel()
	return orders, err
}
