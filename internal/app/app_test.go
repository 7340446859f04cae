package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/notely/internal/config"
	"github.com/dharsanguruparan/notely/internal/logger"
	"github.com/dharsanguruparan/notely/internal/model"
	"github.com/dharsanguruparan/notely/internal/notify"
	"github.com/dharsanguruparan/notely/internal/queue"
	"github.com/dharsanguruparan/notely/internal/tracker"
	"github.com/dharsanguruparan/notely/internal/upload"
)

type backend struct {
	mu            sync.Mutex
	reports       []model.ProgressReport
	progressCalls int32
	notesCalls    int32
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/video/submit_job/":
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-42"})
	case r.URL.Path == "/document/upload/":
		json.NewEncoder(w).Encode(map[string]string{"document_id": "doc-7"})
	case strings.Contains(r.URL.Path, "/progress/"):
		atomic.AddInt32(&b.progressCalls, 1)
		b.mu.Lock()
		defer b.mu.Unlock()
		if len(b.reports) == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rep := b.reports[0]
		if len(b.reports) > 1 {
			b.reports = b.reports[1:]
		}
		json.NewEncoder(w).Encode(rep)
	case r.URL.Path == "/notes/":
		atomic.AddInt32(&b.notesCalls, 1)
		json.NewEncoder(w).Encode([]model.ResultRecord{{ID: "note-1", Title: "Notes: lecture", SourceKind: model.SourceVideo}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// failProgress fails every progress request at the transport level and
// forwards everything else.
type failProgress struct {
	next  http.RoundTripper
	calls int32
}

func (f *failProgress) RoundTrip(r *http.Request) (*http.Response, error) {
	if strings.Contains(r.URL.Path, "/progress/") {
		atomic.AddInt32(&f.calls, 1)
		return nil, errors.New("connection refused")
	}
	return f.next.RoundTrip(r)
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t"}, nil
}

type harness struct {
	app      *App
	sched    *tracker.ManualScheduler
	rec      *notify.Recorder
	backend  *backend
	enqueuer *fakeEnqueuer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	b := &backend{}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		APIURL:             srv.URL,
		HTTPTimeout:        5 * time.Second,
		PollInterval:       2 * time.Second,
		MaxPollFailures:    3,
		MaxVideoBytes:      1 << 20,
		MaxDocumentBytes:   1 << 20,
		ScreenshotInterval: 5,
		DashboardTTL:       time.Minute,
	}
	h := &harness{
		sched:    tracker.NewManualScheduler(),
		rec:      &notify.Recorder{},
		backend:  b,
		enqueuer: &fakeEnqueuer{},
	}
	all := append([]Option{
		WithScheduler(h.sched),
		WithSinks(h.rec),
		WithEnqueuer(h.enqueuer),
	}, opts...)
	a, err := New(context.Background(), cfg, logger.Discard(), all...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	h.app = a
	return h
}

func recordTransitions(p *tracker.Poller) func() []tracker.Event {
	var (
		mu     sync.Mutex
		events []tracker.Event
	)
	p.Subscribe(func(ev tracker.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	return func() []tracker.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]tracker.Event(nil), events...)
	}
}

func TestVideoURLRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	h.backend.reports = []model.ProgressReport{
		{Progress: 10, Stage: "transcribing"},
		{Progress: 55, Stage: "embedding"},
		{Progress: 100, Stage: model.StageCompleted},
	}
	events := recordTransitions(h.app.Poller)

	unit, err := h.app.Uploads.SubmitVideo(context.Background(), upload.VideoInput{URL: "https://youtu.be/lecture"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if unit.ID != "job-42" || unit.State != model.StatePending {
		t.Fatalf("unexpected unit %+v", unit)
	}

	if n := h.sched.FireAll(10); n != 3 {
		t.Fatalf("fired %d ticks, want 3", n)
	}
	if got := atomic.LoadInt32(&h.backend.progressCalls); got != 3 {
		t.Fatalf("progress calls = %d, want 3", got)
	}
	if h.sched.Pending() != 0 {
		t.Fatalf("timers still pending after completion")
	}

	var progress []int
	for _, ev := range events() {
		if ev.To != model.StatePending {
			progress = append(progress, ev.Status.Progress)
		}
	}
	want := []int{10, 55, 100}
	if len(progress) != 3 || progress[0] != want[0] || progress[1] != want[1] || progress[2] != want[2] {
		t.Fatalf("observed progress %v, want %v", progress, want)
	}

	st, err := h.app.Poller.Wait(context.Background(), "job-42")
	if err != nil || st.State != model.StateCompleted {
		t.Fatalf("wait = %+v, %v", st, err)
	}
	if got := atomic.LoadInt32(&h.backend.notesCalls); got != 1 {
		t.Fatalf("notes refreshed %d times, want 1", got)
	}
	if recs := h.app.Catalog.Records(); len(recs) != 1 || recs[0].ID != "note-1" {
		t.Fatalf("catalog = %+v", recs)
	}
	if len(h.enqueuer.tasks) != 1 || h.enqueuer.tasks[0].Type() != queue.UnitCompletedTask {
		t.Fatalf("enqueued %d tasks", len(h.enqueuer.tasks))
	}
	if errs := h.rec.Errors(); len(errs) != 0 {
		t.Fatalf("unexpected error notifications %v", errs)
	}
}

func TestDocumentUnreachableProgressFails(t *testing.T) {
	rt := &failProgress{next: http.DefaultTransport}
	h := newHarness(t, WithHTTPClient(&http.Client{Transport: rt, Timeout: 5 * time.Second}))

	path := filepath.Join(t.TempDir(), "paper.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n%%EOF\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := h.app.Uploads.SubmitDocument(context.Background(), upload.DocumentInput{FilePath: path}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	h.sched.FireAll(10)
	if got := atomic.LoadInt32(&rt.calls); got != 3 {
		t.Fatalf("progress attempts = %d, want 3", got)
	}
	if h.sched.Pending() != 0 {
		t.Fatalf("timers still pending after failure")
	}

	st, err := h.app.Poller.Wait(context.Background(), "doc-7")
	var tf *tracker.TerminalFailure
	if !errors.As(err, &tf) || st.State != model.StateFailed {
		t.Fatalf("wait = %+v, %v", st, err)
	}
	if !strings.Contains(st.Message, "gave up after 3 failed progress checks") {
		t.Fatalf("message = %q", st.Message)
	}
	errs := h.rec.Errors()
	if len(errs) != 1 || errs[0].Action != "process document doc-7" {
		t.Fatalf("error notifications = %v", errs)
	}
	if got := atomic.LoadInt32(&h.backend.notesCalls); got != 0 {
		t.Fatalf("notes refreshed after failure")
	}
}

func TestStopBeforeFirstPoll(t *testing.T) {
	h := newHarness(t)
	events := recordTransitions(h.app.Poller)

	if _, err := h.app.Uploads.SubmitVideo(context.Background(), upload.VideoInput{URL: "https://youtu.be/lecture"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.app.Poller.Stop("job-42")

	if h.sched.FireAll(10) != 0 || h.sched.Pending() != 0 {
		t.Fatalf("stopped unit still has timers")
	}
	if got := atomic.LoadInt32(&h.backend.progressCalls); got != 0 {
		t.Fatalf("progress calls = %d after stop", got)
	}
	if evs := events(); len(evs) != 1 || evs[0].To != model.StatePending {
		t.Fatalf("expected only the pending transition, got %+v", evs)
	}
	st, ok := h.app.Poller.Status("job-42")
	if !ok || st.State != model.StatePending {
		t.Fatalf("status = %+v, %v", st, ok)
	}
	if errs := h.app.WaitAll(context.Background(), "job-42"); !errors.Is(errs["job-42"], tracker.ErrStopped) {
		t.Fatalf("wait = %v", errs)
	}
}

func TestWatchRejectsUnknownKind(t *testing.T) {
	h := newHarness(t)
	err := h.app.Watch(context.Background(), model.SourceKind("audio"), "x")
	if err == nil || !notify.Reported(err) {
		t.Fatalf("expected reported error, got %v", err)
	}
	if len(h.rec.Errors()) != 1 {
		t.Fatalf("error not published")
	}
}
