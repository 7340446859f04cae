package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dharsanguruparan/notely/internal/gateway"
	"github.com/dharsanguruparan/notely/internal/logger"
	"github.com/dharsanguruparan/notely/internal/model"
)

type result struct {
	report model.ProgressReport
	err    error
}

// scriptedSource answers progress requests from a fixed script and repeats
// the last entry once the script runs out.
type scriptedSource struct {
	mu      sync.Mutex
	script  []result
	calls   int
	lastCtx context.Context
}

func (s *scriptedSource) Progress(ctx context.Context, kind model.SourceKind, id string) (model.ProgressReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCtx = ctx
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	return s.script[i].report, s.script[i].err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []model.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.State, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.To
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestPoller(src ProgressSource) (*Poller, *ManualScheduler, *recorder) {
	sched := NewManualScheduler()
	p := NewPoller(src, Options{Scheduler: sched, Logger: logger.Discard()})
	rec := &recorder{}
	p.Subscribe(rec.observe)
	return p, sched, rec
}

func videoUnit(id string) model.UnitOfWork {
	return model.UnitOfWork{ID: id, SourceKind: model.SourceVideo, SourceName: "lecture.mp4"}
}

func equalStates(a, b []model.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPollerRunsUntilCompleted(t *testing.T) {
	src := &scriptedSource{script: []result{
		{report: model.ProgressReport{Progress: 10, Stage: "uploading"}},
		{report: model.ProgressReport{Progress: 55, Stage: "embedding"}},
		{report: model.ProgressReport{Progress: 100, Stage: "completed"}},
	}}
	p, sched, rec := newTestPoller(src)

	if err := p.Start(context.Background(), videoUnit("job-1"), 2*time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	if src.Calls() != 0 {
		t.Fatalf("first poll must wait one interval")
	}
	if n := sched.FireAll(10); n != 3 {
		t.Fatalf("fired %d ticks, want 3", n)
	}
	if src.Calls() != 3 {
		t.Fatalf("calls = %d, want 3", src.Calls())
	}
	if sched.Pending() != 0 || p.Active("job-1") {
		t.Fatalf("no polling may remain after completion")
	}
	want := []model.State{model.StatePending, model.StatePolling, model.StatePolling, model.StateCompleted}
	if got := rec.states(); !equalStates(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	st, err := p.Wait(context.Background(), "job-1")
	if err != nil || st.Progress != 100 {
		t.Fatalf("wait = %+v, %v", st, err)
	}
}

func TestPollerFailsAfterConsecutiveTransientErrors(t *testing.T) {
	netErr := &gateway.NetworkError{Op: "progress", Err: errors.New("connection refused")}
	src := &scriptedSource{script: []result{
		{report: model.ProgressReport{Progress: 30, Stage: "transcribing", Message: "chunk 3 of 10"}},
		{err: netErr},
	}}
	p, sched, rec := newTestPoller(src)
	p.Start(context.Background(), videoUnit("job-2"), time.Second)

	sched.FireAll(10)
	if src.Calls() != 4 {
		t.Fatalf("calls = %d, want 1 success and 3 failures", src.Calls())
	}
	ev := rec.last()
	if ev.To != model.StateFailed {
		t.Fatalf("final state = %s", ev.To)
	}
	var tf *TerminalFailure
	if !errors.As(ev.Err, &tf) || !errors.Is(ev.Err, gateway.ErrNetwork) {
		t.Fatalf("expected terminal failure wrapping network error, got %v", ev.Err)
	}
	if !strings.Contains(ev.Status.Message, "3 failed progress checks") || !strings.Contains(ev.Status.Message, "transcribing") ||
		!strings.Contains(ev.Status.Message, "chunk 3 of 10") {
		t.Fatalf("unexpected failure message %q", ev.Status.Message)
	}
	if ev.Status.Progress != 30 {
		t.Fatalf("progress should be kept, got %d", ev.Status.Progress)
	}
	if sched.Pending() != 0 {
		t.Fatalf("timer left after failure")
	}
}

func TestPollerSuccessResetsFailureCount(t *testing.T) {
	srvErr := &gateway.ServerError{Op: "progress", Code: 503}
	src := &scriptedSource{script: []result{
		{err: srvErr},
		{err: srvErr},
		{report: model.ProgressReport{Progress: 40, Stage: "embedding"}},
		{err: srvErr},
		{err: srvErr},
		{report: model.ProgressReport{Progress: 100}},
	}}
	p, sched, _ := newTestPoller(src)
	p.Start(context.Background(), videoUnit("job-3"), time.Second)
	sched.FireAll(10)

	st, _ := p.Status("job-3")
	if st.State != model.StateCompleted {
		t.Fatalf("state = %s, want completed", st.State)
	}
}

func TestPollerNotFoundFailsImmediately(t *testing.T) {
	src := &scriptedSource{script: []result{
		{err: &gateway.NotFoundError{Op: "progress", Path: "/video/progress/gone"}},
	}}
	p, sched, rec := newTestPoller(src)
	p.Start(context.Background(), videoUnit("gone"), time.Second)
	sched.FireAll(10)

	if src.Calls() != 1 {
		t.Fatalf("not found must not be retried, calls = %d", src.Calls())
	}
	if ev := rec.last(); ev.To != model.StateFailed || !errors.Is(ev.Err, gateway.ErrNotFound) {
		t.Fatalf("unexpected final event %+v", ev)
	}
}

func TestPollerErrorStageFails(t *testing.T) {
	src := &scriptedSource{script: []result{
		{report: model.ProgressReport{Progress: 20, Stage: "error", Message: "unsupported codec"}},
	}}
	p, sched, _ := newTestPoller(src)
	p.Start(context.Background(), videoUnit("job-4"), time.Second)
	sched.FireAll(10)

	_, err := p.Wait(context.Background(), "job-4")
	var tf *TerminalFailure
	if !errors.As(err, &tf) || tf.Message != "unsupported codec" {
		t.Fatalf("wait error = %v", err)
	}
}

func TestPollerStopWhilePending(t *testing.T) {
	src := &scriptedSource{script: []result{{report: model.ProgressReport{Progress: 50}}}}
	p, sched, rec := newTestPoller(src)
	p.Start(context.Background(), videoUnit("job-5"), time.Second)

	p.Stop("job-5")
	p.Stop("job-5")

	if sched.Pending() != 0 {
		t.Fatalf("timer should be cleared on stop")
	}
	if sched.FireAll(10) != 0 || src.Calls() != 0 {
		t.Fatalf("no request may be sent after stop")
	}
	if got := rec.states(); !equalStates(got, []model.State{model.StatePending}) {
		t.Fatalf("states = %v, want only pending", got)
	}
	if _, err := p.Wait(context.Background(), "job-5"); !errors.Is(err, ErrStopped) {
		t.Fatalf("wait = %v, want ErrStopped", err)
	}
}

func TestPollerStopsWhenStartContextIsCancelled(t *testing.T) {
	src := &scriptedSource{script: []result{{report: model.ProgressReport{Progress: 50}}}}
	p, sched, rec := newTestPoller(src)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx, videoUnit("job-10"), time.Second)

	cancel()
	sched.FireAll(10)

	if src.Calls() != 0 {
		t.Fatalf("calls = %d after cancellation, want 0", src.Calls())
	}
	if p.Active("job-10") || sched.Pending() != 0 {
		t.Fatalf("subscription should be released")
	}
	st, err := p.Wait(context.Background(), "job-10")
	if !errors.Is(err, ErrStopped) || st.State != model.StatePending {
		t.Fatalf("wait = %+v, %v; want pending and ErrStopped", st, err)
	}
	if got := rec.states(); !equalStates(got, []model.State{model.StatePending}) {
		t.Fatalf("states = %v, want only pending", got)
	}
}

func TestPollerCancelledRequestIsNotCountedAsFailure(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan result)}
	p, sched, rec := newTestPoller(src)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx, videoUnit("job-11"), time.Second)

	done := make(chan struct{})
	go func() {
		sched.FireNext()
		close(done)
	}()
	<-src.started
	cancel()
	src.release <- result{err: &gateway.NetworkError{Op: "progress", Err: context.Canceled}}
	<-done

	if st, _ := p.Status("job-11"); st.State != model.StatePending {
		t.Fatalf("state = %s, want pending", st.State)
	}
	if sched.FireAll(10) != 0 || len(rec.states()) != 1 {
		t.Fatalf("unexpected ticks or events %v", rec.states())
	}
	if _, err := p.Wait(context.Background(), "job-11"); !errors.Is(err, ErrStopped) {
		t.Fatalf("wait = %v, want ErrStopped", err)
	}
}

// blockingSource holds every request until released.
type blockingSource struct {
	started chan struct{}
	release chan result
}

func (b *blockingSource) Progress(ctx context.Context, kind model.SourceKind, id string) (model.ProgressReport, error) {
	b.started <- struct{}{}
	r := <-b.release
	return r.report, r.err
}

func TestPollerDiscardsResponseAfterStop(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan result)}
	p, sched, rec := newTestPoller(src)
	p.Start(context.Background(), videoUnit("job-6"), time.Second)

	done := make(chan struct{})
	go func() {
		sched.FireNext()
		close(done)
	}()
	<-src.started
	p.Stop("job-6")
	src.release <- result{report: model.ProgressReport{Progress: 100}}
	<-done

	st, _ := p.Status("job-6")
	if st.State != model.StatePending {
		t.Fatalf("late response was applied: %+v", st)
	}
	if len(rec.states()) != 1 || sched.Pending() != 0 {
		t.Fatalf("unexpected events %v or pending timers", rec.states())
	}
}

func TestPollerRestartReplacesSubscription(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan result)}
	p, sched, _ := newTestPoller(src)
	p.Start(context.Background(), videoUnit("job-7"), time.Second)

	done := make(chan struct{})
	go func() {
		sched.FireNext()
		close(done)
	}()
	<-src.started

	p.Start(context.Background(), videoUnit("job-7"), time.Second)
	src.release <- result{report: model.ProgressReport{Progress: 100}}
	<-done

	st, _ := p.Status("job-7")
	if st.State != model.StatePending {
		t.Fatalf("response of the replaced subscription leaked: %+v", st)
	}
	if !p.Active("job-7") || sched.Pending() != 1 {
		t.Fatalf("new subscription should have exactly one armed tick, pending = %d", sched.Pending())
	}
	p.StopAll()
	if p.Active("job-7") || sched.Pending() != 0 {
		t.Fatalf("StopAll left work behind")
	}
}

func TestPollerCancelsRequestContextOnStop(t *testing.T) {
	src := &scriptedSource{script: []result{{report: model.ProgressReport{Progress: 5}}}}
	p, sched, _ := newTestPoller(src)
	p.Start(context.Background(), videoUnit("job-8"), time.Second)
	sched.FireNext()

	p.Stop("job-8")
	src.mu.Lock()
	ctx := src.lastCtx
	src.mu.Unlock()
	if ctx.Err() == nil {
		t.Fatalf("request context should be cancelled after stop")
	}
}

func TestPollerStartValidates(t *testing.T) {
	p, _, _ := newTestPoller(&scriptedSource{})
	cases := []struct {
		name     string
		unit     model.UnitOfWork
		interval time.Duration
	}{
		{"empty id", model.UnitOfWork{SourceKind: model.SourceVideo}, time.Second},
		{"zero interval", videoUnit("x"), 0},
		{"bad kind", model.UnitOfWork{ID: "x", SourceKind: "audio"}, time.Second},
	}
	for _, tc := range cases {
		if err := p.Start(context.Background(), tc.unit, tc.interval); !errors.Is(err, gateway.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestPollerWaitUnknownUnit(t *testing.T) {
	p, _, _ := newTestPoller(&scriptedSource{})
	if _, err := p.Wait(context.Background(), "nope"); !errors.Is(err, ErrUnknownUnit) {
		t.Fatalf("wait = %v", err)
	}
}

func TestPollerWithRealScheduler(t *testing.T) {
	src := &scriptedSource{script: []result{
		{report: model.ProgressReport{Progress: 50, Stage: "embedding"}},
		{report: model.ProgressReport{Progress: 100, Stage: "completed"}},
	}}
	p := NewPoller(src, Options{Logger: logger.Discard()})
	p.Start(context.Background(), videoUnit("job-9"), 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := p.Wait(ctx, "job-9")
	if err != nil || st.State != model.StateCompleted {
		t.Fatalf("wait = %+v, %v", st, err)
	}
	if src.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", src.Calls())
	}
}
