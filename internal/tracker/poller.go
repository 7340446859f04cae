package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dharsanguruparan/notely/internal/gateway"
	"github.com/dharsanguruparan/notely/internal/logger"
	"github.com/dharsanguruparan/notely/internal/model"
)

// DefaultMaxFailures is how many consecutive transient errors a subscription
// tolerates before the unit is failed.
const DefaultMaxFailures = 3

var (
	// ErrUnknownUnit is returned for ids the poller has never tracked.
	ErrUnknownUnit = errors.New("unknown unit")
	// ErrStopped is returned by Wait when tracking was stopped before the
	// unit reached a terminal state.
	ErrStopped = errors.New("tracking stopped")
)

// ProgressSource fetches the latest progress report of a unit.
type ProgressSource interface {
	Progress(ctx context.Context, kind model.SourceKind, id string) (model.ProgressReport, error)
}

// TerminalFailure describes why a unit ended in the failed state.
type TerminalFailure struct {
	UnitID  string
	Message string
	Cause   error
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("unit %s failed: %s", e.UnitID, e.Message)
}

func (e *TerminalFailure) Unwrap() error { return e.Cause }

// Event is delivered to observers after every applied transition.
type Event struct {
	Transition
	// Err is a *TerminalFailure when the unit moved to the failed state.
	Err error
}

// Observer receives events. Observers run on the polling goroutine and may
// call back into the Poller.
type Observer func(Event)

// Options tune a Poller. Zero values select defaults.
type Options struct {
	Scheduler   Scheduler
	MaxFailures int
	Logger      *slog.Logger
	Board       *Board
}

// Poller runs at most one polling subscription per unit id. Ticks of a
// subscription never overlap: the next one is armed only after the previous
// request resolved.
type Poller struct {
	src         ProgressSource
	sched       Scheduler
	maxFailures int
	log         *slog.Logger
	board       *Board

	mu        sync.Mutex
	subs      map[string]*subscription
	observers []Observer
	gen       uint64
}

type subscription struct {
	gen      uint64
	unitID   string
	kind     model.SourceKind
	interval time.Duration
	machine  *Machine

	ctx     context.Context
	cancel  context.CancelFunc
	release func() bool
	timer   Timer

	failures int
	stopped  bool
	done     chan struct{}
}

// NewPoller builds a Poller reading progress from src.
func NewPoller(src ProgressSource, opts Options) *Poller {
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler()
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Board == nil {
		opts.Board = NewBoard()
	}
	return &Poller{
		src:         src,
		sched:       opts.Scheduler,
		maxFailures: opts.MaxFailures,
		log:         opts.Logger,
		board:       opts.Board,
		subs:        make(map[string]*subscription),
	}
}

// Board exposes the statuses of every tracked unit.
func (p *Poller) Board() *Board { return p.board }

// Subscribe registers an observer for all units.
func (p *Poller) Subscribe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Start begins polling unit every interval. The first request is sent after
// one interval. An existing subscription for the same id is cancelled first.
// Cancelling ctx stops the subscription like Stop does: no transition is
// applied and the unit keeps its last state.
func (p *Poller) Start(ctx context.Context, unit model.UnitOfWork, interval time.Duration) error {
	if unit.ID == "" {
		return gateway.NewValidationError("unit id", "must not be empty")
	}
	if interval <= 0 {
		return gateway.NewValidationError("interval", "must be positive, got %s", interval)
	}
	if _, err := model.ParseSourceKind(string(unit.SourceKind)); err != nil {
		return gateway.NewValidationError("source kind", "%v", err)
	}

	m := NewMachine(unit)
	subCtx, cancel := context.WithCancel(logger.WithUnitID(ctx, unit.ID))

	p.mu.Lock()
	if old, ok := p.subs[unit.ID]; ok {
		p.log.Info("tracker.subscription.replaced", "unit_id", unit.ID, "generation", old.gen)
		p.stopLocked(old)
	}
	p.gen++
	sub := &subscription{
		gen:      p.gen,
		unitID:   unit.ID,
		kind:     unit.SourceKind,
		interval: interval,
		machine:  m,
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.subs[unit.ID] = sub
	p.board.Put(m)
	sub.timer = p.sched.AfterFunc(interval, func() { p.tick(sub) })
	sub.release = context.AfterFunc(ctx, func() { p.release(sub) })
	p.mu.Unlock()

	p.log.Info("tracker.subscription.started",
		"unit_id", unit.ID, "kind", unit.SourceKind, "interval", interval, "generation", sub.gen)
	p.emit(Event{Transition: Transition{To: model.StatePending, Status: m.Snapshot()}})
	return nil
}

// Stop cancels polling for id. Responses still in flight are discarded.
// Stopping an unknown or already stopped id is a no-op.
func (p *Poller) Stop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[id]; ok {
		p.stopLocked(sub)
		p.log.Info("tracker.subscription.stopped", "unit_id", id, "generation", sub.gen)
	}
}

// StopAll cancels every subscription.
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs {
		p.stopLocked(sub)
	}
}

// Active reports whether id currently has a live subscription.
func (p *Poller) Active(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.subs[id]
	return ok
}

// Status returns the latest status of id, live or finished.
func (p *Poller) Status(id string) (Status, bool) {
	m, ok := p.board.Get(id)
	if !ok {
		return Status{}, false
	}
	return m.Snapshot(), true
}

// Wait blocks until the subscription of id ends and returns the final status.
// A *TerminalFailure is returned for failed units and ErrStopped when the
// subscription was cancelled before finishing.
func (p *Poller) Wait(ctx context.Context, id string) (Status, error) {
	p.mu.Lock()
	sub, live := p.subs[id]
	p.mu.Unlock()

	if live {
		select {
		case <-sub.done:
		case <-ctx.Done():
			st, _ := p.Status(id)
			return st, ctx.Err()
		}
	}
	st, ok := p.Status(id)
	if !ok {
		return Status{}, ErrUnknownUnit
	}
	switch st.State {
	case model.StateCompleted:
		return st, nil
	case model.StateFailed:
		return st, &TerminalFailure{UnitID: id, Message: st.Message}
	}
	return st, ErrStopped
}

// release ends sub after its parent context was cancelled.
func (p *Poller) release(sub *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub.stopped {
		return
	}
	p.stopLocked(sub)
	p.log.Info("tracker.subscription.released", "unit_id", sub.unitID, "generation", sub.gen)
}

func (p *Poller) stopLocked(sub *subscription) {
	if sub.stopped {
		return
	}
	p.detachLocked(sub)
	close(sub.done)
}

// detachLocked ends sub without releasing its waiters.
func (p *Poller) detachLocked(sub *subscription) {
	sub.stopped = true
	if sub.timer != nil {
		sub.timer.Stop()
		sub.timer = nil
	}
	sub.cancel()
	if sub.release != nil {
		sub.release()
	}
	if cur, ok := p.subs[sub.unitID]; ok && cur == sub {
		delete(p.subs, sub.unitID)
	}
}

// currentLocked reports whether sub is still the live subscription for its unit.
func (p *Poller) currentLocked(sub *subscription) bool {
	if sub.stopped {
		return false
	}
	cur, ok := p.subs[sub.unitID]
	return ok && cur == sub
}

func (p *Poller) tick(sub *subscription) {
	p.mu.Lock()
	if !p.currentLocked(sub) {
		p.mu.Unlock()
		return
	}
	sub.timer = nil
	ctx := sub.ctx
	if ctx.Err() != nil {
		p.stopLocked(sub)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	log := logger.FromContext(ctx, p.log)
	report, err := p.src.Progress(ctx, sub.kind, sub.unitID)

	p.mu.Lock()
	if !p.currentLocked(sub) {
		p.mu.Unlock()
		log.Debug("tracker.poll.discarded", "generation", sub.gen)
		return
	}
	if err != nil && ctx.Err() != nil {
		p.stopLocked(sub)
		p.mu.Unlock()
		log.Info("tracker.subscription.released", "generation", sub.gen)
		return
	}

	var (
		tr    Transition
		evErr error
		apply bool
	)
	switch {
	case err == nil:
		sub.failures = 0
		tr, err = sub.machine.Apply(report)
		apply = err == nil
		if tr.To == model.StateFailed {
			evErr = &TerminalFailure{UnitID: sub.unitID, Message: tr.Status.Message}
		}
	case !gateway.IsTransient(err):
		msg := fmt.Sprintf("progress check failed: %v", err)
		tr, _ = sub.machine.Fail(msg)
		apply = true
		evErr = &TerminalFailure{UnitID: sub.unitID, Message: msg, Cause: err}
		log.Warn("tracker.poll.fatal", "error", err)
	default:
		sub.failures++
		log.Warn("tracker.poll.error", "error", err, "attempt", sub.failures, "max", p.maxFailures)
		if sub.failures >= p.maxFailures {
			last := sub.machine.Snapshot()
			msg := fmt.Sprintf("gave up after %d failed progress checks", sub.failures)
			switch {
			case last.Stage != "" && last.Message != "":
				msg += fmt.Sprintf(" (last stage %q: %s)", last.Stage, last.Message)
			case last.Stage != "":
				msg += fmt.Sprintf(" (last stage %q)", last.Stage)
			case last.Message != "":
				msg += fmt.Sprintf(" (last message: %s)", last.Message)
			}
			tr, _ = sub.machine.Fail(msg)
			apply = true
			evErr = &TerminalFailure{UnitID: sub.unitID, Message: msg, Cause: err}
		}
	}

	terminal := apply && tr.To.Terminal()
	if terminal {
		p.detachLocked(sub)
	}
	p.mu.Unlock()

	if apply {
		log.Info("tracker.unit.transition",
			"from", tr.From, "to", tr.To, "stage", tr.Status.Stage, "progress", tr.Status.Progress)
		p.emit(Event{Transition: tr, Err: evErr})
	}
	if terminal {
		// Waiters wake only after observers saw the final transition.
		close(sub.done)
		return
	}

	p.mu.Lock()
	if p.currentLocked(sub) {
		sub.timer = p.sched.AfterFunc(sub.interval, func() { p.tick(sub) })
	}
	p.mu.Unlock()
}

func (p *Poller) emit(ev Event) {
	p.mu.Lock()
	obs := append([]Observer(nil), p.observers...)
	p.mu.Unlock()
	for _, o := range obs {
		o(ev)
	}
}
