// Package app assembles the client: gateway, tracker, upload coordinator,
// catalog, dashboard and notifications, and connects the tracker's terminal
// transitions to the follow-up work they trigger.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/notely/internal/catalog"
	"github.com/dharsanguruparan/notely/internal/config"
	"github.com/dharsanguruparan/notely/internal/dashboard"
	"github.com/dharsanguruparan/notely/internal/gateway"
	"github.com/dharsanguruparan/notely/internal/model"
	"github.com/dharsanguruparan/notely/internal/notify"
	"github.com/dharsanguruparan/notely/internal/queue"
	"github.com/dharsanguruparan/notely/internal/tracker"
	"github.com/dharsanguruparan/notely/internal/upload"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Log       *slog.Logger
	Gateway   *gateway.Client
	Poller    *tracker.Poller
	Uploads   *upload.Coordinator
	Catalog   *catalog.Catalog
	Dashboard *dashboard.Service
	Notifier  *notify.Notifier

	ctx      context.Context
	enqueuer queue.Enqueuer
	closers  []func() error
}

type options struct {
	scheduler  tracker.Scheduler
	httpClient *http.Client
	enqueuer   queue.Enqueuer
	sinks      []notify.Sink
}

// Option customises New.
type Option func(*options)

// WithScheduler replaces the poller's timer source.
func WithScheduler(s tracker.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithHTTPClient replaces the gateway's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithEnqueuer sends completion tasks to e instead of a Redis client built
// from the configuration.
func WithEnqueuer(e queue.Enqueuer) Option {
	return func(o *options) { o.enqueuer = e }
}

// WithSinks subscribes notification sinks.
func WithSinks(sinks ...notify.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// New wires an App. ctx bounds the background work started by observers.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = slog.Default()
	}

	var gw *gateway.Client
	if o.httpClient != nil {
		gw = gateway.NewWithHTTPClient(cfg.APIURL, o.httpClient, log)
	} else {
		gw = gateway.New(cfg.APIURL, cfg.HTTPTimeout, log)
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		Gateway:   gw,
		Catalog:   catalog.New(gw, log),
		Dashboard: dashboard.New(gw, cfg.DashboardTTL, log),
		Notifier:  notify.New(append([]notify.Sink{notify.LogSink{Log: log}}, o.sinks...)...),
		ctx:       ctx,
	}
	a.Poller = tracker.NewPoller(gw, tracker.Options{
		Scheduler:   o.scheduler,
		MaxFailures: cfg.MaxPollFailures,
		Logger:      log,
	})
	a.Uploads = upload.NewCoordinator(gw, a.Poller, upload.Options{
		PollInterval:       cfg.PollInterval,
		ScreenshotInterval: cfg.ScreenshotInterval,
		MaxVideoBytes:      cfg.MaxVideoBytes,
		MaxDocumentBytes:   cfg.MaxDocumentBytes,
		Logger:             log,
	})

	switch {
	case o.enqueuer != nil:
		a.enqueuer = o.enqueuer
	case cfg.Redis.Enabled():
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.enqueuer = client
		a.closers = append(a.closers, client.Close)
	}

	a.Poller.Subscribe(a.onTransition)
	return a, nil
}

// Watch tracks a unit that was submitted earlier.
func (a *App) Watch(ctx context.Context, kind model.SourceKind, id string) error {
	unit := model.UnitOfWork{ID: id, SourceKind: kind, State: model.StatePending}
	if err := a.Poller.Start(ctx, unit, a.Config.PollInterval); err != nil {
		return a.Notifier.Failure("watch "+string(kind), err)
	}
	return nil
}

// Close stops every subscription and releases clients.
func (a *App) Close() error {
	a.Poller.StopAll()
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *App) onTransition(ev tracker.Event) {
	st := ev.Status
	action := fmt.Sprintf("process %s %s", st.Kind, st.UnitID)
	switch ev.To {
	case model.StateCompleted:
		a.Notifier.Success(action, "completed")
		a.afterCompletion(st)
	case model.StateFailed:
		a.Notifier.Failure(action, ev.Err)
	}
}

func (a *App) afterCompletion(st tracker.Status) {
	ctx, cancel := context.WithTimeout(a.ctx, a.Config.HTTPTimeout)
	defer cancel()

	a.Dashboard.Invalidate()
	if _, err := a.Catalog.Refresh(ctx); err != nil {
		a.Notifier.Failure("refresh notes", err)
	}
	if a.enqueuer == nil {
		return
	}
	payload := queue.CompletedPayload{UnitID: st.UnitID, SourceKind: st.Kind, SourceName: st.SourceName}
	if err := queue.EnqueueCompleted(ctx, a.enqueuer, payload); err != nil {
		a.Notifier.Failure("queue note generation", err)
		return
	}
	a.Log.Info("app.completion.enqueued", "unit_id", st.UnitID)
}

// WaitAll blocks until every unit in ids reaches a terminal state or ctx ends.
func (a *App) WaitAll(ctx context.Context, ids ...string) map[string]error {
	out := make(map[string]error, len(ids))
	for _, id := range ids {
		_, err := a.Poller.Wait(ctx, id)
		out[id] = err
	}
	return out
}
