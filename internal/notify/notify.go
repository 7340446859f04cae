// Package notify carries user-facing outcomes out of the core packages.
// Gateway and tracker code never print anything; callers route every
// surfaced result or error through a Notifier instead.
package notify

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one message for the user. Action names what was attempted,
// for example "submit video" or "download notes".
type Notification struct {
	Level   Level
	Action  string
	Message string
	Err     error
	At      time.Time
}

func (n Notification) String() string {
	switch {
	case n.Err != nil && n.Message != "":
		return fmt.Sprintf("%s failed: %s: %v", n.Action, n.Message, n.Err)
	case n.Err != nil:
		return fmt.Sprintf("%s failed: %v", n.Action, n.Err)
	case n.Action == "":
		return n.Message
	}
	return fmt.Sprintf("%s: %s", n.Action, n.Message)
}

// Sink receives notifications.
type Sink interface {
	Notify(Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// Notifier fans notifications out to subscribed sinks.
type Notifier struct {
	mu    sync.RWMutex
	sinks []Sink
	now   func() time.Time
}

// New returns a Notifier with the given sinks.
func New(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, now: time.Now}
}

// Subscribe adds a sink.
func (n *Notifier) Subscribe(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Publish delivers one notification to every sink.
func (n *Notifier) Publish(note Notification) {
	if note.At.IsZero() {
		note.At = n.now()
	}
	n.mu.RLock()
	sinks := append([]Sink(nil), n.sinks...)
	n.mu.RUnlock()
	for _, s := range sinks {
		s.Notify(note)
	}
}

// Info publishes an informational message.
func (n *Notifier) Info(action, format string, args ...any) {
	n.Publish(Notification{Level: LevelInfo, Action: action, Message: fmt.Sprintf(format, args...)})
}

// Success publishes a success message.
func (n *Notifier) Success(action, format string, args ...any) {
	n.Publish(Notification{Level: LevelSuccess, Action: action, Message: fmt.Sprintf(format, args...)})
}

// Failure publishes err for action and returns it unchanged, so call sites can
// write `return n.Failure("export notes", err)`. A nil err publishes nothing.
// An error that already went through Failure is not published twice.
func (n *Notifier) Failure(action string, err error) error {
	if err == nil {
		return nil
	}
	var r *reported
	if errors.As(err, &r) {
		return err
	}
	n.Publish(Notification{Level: LevelError, Action: action, Err: err})
	return &reported{action: action, err: err}
}

// reported marks an error that was already published.
type reported struct {
	action string
	err    error
}

func (r *reported) Error() string { return r.err.Error() }

func (r *reported) Unwrap() error { return r.err }

// Reported reports whether err was already published by a Notifier.
func Reported(err error) bool {
	var r *reported
	return errors.As(err, &r)
}

// WriterSink prints notifications as lines on w.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) Notify(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := ""
	switch n.Level {
	case LevelError:
		prefix = "error: "
	case LevelSuccess:
		prefix = "ok: "
	}
	fmt.Fprintln(s.w, prefix+n.String())
}

// LogSink records notifications in the structured log.
type LogSink struct{ Log *slog.Logger }

func (s LogSink) Notify(n Notification) {
	attrs := []any{"level", n.Level, "action", n.Action}
	if n.Err != nil {
		s.Log.Warn("notify.error", append(attrs, "error", n.Err)...)
		return
	}
	s.Log.Info("notify.message", append(attrs, "message", n.Message)...)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of everything recorded.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Errors returns the recorded error notifications.
func (r *Recorder) Errors() []Notification {
	var out []Notification
	for _, n := range r.All() {
		if n.Level == LevelError {
			out = append(out, n)
		}
	}
	return out
}
