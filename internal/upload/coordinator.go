// Package upload validates local inputs, submits them through the gateway and
// hands the resulting unit of work to the progress tracker.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dharsanguruparan/notely/internal/gateway"
	"github.com/dharsanguruparan/notely/internal/model"
)

const (
	DefaultScreenshotInterval = 5
	MinScreenshotInterval     = 1
	MaxScreenshotInterval     = 300

	sniffLen = 512
)

// Submitter is the part of the gateway used to create units of work.
type Submitter interface {
	SubmitVideo(ctx context.Context, sub gateway.VideoSubmission) (string, error)
	SubmitDocument(ctx context.Context, file gateway.FilePart) (string, error)
}

// Tracker receives freshly created units.
type Tracker interface {
	Start(ctx context.Context, unit model.UnitOfWork, interval time.Duration) error
}

// VideoInput describes one video submission. Exactly one of URL and FilePath
// must be set. Nil options take their defaults.
type VideoInput struct {
	URL                string
	FilePath           string
	ScreenshotInterval *int
	SmartMode          *bool
}

// DocumentInput describes one document submission.
type DocumentInput struct {
	FilePath string
}

// Options configures a Coordinator.
type Options struct {
	PollInterval       time.Duration
	ScreenshotInterval int
	MaxVideoBytes      int64
	MaxDocumentBytes   int64
	Logger             *slog.Logger
}

// Coordinator turns inputs into tracked units of work.
type Coordinator struct {
	gw      Submitter
	tracker Tracker
	opts    Options
	log     *slog.Logger
	now     func() time.Time
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(gw Submitter, tracker Tracker, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ScreenshotInterval == 0 {
		opts.ScreenshotInterval = DefaultScreenshotInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{gw: gw, tracker: tracker, opts: opts, log: log, now: time.Now}
}

// SubmitVideo validates in, submits it and starts tracking. Validation
// failures return before any request is made. ctx also bounds the polling of
// the created unit.
func (c *Coordinator) SubmitVideo(ctx context.Context, in VideoInput) (model.UnitOfWork, error) {
	sub, name, closeFn, err := c.prepareVideo(in)
	if err != nil {
		return model.UnitOfWork{}, err
	}
	defer closeFn()

	id, err := c.gw.SubmitVideo(ctx, sub)
	if err != nil {
		c.log.Warn("upload.submit.failed", "kind", model.SourceVideo, "source", name, "error", err)
		return model.UnitOfWork{}, fmt.Errorf("submit video: %w", err)
	}
	return c.track(ctx, id, model.SourceVideo, name)
}

// SubmitDocument validates and submits a document, then starts tracking.
func (c *Coordinator) SubmitDocument(ctx context.Context, in DocumentInput) (model.UnitOfWork, error) {
	part, closeFn, err := c.prepareDocument(in)
	if err != nil {
		return model.UnitOfWork{}, err
	}
	defer closeFn()

	id, err := c.gw.SubmitDocument(ctx, part)
	if err != nil {
		c.log.Warn("upload.submit.failed", "kind", model.SourceDocument, "source", part.Name, "error", err)
		return model.UnitOfWork{}, fmt.Errorf("submit document: %w", err)
	}
	return c.track(ctx, id, model.SourceDocument, part.Name)
}

func (c *Coordinator) track(ctx context.Context, id string, kind model.SourceKind, name string) (model.UnitOfWork, error) {
	unit := model.UnitOfWork{
		ID:         id,
		SourceKind: kind,
		SourceName: name,
		State:      model.StatePending,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.tracker.Start(ctx, unit, c.opts.PollInterval); err != nil {
		return model.UnitOfWork{}, fmt.Errorf("track %s %s: %w", kind, id, err)
	}
	c.log.Info("upload.submitted", "unit_id", id, "kind", kind, "source", name)
	return unit, nil
}

func (c *Coordinator) prepareVideo(in VideoInput) (gateway.VideoSubmission, string, func(), error) {
	noop := func() {}
	rawURL := strings.TrimSpace(in.URL)
	path := strings.TrimSpace(in.FilePath)
	if (rawURL == "") == (path == "") {
		return gateway.VideoSubmission{}, "", noop,
			gateway.NewValidationError("source", "provide exactly one of a video URL or a local file")
	}

	interval := c.opts.ScreenshotInterval
	if in.ScreenshotInterval != nil {
		interval = *in.ScreenshotInterval
	}
	if interval < MinScreenshotInterval || interval > MaxScreenshotInterval {
		return gateway.VideoSubmission{}, "", noop, gateway.NewValidationError("screenshot interval",
			"must be between %d and %d seconds, got %d", MinScreenshotInterval, MaxScreenshotInterval, interval)
	}
	smart := true
	if in.SmartMode != nil {
		smart = *in.SmartMode
	}
	sub := gateway.VideoSubmission{ScreenshotInterval: interval, SmartMode: smart}

	if rawURL != "" {
		if err := validateRemoteURL(rawURL); err != nil {
			return gateway.VideoSubmission{}, "", noop, err
		}
		sub.URL = rawURL
		return sub, rawURL, noop, nil
	}

	f, _, err := openLocal(path, c.opts.MaxVideoBytes)
	if err != nil {
		return gateway.VideoSubmission{}, "", noop, err
	}
	name := filepath.Base(path)
	sub.File = &gateway.FilePart{Name: name, Content: f}
	return sub, name, func() { f.Close() }, nil
}

func (c *Coordinator) prepareDocument(in DocumentInput) (gateway.FilePart, func(), error) {
	noop := func() {}
	path := strings.TrimSpace(in.FilePath)
	if path == "" {
		return gateway.FilePart{}, noop, gateway.NewValidationError("source", "a document file is required")
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" && ext != ".docx" {
		return gateway.FilePart{}, noop, gateway.NewValidationError("file", "only .pdf and .docx documents are supported, got %q", ext)
	}

	f, _, err := openLocal(path, c.opts.MaxDocumentBytes)
	if err != nil {
		return gateway.FilePart{}, noop, err
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		f.Close()
		return gateway.FilePart{}, noop, fmt.Errorf("read %s: %w", path, err)
	}
	head = head[:n]
	if err := checkDocumentType(ext, head); err != nil {
		f.Close()
		return gateway.FilePart{}, noop, err
	}

	part := gateway.FilePart{
		Name:    filepath.Base(path),
		Content: io.MultiReader(bytes.NewReader(head), f),
	}
	return part, func() { f.Close() }, nil
}

func checkDocumentType(ext string, head []byte) error {
	detected := http.DetectContentType(head)
	switch ext {
	case ".pdf":
		if detected != "application/pdf" {
			return gateway.NewValidationError("file", "content is %s, not a PDF", detected)
		}
	case ".docx":
		if detected != "application/zip" {
			return gateway.NewValidationError("file", "content is %s, not a .docx archive", detected)
		}
	}
	return nil
}

func validateRemoteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return gateway.NewValidationError("url", "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return gateway.NewValidationError("url", "must be an http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return gateway.NewValidationError("url", "missing host in %q", raw)
	}
	return nil
}

// openLocal opens a regular, non-empty file no larger than limit bytes. A
// limit of zero disables the size check.
func openLocal(path string, limit int64) (*os.File, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, gateway.NewValidationError("file", "%s does not exist", path)
		}
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, 0, gateway.NewValidationError("file", "%s is not a regular file", path)
	}
	if info.Size() == 0 {
		return nil, 0, gateway.NewValidationError("file", "%s is empty", path)
	}
	if limit > 0 && info.Size() > limit {
		return nil, 0, gateway.NewValidationError("file", "%s is %d bytes, limit is %d", path, info.Size(), limit)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	return f, info.Size(), nil
}
