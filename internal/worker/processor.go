// Package worker runs the background handlers for completed units.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/notely/internal/archive"
	"github.com/dharsanguruparan/notely/internal/gateway"
	"github.com/dharsanguruparan/notely/internal/logger"
	"github.com/dharsanguruparan/notely/internal/model"
	pdfutil "github.com/dharsanguruparan/notely/internal/pdf"
	"github.com/dharsanguruparan/notely/internal/queue"
)

// NoteSource generates and downloads notes through the gateway.
type NoteSource interface {
	GenerateNotes(ctx context.Context, sourceID string, kind model.SourceKind) (string, error)
	DownloadArtifact(ctx context.Context, noteID string, format model.ArtifactFormat) ([]byte, error)
}

// Store archives artifacts. *archive.Archive implements it.
type Store interface {
	Store(ctx context.Context, noteID string, format model.ArtifactFormat, data []byte) (archive.Stored, error)
}

// Result is what one completion task produced.
type Result struct {
	NoteID   string
	PDF      pdfutil.Info
	Archived []archive.Stored
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	notes NoteSource
	store Store
	log   *slog.Logger
}

// NewProcessor constructs a worker processor. store may be nil, in which case
// notes are generated but not archived.
func NewProcessor(notes NoteSource, store Store, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{notes: notes, store: store, log: log}
}

// Handler registers the completion handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.UnitCompletedTask, p.handleCompleted)
	return mux
}

func (p *Processor) handleCompleted(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseCompleted(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	_, err = p.Process(ctx, payload)
	return err
}

// Process generates notes for a completed unit and archives its artifacts.
// Errors that a retry cannot fix are marked with asynq.SkipRetry.
func (p *Processor) Process(ctx context.Context, payload queue.CompletedPayload) (Result, error) {
	log := logger.FromContext(logger.WithUnitID(ctx, payload.UnitID), p.log)
	failure := func(step string, err error) error {
		log.Error("worker.completed.failed", "step", step, "error", err)
		if !gateway.IsTransient(err) {
			return fmt.Errorf("%s: %w: %w", step, err, asynq.SkipRetry)
		}
		return fmt.Errorf("%s: %w", step, err)
	}

	noteID, err := p.notes.GenerateNotes(ctx, payload.UnitID, payload.SourceKind)
	if err != nil {
		return Result{}, failure("generate notes", err)
	}
	res := Result{NoteID: noteID}
	log.Info("worker.notes.generated", "note_id", noteID, "source", payload.SourceName)
	if p.store == nil {
		return res, nil
	}

	var pdfData, mdData []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := p.notes.DownloadArtifact(gctx, noteID, model.FormatPDF)
		pdfData = data
		return err
	})
	g.Go(func() error {
		data, err := p.notes.DownloadArtifact(gctx, noteID, model.FormatMarkdown)
		mdData = data
		return err
	})
	if err := g.Wait(); err != nil {
		return res, failure("download artifacts", err)
	}

	info, err := pdfutil.Inspect(pdfData, 0)
	if err != nil {
		return res, failure("inspect pdf", err)
	}
	res.PDF = info

	for _, a := range []struct {
		format model.ArtifactFormat
		data   []byte
	}{{model.FormatPDF, pdfData}, {model.FormatMarkdown, mdData}} {
		stored, err := p.store.Store(ctx, noteID, a.format, a.data)
		if err != nil {
			// Storage errors are retried by asynq.
			log.Error("worker.archive.failed", "format", a.format, "error", err)
			return res, fmt.Errorf("archive %s: %w", a.format, err)
		}
		res.Archived = append(res.Archived, stored)
	}
	log.Info("worker.notes.archived", "note_id", noteID, "pages", info.Pages, "objects", len(res.Archived))
	return res, nil
}
