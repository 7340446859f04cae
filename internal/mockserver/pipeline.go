package mockserver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dharsanguruparan/notely/internal/model"
)

type stage struct {
	name     string
	progress int
	message  string
}

var (
	videoStages = []stage{
		{"uploading", 10, "receiving video"},
		{"transcribing", 30, "running speech to text"},
		{"extracting_frames", 50, "sampling screenshots"},
		{"embedding", 70, "indexing transcript"},
		{"summarizing", 90, "writing notes"},
	}
	documentStages = []stage{
		{"uploading", 10, "receiving document"},
		{"extracting", 40, "reading pages"},
		{"embedding", 70, "indexing text"},
		{"summarizing", 90, "writing notes"},
	}
)

// failMarker in a source name makes the simulated job fail half way.
const failMarker = "fail"

// Pipeline advances submitted jobs through their stages on a pool of worker
// goroutines.
type Pipeline struct {
	store   *Store
	queue   chan string
	workers int
	step    time.Duration
	log     *slog.Logger
}

// NewPipeline builds a Pipeline. step is the delay between two stages.
func NewPipeline(store *Store, workers int, step time.Duration, log *slog.Logger) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:   store,
		queue:   make(chan string, workers*16),
		workers: workers,
		step:    step,
		log:     log,
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

// Submit queues a job. A full queue fails the job instead of blocking the
// request.
func (p *Pipeline) Submit(job *Job) {
	if strings.Contains(strings.ToLower(job.Name), failMarker) {
		job.FailAt = 50
	}
	job.Stage = "queued"
	job.Message = "waiting for a worker"
	p.store.SaveJob(job)
	select {
	case p.queue <- job.ID:
	default:
		p.log.Warn("mock.pipeline.queue_full", "job_id", job.ID)
		p.store.Advance(job.ID, model.StageError, 0, "processing queue full")
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.run(ctx, id)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, id string) {
	job, err := p.store.Job(id)
	if err != nil {
		return
	}
	stages := videoStages
	if job.Kind == model.SourceDocument {
		stages = documentStages
	}
	for _, st := range stages {
		if !p.sleep(ctx) {
			return
		}
		if job.FailAt > 0 && st.progress >= job.FailAt {
			p.store.Advance(id, model.StageError, st.progress, "simulated failure during "+st.name)
			p.log.Info("mock.pipeline.failed", "job_id", id, "stage", st.name)
			return
		}
		p.store.Advance(id, st.name, st.progress, st.message)
	}
	if !p.sleep(ctx) {
		return
	}
	if _, err := p.store.AttachNote(id, newNote(job)); err != nil {
		p.log.Warn("mock.pipeline.note_failed", "job_id", id, "error", err)
	}
	p.store.Advance(id, model.StageCompleted, 100, "notes ready")
	p.log.Info("mock.pipeline.completed", "job_id", id)
}

func (p *Pipeline) sleep(ctx context.Context) bool {
	if p.step <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(p.step)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
