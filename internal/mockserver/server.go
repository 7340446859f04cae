// Package mockserver simulates the remote processing pipeline over its HTTP
// contract so the client can be exercised locally. Jobs advance through fake
// stages on a worker pool; nothing is transcribed or summarised.
package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/notely/internal/model"
	"github.com/dharsanguruparan/notely/internal/signing"
)

// Options configures a Server.
type Options struct {
	Address        string
	MaxUploadBytes int64
	Logger         *slog.Logger

	// LinkSecret signs the artifact links handed out with note listings. A
	// random secret is used when empty.
	LinkSecret []byte
	LinkTTL    time.Duration
}

// Server hosts the simulated endpoints.
type Server struct {
	opts     Options
	store    *Store
	pipeline *Pipeline
	log      *slog.Logger
	links    *signing.Signer
	once     sync.Once

	mu             sync.Mutex
	progressFaults int
}

// New creates a Server around store and pipeline.
func New(store *Store, pipeline *Pipeline, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 500 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.LinkSecret) == 0 {
		opts.LinkSecret = []byte(uuid.NewString())
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = time.Hour
	}
	return &Server{
		opts:     opts,
		store:    store,
		pipeline: pipeline,
		log:      opts.Logger,
		links:    signing.NewSigner(opts.LinkSecret),
	}
}

// Store exposes the backing store.
func (s *Server) Store() *Store { return s.store }

// InjectProgressFaults makes the next n progress requests answer 503.
func (s *Server) InjectProgressFaults(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressFaults = n
}

func (s *Server) takeProgressFault() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progressFaults > 0 {
		s.progressFaults--
		return true
	}
	return false
}

// Start launches the pipeline workers once.
func (s *Server) Start(ctx context.Context) {
	s.once.Do(func() { s.pipeline.Start(ctx) })
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.Start(ctx)
	httpServer := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/video/submit_job/", s.handleSubmitVideo)
	mux.HandleFunc("/video/progress/", s.handleProgress(model.SourceVideo))
	mux.HandleFunc("/video/job_status/", s.handleJobStatus)
	mux.HandleFunc("/document/upload/", s.handleUploadDocument)
	mux.HandleFunc("/document/progress/", s.handleProgress(model.SourceDocument))
	mux.HandleFunc("/document/list/", s.handleListDocuments)
	mux.HandleFunc("/notes/", s.handleNotes)
	mux.HandleFunc(signing.SharedPrefix, s.handleShared)
	mux.HandleFunc("/notion/push_notes/", s.handleExport)
	mux.HandleFunc("/settings/", s.handleSettings)
	mux.HandleFunc("/dashboard/stats", s.handleDashboard)
	return s.logRequests(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitVideo(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	form, err := s.readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	source := form.fields["url"]
	if (source == "") == (form.fileName == "") {
		http.Error(w, "provide either url or file", http.StatusBadRequest)
		return
	}
	if interval := form.fields["screenshot_interval"]; interval != "" {
		if n, err := strconv.Atoi(interval); err != nil || n < 1 {
			http.Error(w, "invalid screenshot_interval", http.StatusBadRequest)
			return
		}
	}
	if source == "" {
		source = form.fileName
	}
	job := &Job{ID: uuid.NewString(), Kind: model.SourceVideo, Name: source, Size: form.size}
	s.pipeline.Submit(job)
	respondJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	form, err := s.readUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if form.fileName == "" {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	if !allowedDocumentType(form.contentType) {
		http.Error(w, "file type not allowed: "+form.contentType, http.StatusUnsupportedMediaType)
		return
	}
	job := &Job{ID: uuid.NewString(), Kind: model.SourceDocument, Name: form.fileName, Size: form.size}
	s.pipeline.Submit(job)
	respondJSON(w, http.StatusOK, map[string]string{"document_id": job.ID})
}

func (s *Server) handleProgress(kind model.SourceKind) http.HandlerFunc {
	prefix := "/" + string(kind) + "/progress/"
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if s.takeProgressFault() {
			http.Error(w, "injected fault", http.StatusServiceUnavailable)
			return
		}
		job, ok := s.jobFromPath(w, r, prefix, kind)
		if !ok {
			return
		}
		respondJSON(w, http.StatusOK, model.ProgressReport{Progress: job.Progress, Stage: job.Stage, Message: job.Message})
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	job, ok := s.jobFromPath(w, r, "/video/job_status/", model.SourceVideo)
	if !ok {
		return
	}
	progress := job.Progress
	respondJSON(w, http.StatusOK, model.LegacyJobStatus{
		JobID:    job.ID,
		Status:   legacyStatus(job.Stage),
		Progress: &progress,
		Message:  job.Message,
	})
}

func legacyStatus(stage string) string {
	switch stage {
	case "queued", "":
		return "pending"
	case model.StageCompleted:
		return "completed"
	case model.StageError:
		return "failed"
	}
	return "processing"
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	jobs := s.store.Jobs(model.SourceDocument)
	out := make([]model.DocumentMeta, 0, len(jobs))
	for _, j := range jobs {
		status := "pending"
		if j.Stage == model.StageCompleted {
			status = "processed"
		}
		out = append(out, model.DocumentMeta{
			ID:         j.ID,
			Name:       j.Name,
			Type:       documentType(j.Name),
			Size:       j.Size,
			UploadedAt: model.Timestamp{Time: j.CreatedAt},
			Status:     status,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func documentType(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".docx") {
		return "docx"
	}
	return "pdf"
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/notes/")
	switch {
	case rest == "":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		notes := s.store.Notes()
		for i := range notes {
			notes[i].PDFURL = s.links.Link(notes[i].ID, model.FormatPDF, s.opts.LinkTTL)
			notes[i].MarkdownURL = s.links.Link(notes[i].ID, model.FormatMarkdown, s.opts.LinkTTL)
		}
		respondJSON(w, http.StatusOK, notes)
	case rest == "generate/" || rest == "generate":
		s.handleGenerate(w, r)
	case strings.HasPrefix(rest, "download/"):
		s.handleDownload(w, r, strings.TrimPrefix(rest, "download/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		SourceID   string `json:"source_id"`
		SourceType string `json:"source_type"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	job, err := s.store.Job(req.SourceID)
	if err != nil || string(job.Kind) != req.SourceType {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}
	if job.Stage != model.StageCompleted {
		http.Error(w, "source is not processed yet", http.StatusConflict)
		return
	}
	rec, err := s.store.AttachNote(job.ID, newNote(job))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"note_id": rec.ID})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, rest string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	note, format, ok := s.artifactFromPath(w, r, rest)
	if !ok {
		return
	}
	serveArtifact(w, note, format)
}

// handleShared serves artifacts behind signed, expiring links.
func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	note, format, ok := s.artifactFromPath(w, r, strings.TrimPrefix(r.URL.Path, signing.SharedPrefix))
	if !ok {
		return
	}
	q := r.URL.Query()
	if err := s.links.Validate(note.Record.ID, format, q.Get("expires"), q.Get("sig")); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	serveArtifact(w, note, format)
}

func (s *Server) artifactFromPath(w http.ResponseWriter, r *http.Request, rest string) (Note, model.ArtifactFormat, bool) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return Note{}, "", false
	}
	format, err := model.ParseArtifactFormat(parts[0])
	if err != nil {
		http.NotFound(w, r)
		return Note{}, "", false
	}
	note, err := s.store.Note(parts[1])
	if err != nil {
		http.Error(w, "note not found", http.StatusNotFound)
		return Note{}, "", false
	}
	return note, format, true
}

func serveArtifact(w http.ResponseWriter, note Note, format model.ArtifactFormat) {
	var body []byte
	if format == model.FormatPDF {
		body = renderPDF(note.Record.Title, note.Markdown)
	} else {
		body = []byte(note.Markdown)
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Content-Disposition", "attachment; filename=\""+note.Record.ID+format.Extension()+"\"")
	w.Write(body)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/notion/push_notes/"), "/")
	if _, err := s.store.Note(id); err != nil {
		http.Error(w, "note not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/settings/"), "/")
	if userID == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, s.store.Settings(userID))
	case http.MethodPost:
		var in model.UserSettings
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if in.ScreenshotInterval < 0 {
			http.Error(w, "screenshot_interval must not be negative", http.StatusUnprocessableEntity)
			return
		}
		respondJSON(w, http.StatusOK, s.store.SaveSettings(userID, in))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	var stats model.DashboardStats
	jobs := s.store.Jobs("")
	for _, j := range jobs {
		switch j.Kind {
		case model.SourceVideo:
			stats.TotalVideos++
		case model.SourceDocument:
			stats.TotalDocuments++
		}
		if !j.Terminal() {
			stats.ActiveJobs++
		}
	}
	stats.RecentUploads = make([]model.RecentUpload, 0, 5)
	for i := len(jobs) - 1; i >= 0 && len(stats.RecentUploads) < 5; i-- {
		j := jobs[i]
		stats.RecentUploads = append(stats.RecentUploads, model.RecentUpload{
			ID:        j.ID,
			Name:      j.Name,
			Type:      j.Kind,
			CreatedAt: model.Timestamp{Time: j.CreatedAt},
		})
	}
	respondJSON(w, http.StatusOK, stats)
}

// jobFromPath resolves the id after prefix and writes a 404 when the job is
// unknown or of another kind.
func (s *Server) jobFromPath(w http.ResponseWriter, r *http.Request, prefix string, kind model.SourceKind) (Job, bool) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	job, err := s.store.Job(id)
	if err != nil || job.Kind != kind {
		http.Error(w, "job not found", http.StatusNotFound)
		return Job{}, false
	}
	return job, true
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("mock.http.encode_failed", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("mock.http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", r.Header.Get("X-Request-ID"))
	})
}
