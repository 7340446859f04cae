package mockserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/notely/internal/model"
)

// ErrNotFound is returned for unknown ids.
var ErrNotFound = errors.New("not found")

// Job is one simulated unit of work.
type Job struct {
	ID        string
	Kind      model.SourceKind
	Name      string
	Size      int64
	Stage     string
	Progress  int
	Message   string
	FailAt    int // progress at which the job errors, 0 for never
	NoteID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the pipeline is done with the job.
func (j Job) Terminal() bool {
	return j.Stage == model.StageCompleted || j.Stage == model.StageError
}

// Note is a generated result held by the simulator.
type Note struct {
	Record   model.ResultRecord
	Markdown string
}

// Store keeps every simulated object in memory.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	notes    map[string]*Note
	settings map[string]model.UserSettings
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]*Job),
		notes:    make(map[string]*Note),
		settings: make(map[string]model.UserSettings),
	}
}

// SaveJob inserts or replaces a job.
func (s *Store) SaveJob(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = job
}

// Advance moves a job to stage/progress unless it is already terminal.
func (s *Store) Advance(id, stage string, progress int, msg string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if job.Terminal() {
		return *job, nil
	}
	job.Stage = stage
	job.Progress = progress
	job.Message = msg
	job.UpdatedAt = time.Now().UTC()
	return *job, nil
}

// Job returns a copy of one job.
func (s *Store) Job(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// Jobs lists jobs of kind, oldest first. An empty kind lists all.
func (s *Store) Jobs(kind model.SourceKind) []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if kind == "" || j.Kind == kind {
			out = append(out, *j)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// AttachNote stores note and links it to its source job. If the job already
// has a note, that note is returned instead.
func (s *Store) AttachNote(jobID string, note *Note) (model.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return model.ResultRecord{}, ErrNotFound
	}
	if existing, ok := s.notes[job.NoteID]; ok {
		return existing.Record, nil
	}
	job.NoteID = note.Record.ID
	s.notes[note.Record.ID] = note
	return note.Record, nil
}

// Note returns one note.
func (s *Store) Note(id string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return Note{}, ErrNotFound
	}
	return *n, nil
}

// Notes lists every note, newest first.
func (s *Store) Notes() []model.ResultRecord {
	s.mu.RLock()
	out := make([]model.ResultRecord, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n.Record)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt.Time) })
	return out
}

// Settings returns the stored settings of userID, or defaults.
func (s *Store) Settings(userID string) model.UserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.settings[userID]; ok {
		return st
	}
	return model.UserSettings{UserID: userID, ScreenshotInterval: 5, EmbeddingType: "clip", LLMPreference: "gemini"}
}

// SaveSettings replaces the settings of userID.
func (s *Store) SaveSettings(userID string, st model.UserSettings) model.UserSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UserID = userID
	s.settings[userID] = st
	return st
}
