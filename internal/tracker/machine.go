// Package tracker follows submitted units of work until the service reports a
// terminal state. Machine holds the canonical status of one unit, Board holds
// many, and Poller drives them from periodic progress checks.
package tracker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/notely/internal/model"
)

// ErrTerminal is returned when a transition is attempted on a finished unit.
var ErrTerminal = errors.New("unit already reached a terminal state")

// Status is a snapshot of one unit.
type Status struct {
	UnitID     string           `json:"unitId"`
	Kind       model.SourceKind `json:"kind"`
	SourceName string           `json:"sourceName,omitempty"`
	State      model.State      `json:"state"`
	Stage      string           `json:"stage,omitempty"`
	Progress   int              `json:"progress"`
	Message    string           `json:"message,omitempty"`
	// Anomalies counts reports whose progress was lower than already shown.
	Anomalies int       `json:"anomalies,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Unit converts the snapshot back into the shared model type.
func (s Status) Unit() model.UnitOfWork {
	return model.UnitOfWork{
		ID:         s.UnitID,
		SourceKind: s.Kind,
		SourceName: s.SourceName,
		State:      s.State,
		Stage:      s.Stage,
		Progress:   s.Progress,
		Message:    s.Message,
		CreatedAt:  s.CreatedAt,
	}
}

// Transition describes one applied change.
type Transition struct {
	From   model.State
	To     model.State
	Status Status
}

// Machine applies progress reports to a unit atomically.
type Machine struct {
	mu  sync.Mutex
	st  Status
	now func() time.Time
}

// NewMachine starts a unit in the pending state.
func NewMachine(unit model.UnitOfWork) *Machine {
	now := time.Now().UTC()
	created := unit.CreatedAt
	if created.IsZero() {
		created = now
	}
	return &Machine{
		st: Status{
			UnitID:     unit.ID,
			Kind:       unit.SourceKind,
			SourceName: unit.SourceName,
			State:      model.StatePending,
			Stage:      unit.Stage,
			Progress:   clamp(unit.Progress),
			Message:    unit.Message,
			CreatedAt:  created,
			UpdatedAt:  now,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Apply folds one progress report into the unit.
//
// Completion wins over an error stage when both are reported, matching what
// the service's own UI shows. A lower progress value than the one already
// shown is kept out of the display while stage and message still update.
func (m *Machine) Apply(r model.ProgressReport) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.State.Terminal() {
		return Transition{}, ErrTerminal
	}
	from := m.st.State
	raw := clamp(r.Progress)

	if r.Stage != "" {
		m.st.Stage = r.Stage
	}
	m.st.Message = r.Message

	switch {
	case r.IsCompleted():
		m.st.State = model.StateCompleted
		m.st.Progress = 100
	case r.IsError():
		m.st.State = model.StateFailed
		if raw > m.st.Progress {
			m.st.Progress = raw
		}
	default:
		m.st.State = model.StatePolling
		if raw < m.st.Progress {
			m.st.Anomalies++
		} else {
			m.st.Progress = raw
		}
	}
	m.st.UpdatedAt = m.now()
	return Transition{From: from, To: m.st.State, Status: m.st}, nil
}

// Fail moves the unit to the failed state with msg as its message.
func (m *Machine) Fail(msg string) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.State.Terminal() {
		return Transition{}, ErrTerminal
	}
	from := m.st.State
	m.st.State = model.StateFailed
	m.st.Message = msg
	m.st.UpdatedAt = m.now()
	return Transition{From: from, To: m.st.State, Status: m.st}, nil
}

// Snapshot returns a copy of the current status.
func (m *Machine) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Board keeps the machines of every unit the process has tracked.
type Board struct {
	mu       sync.RWMutex
	machines map[string]*Machine
}

// NewBoard returns an empty Board.
func NewBoard() *Board {
	return &Board{machines: make(map[string]*Machine)}
}

// Put registers m under its unit id, replacing any previous machine.
func (b *Board) Put(m *Machine) {
	id := m.Snapshot().UnitID
	b.mu.Lock()
	defer b.mu.Unlock()
	b.machines[id] = m
}

// Get returns the machine of a unit.
func (b *Board) Get(id string) (*Machine, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.machines[id]
	return m, ok
}

// Remove forgets a unit.
func (b *Board) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.machines, id)
}

// Snapshot lists every unit, oldest first.
func (b *Board) Snapshot() []Status {
	b.mu.RLock()
	out := make([]Status, 0, len(b.machines))
	for _, m := range b.machines {
		out = append(out, m.Snapshot())
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UnitID < out[j].UnitID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Active counts units that are not terminal.
func (b *Board) Active() int {
	n := 0
	for _, s := range b.Snapshot() {
		if !s.State.Terminal() {
			n++
		}
	}
	return n
}
