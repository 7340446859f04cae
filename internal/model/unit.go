// Package model contains simple struct definitions shared across packages.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// SourceKind identifies which pipeline a unit of work was submitted to. The
// named string type keeps kinds from being mixed up with free-form stages.
type SourceKind string

const (
	SourceVideo    SourceKind = "video"
	SourceDocument SourceKind = "document"
)

// ParseSourceKind accepts the user-facing spelling of a kind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(strings.ToLower(strings.TrimSpace(s))) {
	case SourceVideo:
		return SourceVideo, nil
	case SourceDocument:
		return SourceDocument, nil
	}
	return "", fmt.Errorf("unknown source kind %q (want video or document)", s)
}

// State is the canonical lifecycle of a unit as seen by the client.
type State string

const (
	StatePending   State = "pending"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions may happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Backend stage strings with special meaning. Every other stage ("uploading",
// "transcribing", "embedding", ...) is displayed verbatim.
const (
	StageCompleted = "completed"
	StageError     = "error"
)

// UnitOfWork is one submitted video or document job.
type UnitOfWork struct {
	ID         string     `json:"id"`
	SourceKind SourceKind `json:"sourceKind"`
	SourceName string     `json:"sourceName"`
	State      State      `json:"state"`
	Stage      string     `json:"stage"`
	Progress   int        `json:"progress"`
	Message    string     `json:"message,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ProgressReport is the payload returned by the progress endpoints.
type ProgressReport struct {
	Progress int    `json:"progress"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
}

// UnmarshalJSON accepts fractional progress values and rounds them down.
func (r *ProgressReport) UnmarshalJSON(data []byte) error {
	type plain ProgressReport
	aux := struct {
		*plain
		Progress *float64 `json:"progress"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Progress != nil {
		r.Progress = int(math.Floor(*aux.Progress))
	}
	return nil
}

// IsCompleted reports whether the backend considers the unit done.
func (r ProgressReport) IsCompleted() bool {
	return r.Progress >= 100 || r.Stage == StageCompleted
}

// IsError reports whether the backend gave up on the unit.
func (r ProgressReport) IsError() bool {
	return r.Stage == StageError
}

// LegacyJobStatus is the older discrete status view of a video job. It carries
// no stage and is not mapped onto State; callers display it as-is.
type LegacyJobStatus struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress *int   `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}

// UnmarshalJSON accepts fractional progress values and rounds them down.
func (s *LegacyJobStatus) UnmarshalJSON(data []byte) error {
	type plain LegacyJobStatus
	aux := struct {
		*plain
		Progress *float64 `json:"progress"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Progress != nil {
		p := int(math.Floor(*aux.Progress))
		s.Progress = &p
	}
	return nil
}
