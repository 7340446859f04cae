// Package queue defines the background tasks raised by the client.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/notely/internal/model"
)

const (
	// UnitCompletedTask is scheduled each time a unit of work completes.
	UnitCompletedTask = "unit:completed"

	maxRetry = 5
)

// CompletedPayload tells the worker which source to build notes for.
type CompletedPayload struct {
	UnitID     string           `json:"unit_id"`
	SourceKind model.SourceKind `json:"source_kind"`
	SourceName string           `json:"source_name"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewCompletedTask builds the task for payload. The task id is derived from
// the unit id so a unit is only queued once.
func NewCompletedTask(payload CompletedPayload) (*asynq.Task, []asynq.Option, error) {
	if payload.UnitID == "" {
		return nil, nil, errors.New("completed task: unit id is required")
	}
	if _, err := model.ParseSourceKind(string(payload.SourceKind)); err != nil {
		return nil, nil, fmt.Errorf("completed task: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(UnitCompletedTask + ":" + payload.UnitID),
	}
	return asynq.NewTask(UnitCompletedTask, data), opts, nil
}

// EnqueueCompleted enqueues a completion task. Enqueueing the same unit twice
// is not an error.
func EnqueueCompleted(ctx context.Context, client Enqueuer, payload CompletedPayload) error {
	task, opts, err := NewCompletedTask(payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue completed task: %w", err)
	}
	return nil
}

// ParseCompleted decodes the payload of a completion task.
func ParseCompleted(task *asynq.Task) (CompletedPayload, error) {
	var payload CompletedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CompletedPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if payload.UnitID == "" {
		return CompletedPayload{}, errors.New("decode payload: missing unit id")
	}
	return payload, nil
}
