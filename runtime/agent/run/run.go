// Package run defines the lifecycle of an agent run as seen by a client.
//
// A run is one execution of an agent against a thread and is identified by
// the pair (ThreadID, RunID). Resuming an interrupted run reopens the stream
// for the same pair; it never creates a new run.
//
//	idle → streaming → interrupted → streaming → … → finished | errored
//
// finished and errored are terminal.
package run

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Load when no record matches.
var ErrNotFound = errors.New("run not found")

type (
	// Status is the lifecycle state of a run.
	Status string

	// Key identifies a run.
	Key struct {
		ThreadID string
		RunID    string
	}

	// Record is the persisted metadata of a run.
	Record struct {
		ThreadID string
		RunID    string
		Status   Status
		// PendingInterruptID is the id of the outstanding interrupt while the
		// run is interrupted.
		PendingInterruptID string
		// PendingReason is the reason of the outstanding interrupt.
		PendingReason string
		// Attempts counts the streams opened for the run: the initial request
		// plus one per resume.
		Attempts int
		// Error describes why an errored run failed.
		Error     string
		StartedAt time.Time
		UpdatedAt time.Time
		// Labels stores caller-provided labels.
		Labels map[string]string
	}

	// Store persists run records.
	Store interface {
		// Upsert inserts or replaces the record keyed by (ThreadID, RunID).
		// A zero StartedAt keeps the stored value.
		Upsert(ctx context.Context, record Record) error
		// Load returns the record of a run or ErrNotFound.
		Load(ctx context.Context, threadID, runID string) (Record, error)
		// ListThread returns the records of a thread, oldest first.
		ListThread(ctx context.Context, threadID string) ([]Record, error)
	}
)

const (
	// StatusIdle indicates no request has been sent yet.
	StatusIdle Status = "idle"
	// StatusStreaming indicates events are being received and applied.
	StatusStreaming Status = "streaming"
	// StatusInterrupted indicates the run is paused on an interrupt.
	StatusInterrupted Status = "interrupted"
	// StatusFinished indicates the run completed.
	StatusFinished Status = "finished"
	// StatusErrored indicates the run failed or was aborted.
	StatusErrored Status = "errored"
)

// Key returns the identity of r.
func (r Record) Key() Key { return Key{ThreadID: r.ThreadID, RunID: r.RunID} }

// Terminal reports whether s is finished or errored.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusErrored
}

// CanTransition reports whether a run may move from one status to another.
// Any non-terminal run may error (abort, protocol violation).
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusErrored {
		return true
	}
	switch from {
	case StatusIdle:
		return to == StatusStreaming
	case StatusStreaming:
		return to == StatusInterrupted || to == StatusFinished
	case StatusInterrupted:
		return to == StatusStreaming
	}
	return false
}
