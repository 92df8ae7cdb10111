// Package pipeline drives document generation: the Executor runs one
// document's attempts and the Orchestrator schedules documents in
// dependency order under the run state machine.
package pipeline

import (
	"errors"
	"time"

	"github.com/jorge-barreto/docgen/internal/failure"
	"github.com/jorge-barreto/docgen/internal/registry"
	"github.com/jorge-barreto/docgen/internal/version"
)

// RunStatus is the run-level state.
type RunStatus string

const (
	Ready      RunStatus = "READY"
	Generating RunStatus = "GENERATING"
	Paused     RunStatus = "PAUSED"
	Completed  RunStatus = "COMPLETED"
	Failed     RunStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool { return s == Completed || s == Failed }

// DocStatus is the per-document state.
type DocStatus string

const (
	DocPending    DocStatus = "pending"
	DocGenerating DocStatus = "generating"
	DocCompleted  DocStatus = "completed"
	DocFailed     DocStatus = "failed"
)

var (
	// ErrInvalidTransition is returned by commands issued in the wrong state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPaused is the cancellation cause of an attempt aborted by pause.
	ErrPaused = errors.New("paused")
	// ErrCancelled is the cancellation cause of an attempt aborted by cancel.
	ErrCancelled = errors.New("cancelled")
)

// DocumentInstance is one document's progress within a run.
type DocumentInstance struct {
	Spec      registry.DocumentSpec
	Status    DocStatus
	Attempts  int
	LastError string
	ErrorKind failure.Kind
	Versions  []version.Version

	// hint carries the last validation hint into the next attempt.
	hint string
}

// Err rebuilds the document's failure from LastError and ErrorKind.
func (d DocumentInstance) Err() error {
	if d.LastError == "" {
		return nil
	}
	return &failure.Error{Kind: d.ErrorKind, Document: d.Spec.ID, Err: errors.New(d.LastError)}
}

func (d DocumentInstance) clone() DocumentInstance {
	d.Versions = append([]version.Version(nil), d.Versions...)
	return d
}

// Run is a copy of the run state. The Orchestrator never hands out its own.
type Run struct {
	ID              string
	ProjectID       string
	Documents       []DocumentInstance
	Status          RunStatus
	PauseRequested  bool
	CancelRequested bool
	Reason          string
	FailedDocument  string
	CurrentDocument string
	StartedAt       time.Time
	FinishedAt      time.Time
}

func (r Run) clone() Run {
	docs := make([]DocumentInstance, len(r.Documents))
	for i, d := range r.Documents {
		docs[i] = d.clone()
	}
	r.Documents = docs
	return r
}

// Completed counts completed documents.
func (r Run) Completed() int {
	n := 0
	for _, d := range r.Documents {
		if d.Status == DocCompleted {
			n++
		}
	}
	return n
}

// Doc returns the instance for id.
func (r Run) Doc(id string) (DocumentInstance, bool) {
	for _, d := range r.Documents {
		if d.Spec.ID == id {
			return d, true
		}
	}
	return DocumentInstance{}, false
}
