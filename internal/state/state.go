// Package state persists the run checkpoint that lets a later `docgen run`
// carry completed documents forward, plus per-document timing and the
// rendered prompts.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Run statuses as persisted. They mirror the pipeline's run states in
// lower case.
const (
	StatusReady      = "ready"
	StatusGenerating = "generating"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	// StatusPending is only used for documents.
	StatusPending = "pending"
)

// DocState is the persisted view of one document.
type DocState struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	// Active is the version sequence later runs bind. 0 means none.
	Active int `json:"active,omitempty"`
}

type RunState struct {
	RunID          string     `json:"run_id"`
	Project        string     `json:"project"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	FailedDocument string     `json:"failed_document,omitempty"`
	Documents      []DocState `json:"documents"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func statePath(stateDir string) string {
	return filepath.Join(stateDir, "run.json")
}

// Load reads the checkpoint from stateDir. Returns an empty ready state if
// none exists.
func Load(stateDir string) (*RunState, error) {
	data, err := os.ReadFile(statePath(stateDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &RunState{Status: StatusReady}, nil
		}
		return nil, err
	}
	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", statePath(stateDir), err)
	}
	return &s, nil
}

// Save writes the checkpoint atomically.
func (s *RunState) Save(stateDir string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(statePath(stateDir), data, 0644)
}

// Doc returns the entry for id, or nil.
func (s *RunState) Doc(id string) *DocState {
	for i := range s.Documents {
		if s.Documents[i].ID == id {
			return &s.Documents[i]
		}
	}
	return nil
}

// Completed maps each completed document to its active version sequence.
func (s *RunState) Completed() map[string]int {
	out := make(map[string]int)
	for _, d := range s.Documents {
		if d.Status == StatusCompleted && d.Active > 0 {
			out[d.ID] = d.Active
		}
	}
	return out
}

// SetActive marks seq as the version later runs bind for id. The document
// becomes completed if it was not.
func (s *RunState) SetActive(id string, seq int) error {
	if seq < 1 {
		return fmt.Errorf("invalid version %d", seq)
	}
	d := s.Doc(id)
	if d == nil {
		s.Documents = append(s.Documents, DocState{ID: id})
		d = &s.Documents[len(s.Documents)-1]
	}
	d.Active = seq
	d.Status = StatusCompleted
	d.LastError = ""
	d.ErrorKind = ""
	return nil
}
