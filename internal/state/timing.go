package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type TimingEntry struct {
	Document string    `json:"document"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	Duration string    `json:"duration,omitempty"`
}

// Timing records when each document started and finished generating.
// Safe for concurrent use.
type Timing struct {
	mu      sync.Mutex
	now     func() time.Time
	Entries []TimingEntry `json:"entries"`
}

func timingPath(stateDir string) string {
	return filepath.Join(stateDir, "timing.json")
}

// LoadTiming reads timing data from stateDir.
func LoadTiming(stateDir string) (*Timing, error) {
	data, err := os.ReadFile(timingPath(stateDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Timing{}, nil
		}
		return nil, err
	}
	var t Timing
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Timing) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// AddStart appends a new entry for doc.
func (t *Timing) AddStart(doc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Entries = append(t.Entries, TimingEntry{Document: doc, Start: t.clock()})
}

// AddEnd closes the most recent open entry for doc.
func (t *Timing) AddEnd(doc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Document == doc && t.Entries[i].End.IsZero() {
			t.Entries[i].End = t.clock()
			t.Entries[i].Duration = formatDuration(t.Entries[i].End.Sub(t.Entries[i].Start))
			break
		}
	}
}

// Last returns the most recent entry for doc.
func (t *Timing) Last(doc string) (TimingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Document == doc {
			return t.Entries[i], true
		}
	}
	return TimingEntry{}, false
}

// Total sums the durations of all closed entries.
func (t *Timing) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var d time.Duration
	for _, e := range t.Entries {
		if !e.End.IsZero() {
			d += e.End.Sub(e.Start)
		}
	}
	return d
}

// Flush writes the in-memory timing data to disk.
func (t *Timing) Flush(stateDir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(timingPath(stateDir), data, 0644)
}

// FormatDuration renders d as "3m 07s".
func FormatDuration(d time.Duration) string { return formatDuration(d) }

func formatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}
