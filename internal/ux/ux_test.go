package ux

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jorge-barreto/docgen/internal/config"
	"github.com/jorge-barreto/docgen/internal/state"
	"github.com/jorge-barreto/docgen/internal/version"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldErr, oldNow := Out, Err, now
	Out, Err = &buf, &buf
	now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local) }
	t.Cleanup(func() { Out, Err, now = oldOut, oldErr, oldNow })
	return &buf
}

func TestDocumentLines(t *testing.T) {
	buf := capture(t)
	DocumentHeader(0, 3, "requirements", "Requirements")
	DocumentComplete("Requirements", 2, 75*time.Second)
	Retry("Plan", 1, 3, "503", 2*time.Second)
	DocumentFail("Plan", 3, "503")
	out := buf.String()
	for _, want := range []string{
		"[09:30:00]",
		"Document 1/3: Requirements (requirements)",
		"Requirements complete, version 2 (1m 15s)",
		"Plan attempt 1/3 failed: 503 (retrying in 2s)",
		"Plan failed after 3 attempt(s): 503",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestErrorf(t *testing.T) {
	buf := capture(t)
	Errorf("config: %s", "bad")
	if !strings.Contains(buf.String(), "error:") || !strings.Contains(buf.String(), "config: bad") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestRenderStatus(t *testing.T) {
	buf := capture(t)
	cfg := &config.Config{Name: "Acme", Documents: []config.Document{
		{ID: "requirements"}, {ID: "architecture"}, {ID: "plan"},
	}}
	st := &state.RunState{
		RunID:  "r-1",
		Status: state.StatusFailed,
		Reason: "document architecture failed after 3 attempt(s): 503",
		Documents: []state.DocState{
			{ID: "requirements", Status: state.StatusCompleted, Attempts: 1, Active: 1},
			{ID: "architecture", Status: state.StatusFailed, Attempts: 3, LastError: "503"},
		},
	}
	RenderStatus(cfg, st, &state.Timing{Entries: []state.TimingEntry{{Document: "requirements", Duration: "0m 42s"}}})
	out := buf.String()
	for _, want := range []string{"Acme", "failed", "1/3 (33%)", "requirements", "v1", "(0m 42s)", "3 attempts", "503", "plan"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status missing %q:\n%s", want, out)
		}
	}
}

func TestRenderHistory(t *testing.T) {
	buf := capture(t)
	vs := []version.Version{
		{Document: "plan", Sequence: 1, Content: "one", ContentHash: version.Hash("one"), CreatedAt: time.Now()},
		{Document: "plan", Sequence: 2, Content: "two!", ContentHash: version.Hash("two!"), CreatedAt: time.Now()},
	}
	RenderHistory("plan", vs, 1)
	out := buf.String()
	if !strings.Contains(out, "v1") || !strings.Contains(out, "v2") || !strings.Contains(out, "4 bytes") {
		t.Fatalf("history:\n%s", out)
	}
	if !strings.Contains(out, "→ v1") {
		t.Fatalf("active marker missing:\n%s", out)
	}
}
