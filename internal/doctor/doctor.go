// Package doctor asks the configured provider to explain why the last run
// failed.
package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jorge-barreto/docgen/internal/config"
	"github.com/jorge-barreto/docgen/internal/provider"
	"github.com/jorge-barreto/docgen/internal/state"
	"github.com/jorge-barreto/docgen/internal/ux"
)

const maxLogLines = 200

const diagPrompt = `You are diagnosing a failed docgen document generation run. Analyze the context below and provide a concise diagnosis.

## Failed Document Config
%s

## Run State
%s

## Provider Log Output (last %d lines)
%s
%s%s
Instructions:
1. Identify what went wrong from the error and the log output.
2. Classify this as a CONFIGURATION problem (provider, credentials, prompt template, validation rules) or a PROVIDER problem (outages, rate limits, content the model produced).
3. Suggest specific fixes.
4. Recommend the next command to run:
   - docgen run               (retry; completed documents are kept)
   - docgen run --fresh       (regenerate everything)
   - Fix the underlying issue first, then retry

Be direct and concise. Focus on actionable advice.`

// Run gathers the failed document's context from the working directory and
// writes the provider's diagnosis to w.
func Run(ctx context.Context, workDir string, cfg *config.Config, st *state.RunState, gw provider.Gateway, w io.Writer) error {
	if st.Status != state.StatusFailed {
		fmt.Fprintln(w, "No failed run to diagnose.")
		return nil
	}
	docID := failedDocument(st)
	if docID == "" {
		if st.Reason == "cancelled" {
			fmt.Fprintln(w, "The run was cancelled; nothing failed.")
			return nil
		}
		return fmt.Errorf("checkpoint records a failed run but no failed document")
	}
	idx := cfg.DocumentIndex(docID)
	if idx < 0 {
		return fmt.Errorf("document %q is no longer in the config", docID)
	}
	doc := cfg.Documents[idx]

	text := buildPrompt(
		gatherDocumentConfig(doc, cfg.Provider),
		gatherRunState(st, docID),
		gatherLog(state.LogDir(workDir), docID),
		state.ReadPrompt(workDir, docID),
		gatherTiming(state.StateDir(workDir), docID),
	)

	fmt.Fprintf(w, "\n%s\n\n", ux.Title.Render(fmt.Sprintf("══ Doctor: diagnosing %s (%d/%d) ══", docID, idx+1, len(cfg.Documents))))

	resp, err := gw.Generate(ctx, provider.Request{
		Document: "doctor",
		Prompt:   text,
		Params:   provider.ParamsFrom(cfg.Provider),
	})
	if err != nil {
		return fmt.Errorf("asking provider for a diagnosis: %w", err)
	}
	fmt.Fprintln(w, strings.TrimSpace(resp.Text))
	fmt.Fprintln(w)
	return nil
}

func failedDocument(st *state.RunState) string {
	if st.FailedDocument != "" {
		return st.FailedDocument
	}
	for _, d := range st.Documents {
		if d.Status == state.StatusFailed && d.ErrorKind != "blocked_by_dependency" && d.ErrorKind != "cancelled" {
			return d.ID
		}
	}
	return ""
}

func buildPrompt(docConfig, runState, log, prompt, timing string) string {
	var promptSection, timingSection string
	if prompt != "" {
		promptSection = fmt.Sprintf("\n## Rendered Prompt (last attempt)\n%s\n", prompt)
	}
	if timing != "" {
		timingSection = fmt.Sprintf("\n## Timing\n%s\n", timing)
	}
	return fmt.Sprintf(diagPrompt, docConfig, runState, maxLogLines, log, promptSection, timingSection)
}

func gatherDocumentConfig(doc config.Document, p config.Provider) string {
	parts := []string{fmt.Sprintf("ID: %s", doc.ID)}
	if doc.Title != "" && doc.Title != doc.ID {
		parts = append(parts, fmt.Sprintf("Title: %s", doc.Title))
	}
	parts = append(parts, fmt.Sprintf("Prompt file: %s", doc.Prompt))
	if len(doc.DependsOn) > 0 {
		parts = append(parts, fmt.Sprintf("Depends on: %s", strings.Join(doc.DependsOn, ", ")))
	}
	if doc.Output != "" && doc.Output != doc.ID {
		parts = append(parts, fmt.Sprintf("Output variable: %s", doc.Output))
	}
	if doc.Validate.MinLength > 0 {
		parts = append(parts, fmt.Sprintf("Min length: %d", doc.Validate.MinLength))
	}
	if len(doc.Validate.RequiredHeadings) > 0 {
		parts = append(parts, fmt.Sprintf("Required headings: %s", strings.Join(doc.Validate.RequiredHeadings, ", ")))
	}
	parts = append(parts, fmt.Sprintf("Provider: %s", p.Kind))
	if p.Model != "" {
		parts = append(parts, fmt.Sprintf("Model: %s", p.Model))
	}
	return strings.Join(parts, "\n")
}

func gatherRunState(st *state.RunState, docID string) string {
	var parts []string
	if st.Reason != "" {
		parts = append(parts, fmt.Sprintf("Reason: %s", st.Reason))
	}
	if d := st.Doc(docID); d != nil {
		parts = append(parts, fmt.Sprintf("Attempts: %d", d.Attempts))
		if d.ErrorKind != "" {
			parts = append(parts, fmt.Sprintf("Error kind: %s", d.ErrorKind))
		}
		if d.LastError != "" {
			parts = append(parts, fmt.Sprintf("Last error: %s", d.LastError))
		}
	}
	var blocked []string
	for _, d := range st.Documents {
		if d.ErrorKind == "blocked_by_dependency" {
			blocked = append(blocked, d.ID)
		}
	}
	if len(blocked) > 0 {
		parts = append(parts, fmt.Sprintf("Blocked documents: %s", strings.Join(blocked, ", ")))
	}
	return strings.Join(parts, "\n")
}

func gatherLog(logDir, docID string) string {
	data, err := os.ReadFile(provider.LogPath(logDir, docID))
	if err != nil {
		return "(no log file found)"
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
		return fmt.Sprintf("... (truncated to last %d lines)\n%s", maxLogLines, strings.Join(lines, "\n"))
	}
	return string(data)
}

func gatherTiming(stateDir, docID string) string {
	timing, err := state.LoadTiming(stateDir)
	if err != nil {
		return ""
	}
	var parts []string
	for _, e := range timing.Entries {
		if e.Document != docID {
			continue
		}
		if e.Duration != "" {
			parts = append(parts, fmt.Sprintf("started %s, duration %s", e.Start.Format("15:04:05"), e.Duration))
		} else {
			parts = append(parts, fmt.Sprintf("started %s (did not complete)", e.Start.Format("15:04:05")))
		}
	}
	return strings.Join(parts, "; ")
}
