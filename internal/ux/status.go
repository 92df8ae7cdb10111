package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jorge-barreto/docgen/internal/config"
	"github.com/jorge-barreto/docgen/internal/state"
	"github.com/jorge-barreto/docgen/internal/status"
	"github.com/jorge-barreto/docgen/internal/version"
)

func styleFor(st string) lipgloss.Style {
	switch st {
	case state.StatusCompleted:
		return Success
	case state.StatusFailed:
		return Failure
	case state.StatusGenerating, state.StatusPaused:
		return Warning
	}
	return Dim
}

// RenderStatus prints the checkpointed run: one row per configured
// document with status, attempts, active version and duration.
func RenderStatus(cfg *config.Config, st *state.RunState, timing *state.Timing) {
	fmt.Fprintf(Out, "%s  %s\n", Bold.Render("Project:"), cfg.Name)
	if st.RunID != "" {
		fmt.Fprintf(Out, "%s   %s\n", Bold.Render("Run:"), Dim.Render(st.RunID))
	}
	done := 0
	for _, d := range st.Documents {
		if d.Status == state.StatusCompleted {
			done++
		}
	}
	total := len(cfg.Documents)
	fmt.Fprintf(Out, "%s %s  %d/%d (%d%%)\n", Bold.Render("State:"),
		styleFor(st.Status).Render(st.Status), done, total, status.Progress(done, total))
	if st.Reason != "" {
		fmt.Fprintf(Out, "%s %s\n", Bold.Render("Reason:"), st.Reason)
	}

	fmt.Fprintf(Out, "\n%s\n", Bold.Render("Documents:"))
	idW := 2
	for _, d := range cfg.Documents {
		idW = max(idW, lipgloss.Width(d.ID))
	}
	for i, d := range cfg.Documents {
		ds := st.Doc(d.ID)
		stText, attempts, active := "pending", 0, ""
		if ds != nil {
			stText = ds.Status
			attempts = ds.Attempts
			if ds.Active > 0 {
				active = fmt.Sprintf("v%d", ds.Active)
			}
		}
		dur := ""
		if timing != nil {
			if e, ok := timing.Last(d.ID); ok && e.Duration != "" {
				dur = "(" + e.Duration + ")"
			}
		}
		row := fmt.Sprintf("  %s  %-*s  %s  %-4s %s",
			Dim.Render(fmt.Sprintf("%d", i+1)),
			idW, d.ID,
			styleFor(stText).Render(fmt.Sprintf("%-10s", stText)),
			active, Dim.Render(dur))
		if attempts > 1 {
			row += Dim.Render(fmt.Sprintf(" %d attempts", attempts))
		}
		fmt.Fprintln(Out, strings.TrimRight(row, " "))
		if ds != nil && ds.LastError != "" && ds.Status == state.StatusFailed {
			fmt.Fprintf(Out, "     %s\n", Failure.Render(ds.LastError))
		}
	}
	if timing != nil {
		if t := timing.Total(); t > 0 {
			fmt.Fprintf(Out, "\n%s %s\n", Bold.Render("Total time:"), formatDuration(t))
		}
	}
	fmt.Fprintln(Out)
}

// RenderHistory lists a document's versions, marking the active one.
func RenderHistory(doc string, versions []version.Version, active int) {
	if len(versions) == 0 {
		fmt.Fprintf(Out, "%s has no versions\n", doc)
		return
	}
	fmt.Fprintf(Out, "%s\n", Title.Render(doc))
	for _, v := range versions {
		marker := "  "
		if v.Sequence == active {
			marker = Accent.Render("→") + " "
		}
		hash := v.ContentHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(Out, "%sv%-3d %s  %s  %d bytes\n", marker, v.Sequence,
			Dim.Render(v.CreatedAt.Local().Format("2006-01-02 15:04:05")), hash, len(v.Content))
	}
}
