// Package ux renders terminal output for the CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	green  = lipgloss.Color("#10B981")
	red    = lipgloss.Color("#F87171")
	amber  = lipgloss.Color("#F59E0B")
	cyan   = lipgloss.Color("#22D3EE")
	muted  = lipgloss.Color("#9CA3AF")
	violet = lipgloss.Color("#A78BFA")

	Bold    = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Foreground(muted)
	Success = lipgloss.NewStyle().Foreground(green)
	Failure = lipgloss.NewStyle().Foreground(red)
	Warning = lipgloss.NewStyle().Foreground(amber)
	Accent  = lipgloss.NewStyle().Foreground(cyan)
	Title   = lipgloss.NewStyle().Bold(true).Foreground(violet)
)

// Out and Err are where output goes. Tests replace them.
var (
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

// now is replaced in tests.
var now = time.Now

func timestamp() string {
	return Dim.Render("[" + now().Format("15:04:05") + "]")
}

const rule = "══════════════════════════════════════"

// DocumentHeader prints a timestamped header for the document about to run.
func DocumentHeader(index, total int, id, title string) {
	fmt.Fprintf(Out, "\n%s %s\n", timestamp(), Accent.Render(rule))
	name := title
	if title != id {
		name = fmt.Sprintf("%s (%s)", title, id)
	}
	fmt.Fprintf(Out, "%s  %s\n", timestamp(), Bold.Render(fmt.Sprintf("Document %d/%d: %s", index+1, total, name)))
	fmt.Fprintf(Out, "%s %s\n", timestamp(), Accent.Render(rule))
}

// DocumentComplete prints a completion line with the committed version.
func DocumentComplete(title string, seq int, d time.Duration) {
	fmt.Fprintf(Out, "%s  %s\n", timestamp(),
		Success.Render(fmt.Sprintf("✓ %s complete, version %d (%s)", title, seq, formatDuration(d))))
}

// DocumentFail prints a failure line.
func DocumentFail(title string, attempts int, errMsg string) {
	fmt.Fprintf(Out, "%s  %s\n", timestamp(),
		Failure.Render(fmt.Sprintf("✗ %s failed after %d attempt(s): %s", title, attempts, errMsg)))
}

// Blocked prints a document that will not run because a dependency failed.
func Blocked(title, dep string) {
	fmt.Fprintf(Out, "%s  %s\n", timestamp(),
		Dim.Render(fmt.Sprintf("– %s blocked by failed dependency %s", title, dep)))
}

// Retry prints a retry notice.
func Retry(title string, attempt, limit int, errMsg string, delay time.Duration) {
	fmt.Fprintf(Out, "%s  %s\n", timestamp(),
		Warning.Render(fmt.Sprintf("↺ %s attempt %d/%d failed: %s (retrying in %s)", title, attempt, limit, errMsg, delay)))
}

// Rejected prints a validation rejection.
func Rejected(title, reason string) {
	fmt.Fprintf(Out, "%s  %s\n", timestamp(),
		Warning.Render(fmt.Sprintf("⚠ %s rejected: %s", title, reason)))
}

// Interrupted prints a document aborted by pause.
func Interrupted(title string) {
	fmt.Fprintf(Out, "%s  %s\n", timestamp(),
		Warning.Render(fmt.Sprintf("‖ %s interrupted; it restarts on resume", title)))
}

// Carried lists documents reused from the previous run.
func Carried(ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(Out, "%s  %s\n", timestamp(),
		Dim.Render("reusing completed: "+strings.Join(ids, ", ")))
}

// ResumeHint prints how to continue a failed or cancelled run.
func ResumeHint() {
	fmt.Fprintf(Out, "\n%s docgen run\n", Warning.Render("Resume:"))
}

// Done prints the final success banner.
func Done(total int, d time.Duration) {
	fmt.Fprintf(Out, "\n%s  %s\n\n", timestamp(),
		Bold.Inherit(Success).Render(fmt.Sprintf("══ All %d documents complete (%s) ══", total, formatDuration(d))))
}

// Errorf prints an error line to Err.
func Errorf(format string, args ...any) {
	fmt.Fprintf(Err, "%s %s\n", Failure.Render("error:"), fmt.Sprintf(format, args...))
}

// Warnf prints a warning line to Err.
func Warnf(format string, args ...any) {
	fmt.Fprintf(Err, "%s %s\n", Warning.Render("warning:"), fmt.Sprintf(format, args...))
}

func formatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}
