package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDir is where run.json, timing.json and the control file live.
func StateDir(workDir string) string {
	return filepath.Join(workDir, "state")
}

// LogDir holds docgen.log and the per-document provider logs.
func LogDir(workDir string) string {
	return filepath.Join(workDir, "logs")
}

// EnsureDir creates the working directory structure.
func EnsureDir(workDir string) error {
	dirs := []string{
		workDir,
		StateDir(workDir),
		LogDir(workDir),
		filepath.Join(workDir, "rendered"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// PromptPath returns the path for a document's last rendered prompt.
func PromptPath(workDir, doc string) string {
	return filepath.Join(workDir, "rendered", doc+".md")
}

// WritePrompt saves the rendered prompt for a document, replacing the
// previous attempt's.
func WritePrompt(workDir, doc, prompt string) error {
	return writeFileAtomic(PromptPath(workDir, doc), []byte(prompt), 0644)
}

// ReadPrompt returns the last rendered prompt for doc, or "" if none.
func ReadPrompt(workDir, doc string) string {
	data, err := os.ReadFile(PromptPath(workDir, doc))
	if err != nil {
		return ""
	}
	return string(data)
}
