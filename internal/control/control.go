// Package control carries pause, resume and cancel requests from a second
// `docgen` process to the running pipeline through a file in the state
// directory.
package control

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileName is the control file inside the state directory.
const FileName = "control"

type Command string

const (
	Pause  Command = "pause"
	Resume Command = "resume"
	Cancel Command = "cancel"
)

const debounce = 100 * time.Millisecond

// Parse accepts pause, resume or cancel, case-insensitively.
func Parse(s string) (Command, error) {
	switch c := Command(strings.ToLower(strings.TrimSpace(s))); c {
	case Pause, Resume, Cancel:
		return c, nil
	}
	return "", fmt.Errorf("unknown control command %q", s)
}

// Write publishes cmd for the running process. The file is replaced by
// rename so the watcher never reads a partial command.
func Write(stateDir string, cmd Command) error {
	if _, err := Parse(string(cmd)); err != nil {
		return err
	}
	f, err := os.CreateTemp(stateDir, ".control-*")
	if err != nil {
		return fmt.Errorf("writing control file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.WriteString(string(cmd) + "\n"); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing control file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing control file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(stateDir, FileName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing control file: %w", err)
	}
	return nil
}

// Take reads and removes the pending command. ok is false when there is none.
func Take(stateDir string) (Command, bool, error) {
	path := filepath.Join(stateDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", false, err
	}
	cmd, err := Parse(string(data))
	if err != nil {
		return "", false, err
	}
	return cmd, true, nil
}

// Clear drops a stale command left by an earlier run.
func Clear(stateDir string) error {
	err := os.Remove(filepath.Join(stateDir, FileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Watch calls fn for every command written to stateDir until ctx is done.
// Rapid writes are debounced; only the last command in a burst is seen.
// Unreadable commands are passed to onErr, which may be nil.
func Watch(ctx context.Context, stateDir string, fn func(Command), onErr func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating control watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(stateDir); err != nil {
		return fmt.Errorf("watching %s: %w", stateDir, err)
	}
	report := func(err error) {
		if onErr != nil {
			onErr(err)
		}
	}

	timer := time.NewTimer(0)
	<-timer.C

	// a command written before the watch was registered
	if _, err := os.Stat(filepath.Join(stateDir, FileName)); err == nil {
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != FileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(debounce)
		case <-timer.C:
			cmd, ok, err := Take(stateDir)
			if err != nil {
				report(err)
				continue
			}
			if ok {
				fn(cmd)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(err)
		}
	}
}
