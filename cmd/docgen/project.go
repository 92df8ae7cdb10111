package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/jorge-barreto/docgen/internal/config"
	"github.com/jorge-barreto/docgen/internal/failure"
	"github.com/jorge-barreto/docgen/internal/pipeline"
	"github.com/jorge-barreto/docgen/internal/scaffold"
	"github.com/jorge-barreto/docgen/internal/state"
	"github.com/jorge-barreto/docgen/internal/version"
)

var configNames = []string{"config.yaml", "config.toml"}

// project is a loaded config plus the directories derived from it.
type project struct {
	root string // prompt paths are relative to this
	work string // <root>/.docgen
	cfg  *config.Config
}

func (p *project) stateDir() string { return state.StateDir(p.work) }

func loadProject(cmd *cli.Command) (*project, error) {
	path := cmd.String("config")
	var root string
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		path = abs
		root = filepath.Dir(abs)
		if filepath.Base(root) == scaffold.Dir {
			root = filepath.Dir(root)
		}
	} else {
		var err error
		root, path, err = findProjectRoot()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path, root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &project{root: root, work: filepath.Join(root, scaffold.Dir), cfg: cfg}, nil
}

// findProjectRoot walks up from cwd looking for .docgen/config.yaml (or
// .toml) and returns the directory holding .docgen plus the config path.
func findProjectRoot() (string, string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	for {
		for _, name := range configNames {
			configPath := filepath.Join(dir, scaffold.Dir, name)
			if _, err := os.Stat(configPath); err == nil {
				return dir, configPath, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("no %s/config.yaml found (searched from cwd to root)", scaffold.Dir)
		}
		dir = parent
	}
}

// openStore builds the version store the config selects. The returned
// close func is never nil.
func openStore(ctx context.Context, root string, s config.Store) (version.Store, func(), error) {
	noop := func() {}
	switch s.Kind {
	case config.StoreMemory:
		return version.NewMemoryStore(), noop, nil
	case config.StoreFile:
		dir := s.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		fs, err := version.NewFileStore(dir)
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	case config.StorePostgres:
		pg, err := version.OpenPostgres(ctx, version.PostgresConfig{
			URL:          s.DatabaseURL,
			Table:        s.Table,
			PingTimeout:  5 * time.Second,
			MaxOpenConns: 4,
		})
		if err != nil {
			return nil, noop, err
		}
		return pg, func() { _ = pg.Close() }, nil
	case config.StoreS3:
		obj, err := version.OpenObjectStore(ctx, version.ObjectConfig{
			Endpoint:  s.Endpoint,
			AccessKey: os.Getenv(s.AccessKeyEnv),
			SecretKey: os.Getenv(s.SecretKeyEnv),
			Region:    s.Region,
			UseSSL:    s.UseSSL,
			Bucket:    s.Bucket,
			Prefix:    s.Prefix,
		})
		if err != nil {
			return nil, noop, err
		}
		return obj, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown store kind %q", s.Kind)
}

// checkpoint converts a run into its persisted form. A document's active
// version is the last one it holds in this run.
func checkpoint(r pipeline.Run) *state.RunState {
	st := &state.RunState{
		RunID:          r.ID,
		Project:        r.ProjectID,
		Status:         lower(r.Status),
		Reason:         r.Reason,
		FailedDocument: r.FailedDocument,
		Documents:      make([]state.DocState, 0, len(r.Documents)),
		UpdatedAt:      time.Now().UTC(),
	}
	for _, d := range r.Documents {
		ds := state.DocState{
			ID:        d.Spec.ID,
			Status:    string(d.Status),
			Attempts:  d.Attempts,
			LastError: d.LastError,
		}
		if d.LastError != "" && d.ErrorKind != failure.Unknown {
			ds.ErrorKind = d.ErrorKind.String()
		}
		if n := len(d.Versions); n > 0 {
			ds.Active = d.Versions[n-1].Sequence
		}
		st.Documents = append(st.Documents, ds)
	}
	return st
}

func lower(s pipeline.RunStatus) string {
	switch s {
	case pipeline.Ready:
		return state.StatusReady
	case pipeline.Generating:
		return state.StatusGenerating
	case pipeline.Paused:
		return state.StatusPaused
	case pipeline.Completed:
		return state.StatusCompleted
	}
	return state.StatusFailed
}

// carriedVersions loads the active version of every document the checkpoint
// lists as completed. Versions that can no longer be read are skipped and
// their documents regenerate.
func carriedVersions(ctx context.Context, store version.Store, st *state.RunState, known func(string) bool) (map[string]version.Version, []error) {
	out := make(map[string]version.Version)
	var errs []error
	for id, seq := range st.Completed() {
		if !known(id) {
			continue
		}
		v, err := store.Get(ctx, id, seq)
		if err == nil {
			err = version.Verify(v)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s version %d: %w", id, seq, err))
			continue
		}
		out[id] = v
	}
	return out, errs
}
