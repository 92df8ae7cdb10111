package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	cli "github.com/urfave/cli/v3"

	"github.com/jorge-barreto/docgen/internal/control"
	"github.com/jorge-barreto/docgen/internal/doctor"
	"github.com/jorge-barreto/docgen/internal/provider"
	"github.com/jorge-barreto/docgen/internal/state"
	"github.com/jorge-barreto/docgen/internal/ux"
	"github.com/jorge-barreto/docgen/internal/version"
)

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the state of the last run",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(p.stateDir())
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			timing, err := state.LoadTiming(p.stateDir())
			if err != nil {
				return fmt.Errorf("loading timing: %w", err)
			}
			ux.RenderStatus(p.cfg, st, timing)
			return nil
		},
	}
}

// controlCmd sends pause, resume or cancel to the process running the
// pipeline in this project.
func controlCmd(name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := control.Parse(name)
			if err != nil {
				return err
			}
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(p.stateDir())
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			if st.Status != state.StatusGenerating && st.Status != state.StatusPaused {
				return fmt.Errorf("no run in progress (last run is %s)", st.Status)
			}
			if err := control.Write(p.stateDir(), c); err != nil {
				return err
			}
			fmt.Fprintf(ux.Out, "%s sent to run %s\n", ux.Bold.Render(name), st.RunID)
			return nil
		},
	}
}

// withStore loads the project, the checkpoint and the version store.
func withStore(ctx context.Context, cmd *cli.Command, fn func(p *project, st *state.RunState, store version.Store) error) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	st, err := state.Load(p.stateDir())
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	store, closeStore, err := openStore(ctx, p.root, p.cfg.Store)
	if err != nil {
		return fmt.Errorf("opening version store: %w", err)
	}
	defer closeStore()
	return fn(p, st, store)
}

func documentArg(p *project, cmd *cli.Command) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", fmt.Errorf("document argument is required")
	}
	if p.cfg.DocumentIndex(id) < 0 {
		return "", fmt.Errorf("unknown document %q", id)
	}
	return id, nil
}

func seqArg(cmd *cli.Command, i int) (int, error) {
	s := cmd.Args().Get(i)
	if s == "" {
		return 0, fmt.Errorf("version argument %d is required", i)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return n, nil
}

func activeSeq(st *state.RunState, id string) int {
	if d := st.Doc(id); d != nil {
		return d.Active
	}
	return 0
}

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List the versions of a document",
		ArgsUsage: "<doc>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(p *project, st *state.RunState, store version.Store) error {
				id, err := documentArg(p, cmd)
				if err != nil {
					return err
				}
				versions, err := store.History(ctx, id)
				if err != nil {
					return err
				}
				ux.RenderHistory(id, versions, activeSeq(st, id))
				return nil
			})
		},
	}
}

func showCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a version of a document (the active one by default)",
		ArgsUsage: "<doc>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "version", Aliases: []string{"v"}, Usage: "Version sequence to print"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(p *project, st *state.RunState, store version.Store) error {
				id, err := documentArg(p, cmd)
				if err != nil {
					return err
				}
				seq := int(cmd.Int("version"))
				if seq == 0 {
					seq = activeSeq(st, id)
				}
				var v version.Version
				if seq > 0 {
					v, err = store.Get(ctx, id, seq)
				} else {
					var ok bool
					v, ok, err = store.Latest(ctx, id)
					if err == nil && !ok {
						err = fmt.Errorf("%s has no versions yet", id)
					}
				}
				if err != nil {
					return err
				}
				fmt.Fprint(ux.Out, v.Content)
				if n := len(v.Content); n > 0 && v.Content[n-1] != '\n' {
					fmt.Fprintln(ux.Out)
				}
				return nil
			})
		},
	}
}

func diffCmd() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Show a unified diff between two versions of a document",
		ArgsUsage: "<doc> <a> <b>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(p *project, st *state.RunState, store version.Store) error {
				id, err := documentArg(p, cmd)
				if err != nil {
					return err
				}
				a, err := seqArg(cmd, 1)
				if err != nil {
					return err
				}
				b, err := seqArg(cmd, 2)
				if err != nil {
					return err
				}
				va, err := store.Get(ctx, id, a)
				if err != nil {
					return err
				}
				vb, err := store.Get(ctx, id, b)
				if err != nil {
					return err
				}
				fmt.Fprint(ux.Out, version.Diff(va, vb))
				return nil
			})
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Usage:     "Make an older version of a document the one later runs use",
		ArgsUsage: "<doc> <seq>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(p *project, st *state.RunState, store version.Store) error {
				id, err := documentArg(p, cmd)
				if err != nil {
					return err
				}
				seq, err := seqArg(cmd, 1)
				if err != nil {
					return err
				}
				if st.Status == state.StatusGenerating || st.Status == state.StatusPaused {
					return fmt.Errorf("cannot roll back while run %s is %s", st.RunID, st.Status)
				}
				v, err := store.Get(ctx, id, seq)
				if err != nil {
					return err
				}
				if err := version.Verify(v); err != nil {
					return err
				}
				reg, err := p.cfg.Registry(p.root)
				if err != nil {
					return err
				}
				stale, err := rollback(st, reg.Dependents(id), id, seq)
				if err != nil {
					return err
				}
				if err := state.EnsureDir(p.work); err != nil {
					return err
				}
				if err := st.Save(p.stateDir()); err != nil {
					return err
				}
				fmt.Fprintf(ux.Out, "%s %s now uses version %d\n", ux.Success.Render("✓"), id, seq)
				if len(stale) > 0 {
					fmt.Fprintf(ux.Out, "  %s\n", ux.Dim.Render(fmt.Sprintf("%v will regenerate on the next run", stale)))
				}
				return nil
			})
		},
	}
}

// rollback activates seq for id and sends every completed dependent back to
// pending so the next run regenerates it from the rolled-back content. It
// returns the dependents it reset. The state is untouched on error.
func rollback(st *state.RunState, dependents []string, id string, seq int) ([]string, error) {
	if err := st.SetActive(id, seq); err != nil {
		return nil, fmt.Errorf("rolling back %s: %w", id, err)
	}
	var stale []string
	for _, dep := range dependents {
		d := st.Doc(dep)
		if d == nil || d.Status != state.StatusCompleted {
			continue
		}
		d.Status = state.StatusPending
		stale = append(stale, dep)
	}
	return stale, nil
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose a failed run using the configured provider",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(p.stateDir())
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			if err := provider.Preflight(p.cfg.Provider); err != nil {
				return err
			}
			gw, err := provider.New(p.cfg.Provider, provider.Options{WorkDir: p.root})
			if err != nil {
				return err
			}
			return doctor.Run(ctx, p.work, p.cfg, st, gw, os.Stdout)
		},
	}
}
