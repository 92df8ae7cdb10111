package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jorge-barreto/docgen/internal/config"
	"github.com/jorge-barreto/docgen/internal/control"
	"github.com/jorge-barreto/docgen/internal/failure"
	"github.com/jorge-barreto/docgen/internal/logging"
	"github.com/jorge-barreto/docgen/internal/pipeline"
	"github.com/jorge-barreto/docgen/internal/provider"
	"github.com/jorge-barreto/docgen/internal/registry"
	"github.com/jorge-barreto/docgen/internal/state"
	"github.com/jorge-barreto/docgen/internal/status"
	"github.com/jorge-barreto/docgen/internal/ux"
	"github.com/jorge-barreto/docgen/internal/validate"
	"github.com/jorge-barreto/docgen/internal/vars"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Generate every document not completed by an earlier run",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-attempts", Usage: "Attempts per document (overrides retry.max-attempts)"},
			&cli.BoolFlag{Name: "fresh", Usage: "Ignore the checkpoint and regenerate everything"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Print the generation plan without calling the provider"},
			&cli.StringFlag{Name: "serve", Usage: "Serve the status snapshot on `ADDR` (overrides status.addr)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			cfg := p.cfg
			if cfg.Provider.Kind == config.ProviderClaude && os.Getenv("CLAUDECODE") != "" {
				return fmt.Errorf("the claude provider cannot run inside another Claude session (CLAUDECODE is set). Run from a regular terminal")
			}
			if n := cmd.Int("max-attempts"); n > 0 {
				cfg.Retry.MaxAttempts = int(n)
			}

			reg, err := cfg.Registry(p.root)
			if err != nil {
				return err
			}
			seed := cfg.Seed(time.Now())
			for id, names := range reg.Unbound(seed) {
				ux.Warnf("%s references unbound variable(s): %s", id, strings.Join(names, ", "))
			}

			st := &state.RunState{Status: state.StatusReady}
			if !cmd.Bool("fresh") {
				if st, err = state.Load(p.stateDir()); err != nil {
					return fmt.Errorf("loading state: %w", err)
				}
			}
			if st.Status == state.StatusGenerating || st.Status == state.StatusPaused {
				ux.Warnf("checkpoint says run %s is still %s; if that process is gone, continuing from its completed documents", st.RunID, st.Status)
			}

			if cmd.Bool("dry-run") {
				printPlan(reg, st.Completed(), cfg.Retry.MaxAttempts)
				return nil
			}
			return execute(ctx, cmd, p, reg, seed, st)
		},
	}
}

func execute(ctx context.Context, cmd *cli.Command, p *project, reg *registry.Registry, seed map[string]string, st *state.RunState) error {
	cfg := p.cfg
	stateDir := p.stateDir()
	if err := state.EnsureDir(p.work); err != nil {
		return err
	}
	if err := control.Clear(stateDir); err != nil {
		return err
	}
	if err := provider.Preflight(cfg.Provider); err != nil {
		return err
	}

	logger, err := logging.New(state.LogDir(p.work), cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, closeStore, err := openStore(ctx, p.root, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening version store: %w", err)
	}
	defer closeStore()

	carried, errs := carriedVersions(ctx, store, st, func(id string) bool { return reg.Index(id) >= 0 })
	for _, err := range errs {
		ux.Warnf("not reusing %v", err)
		logger.Warn("carried version unavailable", "error", err)
	}

	gw, err := provider.New(cfg.Provider, provider.Options{WorkDir: p.root, LogDir: state.LogDir(p.work)})
	if err != nil {
		return err
	}

	timing := &state.Timing{}
	if len(carried) > 0 {
		if timing, err = state.LoadTiming(stateDir); err != nil {
			return err
		}
	}

	title := func(id string) string {
		if s, ok := reg.Get(id); ok {
			return s.Title
		}
		return id
	}
	exec := &pipeline.Executor{
		Vars:        vars.New(seed),
		Gateway:     gw,
		Validator:   validate.Structural(),
		Store:       store,
		Params:      provider.ParamsFrom(cfg.Provider),
		System:      cfg.Provider.System,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Std(),
		MaxDelay:    cfg.Retry.MaxDelay.Std(),
		HintOnRetry: cfg.Retry.HintOnRetryEnabled(),
		OnAttempt: func(ev pipeline.AttemptEvent) {
			switch ev.Stage {
			case pipeline.AttemptRejected:
				ux.Rejected(title(ev.Document), strings.TrimPrefix(ev.Err.Error(), "validation failed: "))
			case pipeline.AttemptRetrying:
				ux.Retry(title(ev.Document), ev.Attempt, ev.MaxAttempts, ev.Err.Error(), ev.Delay)
			}
		},
		PromptSink: func(doc, prompt string) {
			if err := state.WritePrompt(p.work, doc, prompt); err != nil {
				logger.Warn("saving rendered prompt", "document", doc, "error", err)
			}
		},
		Logger: logger,
	}

	pub := status.NewPublisher()
	orch, err := pipeline.New(reg, exec,
		pipeline.WithPublisher(pub),
		pipeline.WithLogger(logger),
		pipeline.WithPauseGrace(cfg.PauseGrace.Std()),
		pipeline.WithProject(cfg.Name),
		pipeline.WithCompleted(carried),
		pipeline.WithCheckpoint(func(r pipeline.Run) error {
			return checkpoint(r).Save(stateDir)
		}),
		pipeline.WithDocumentHook(func(d pipeline.DocumentInstance) {
			reportDocument(reg, timing, stateDir, d, logger)
		}),
	)
	if err != nil {
		return err
	}

	var reused []string
	for _, d := range orch.Run().Documents {
		if d.Status == pipeline.DocCompleted {
			reused = append(reused, d.Spec.ID)
		}
	}
	ux.Carried(reused)
	if len(reused) == reg.Len() {
		fmt.Fprintln(ux.Out, ux.Success.Render("All documents are already generated. Use --fresh to regenerate."))
		return nil
	}

	var srv *status.Server
	addr := cfg.Status.Addr
	if cmd.IsSet("serve") {
		addr = cmd.String("serve")
	}
	if addr != "" {
		if srv, err = status.Listen(addr, pub); err != nil {
			return err
		}
		fmt.Fprintf(ux.Out, "%s %s\n", ux.Dim.Render("status:"), ux.Accent.Render("http://"+srv.Addr()+"/api/status"))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if err := orch.Start(gctx); err != nil {
		return err
	}
	auxCtx, stopAux := context.WithCancel(gctx)
	var (
		final  pipeline.Run
		runErr error
	)
	g.Go(func() error {
		defer stopAux()
		final, runErr = orch.Wait(context.Background())
		return nil
	})
	if srv != nil {
		g.Go(func() error { return srv.Serve(auxCtx) })
	}
	g.Go(func() error {
		return control.Watch(auxCtx, stateDir, func(c control.Command) {
			applyCommand(orch, c, logger)
		}, func(err error) {
			logger.Warn("control command", "error", err)
		})
	})
	auxErr := g.Wait()

	if err := timing.Flush(stateDir); err != nil {
		logger.Warn("saving timing", "error", err)
	}
	for _, d := range final.Documents {
		if d.ErrorKind == failure.BlockedByDependency {
			ux.Blocked(d.Spec.Title, final.FailedDocument)
		}
	}
	switch {
	case final.Status == pipeline.Completed:
		ux.Done(len(final.Documents), timing.Total())
	case final.Reason == "cancelled":
		ux.Warnf("run cancelled: %d of %d documents completed", final.Completed(), len(final.Documents))
		ux.ResumeHint()
		return nil
	default:
		ux.ResumeHint()
	}
	if runErr != nil {
		return runErr
	}
	if auxErr != nil && !errors.Is(auxErr, context.Canceled) {
		return auxErr
	}
	return nil
}

func reportDocument(reg *registry.Registry, timing *state.Timing, stateDir string, d pipeline.DocumentInstance, logger *logging.Logger) {
	id, title := d.Spec.ID, d.Spec.Title
	switch d.Status {
	case pipeline.DocGenerating:
		timing.AddStart(id)
		ux.DocumentHeader(reg.Index(id), reg.Len(), id, title)
		return
	case pipeline.DocCompleted:
		timing.AddEnd(id)
		var dur time.Duration
		if e, ok := timing.Last(id); ok {
			dur = e.End.Sub(e.Start)
		}
		ux.DocumentComplete(title, d.Versions[len(d.Versions)-1].Sequence, dur)
	case pipeline.DocPending:
		timing.AddEnd(id)
		ux.Interrupted(title)
	case pipeline.DocFailed:
		timing.AddEnd(id)
		if d.ErrorKind != failure.Cancelled {
			ux.DocumentFail(title, d.Attempts, d.LastError)
		}
	}
	if err := timing.Flush(stateDir); err != nil {
		logger.Warn("saving timing", "error", err)
	}
}

func applyCommand(orch *pipeline.Orchestrator, c control.Command, logger *logging.Logger) {
	var err error
	switch c {
	case control.Pause:
		if err = orch.Pause(); err == nil {
			ux.Warnf("paused; the current document may finish. Run 'docgen resume' to continue")
		}
	case control.Resume:
		if err = orch.Resume(); err == nil {
			fmt.Fprintln(ux.Out, ux.Accent.Render("resumed"))
		}
	case control.Cancel:
		err = orch.Cancel()
	}
	if err != nil {
		ux.Warnf("%s ignored: %v", c, err)
		logger.Warn("control command rejected", "command", string(c), "error", err)
	}
}

// printPlan shows the generation order without calling the provider.
func printPlan(reg *registry.Registry, completed map[string]int, maxAttempts int) {
	fmt.Fprintf(ux.Out, "\n%s\n\n", ux.Title.Render(fmt.Sprintf("Generation plan (%d documents, %d attempt(s) each)", reg.Len(), maxAttempts)))
	order := reg.Order()
	for i, id := range order {
		spec, _ := reg.Get(id)
		line := fmt.Sprintf("  %d. %s", i+1, ux.Bold.Render(spec.Title))
		if spec.Title != id {
			line += ux.Dim.Render(" (" + id + ")")
		}
		if len(spec.DependsOn) > 0 {
			deps := append([]string(nil), spec.DependsOn...)
			sort.Strings(deps)
			line += ux.Dim.Render(" after " + strings.Join(deps, ", "))
		}
		if seq, ok := completed[id]; ok {
			line += " " + ux.Success.Render(fmt.Sprintf("[reuse version %d]", seq))
		}
		fmt.Fprintln(ux.Out, line)
		if names := vars.Placeholders(spec.PromptTemplate); len(names) > 0 {
			fmt.Fprintf(ux.Out, "     %s\n", ux.Dim.Render("uses: "+strings.Join(names, ", ")))
		}
	}
	fmt.Fprintln(ux.Out)
}
