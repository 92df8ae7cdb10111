package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/jorge-barreto/docgen/internal/docs"
	"github.com/jorge-barreto/docgen/internal/scaffold"
	"github.com/jorge-barreto/docgen/internal/ux"
)

func main() {
	app := &cli.Command{
		Name:        "docgen",
		Usage:       "Generate interdependent project documents with an LLM",
		Description: "Run 'docgen docs' for documentation on config syntax, variables, the pipeline, and more.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the config file (default: search for .docgen/config.yaml upward from cwd)",
				Sources: cli.EnvVars("DOCGEN_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			initCmd(),
			runCmd(),
			statusCmd(),
			controlCmd("pause", "Pause the running pipeline after the current attempt"),
			controlCmd("resume", "Resume a paused pipeline"),
			controlCmd("cancel", "Cancel the running pipeline"),
			historyCmd(),
			showCmd(),
			diffCmd(),
			rollbackCmd(),
			doctorCmd(),
			docsCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		ux.Errorf("%v", err)
		os.Exit(1)
	}
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a new .docgen/ directory with an example config",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			return scaffold.Init(dir)
		},
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Show documentation",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				fmt.Fprint(ux.Out, "\nAvailable topics:\n\n")
				for _, t := range docs.All() {
					fmt.Fprintf(ux.Out, "  %-14s %s\n", t.Name, t.Summary)
				}
				fmt.Fprintln(ux.Out, "\nRun 'docgen docs <topic>' to read a topic.")
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			fmt.Fprint(ux.Out, t.Content)
			return nil
		},
	}
}
