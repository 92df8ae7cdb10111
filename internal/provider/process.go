package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/jorge-barreto/docgen/internal/failure"
)

// runProcess runs name with args, feeding stdin, and returns stdout. Both
// streams are appended to the document's log. A non-zero exit is classified
// from the process output.
func runProcess(ctx context.Context, opts Options, req Request, timeout time.Duration, stdin string, name string, args ...string) (string, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(callCtx, name, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = BuildEnv(req)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	logFile, err := openLog(opts, req.Document)
	if err != nil {
		return "", failure.Transientf("opening provider log: %w", err)
	}
	defer logFile.Close()
	fmt.Fprintf(logFile, "=== %s %s ===\n", time.Now().Format(time.RFC3339), name)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = io.MultiWriter(logFile, &stdout)
	errWriters := []io.Writer{logFile, &stderr}
	if opts.Stream != nil {
		errWriters = append(errWriters, opts.Stream)
	}
	cmd.Stderr = io.MultiWriter(errWriters...)

	runErr := cmd.Run()
	if callCtx.Err() != nil {
		if err := contextErr(ctx, callCtx.Err()); err != nil {
			return "", err
		}
	}
	code, err := exitCode(runErr)
	if err != nil {
		// the process never started
		return "", failure.Permanentf("running %s: %w", name, err)
	}
	switch code {
	case 0:
		return stdout.String(), nil
	case 126, 127:
		return "", failure.Permanentf("%s: exit %d: %s", name, code, lastLine(stderr.String()))
	}
	msg := lastLine(stderr.String())
	if msg == "" {
		msg = lastLine(stdout.String())
	}
	err = classifyOutput(fmt.Sprintf("%s: exit %d: %s", name, code, msg))
	// the whole output may carry the marker even when the last line does not
	if failure.KindOf(err) == failure.Transient {
		if k := failure.KindOf(classifyOutput(stderr.String() + stdout.String())); k != failure.Transient {
			err = failure.New(k, errors.Unwrap(err))
		}
	}
	return "", err
}

// exitCode extracts an exit code from a command error: (code, nil) for an
// exit error, (0, err) when the process did not run, (0, nil) for nil.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
