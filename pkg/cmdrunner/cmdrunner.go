// Package cmdrunner runs external tools (pg_dump, mysqldump, mongorestore)
// behind a small interface so callers can fake process execution in tests.
package cmdrunner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Command describes one external tool invocation.
type Command struct {
	// Path is the tool name or absolute path, resolved via PATH lookup.
	Path string

	Args []string

	// Env entries are appended to the parent environment, "KEY=value" form.
	// Credentials travel here (PGPASSWORD, MYSQL_PWD) rather than in Args.
	Env []string

	// Stdin feeds the process when set (restore pipelines).
	Stdin io.Reader

	// Stdout receives the process output when set (dump pipelines). When
	// nil, output is captured into Result.Stdout instead.
	Stdout io.Writer

	// Timeout bounds the run on top of the caller's context when > 0.
	Timeout time.Duration
}

// Result reports a finished (or killed) invocation. Stderr is always
// captured; Stdout only when Command.Stdout was nil.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes commands. A non-zero exit always yields a non-nil error
// alongside the populated Result, so callers can surface captured stderr.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// RunFunc adapts a function to the Runner interface.
type RunFunc func(ctx context.Context, cmd Command) (*Result, error)

// Run calls f.
func (f RunFunc) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// ExecRunner is the os/exec-backed Runner.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run starts the process and waits for it, killing it when the context (or
// the command timeout) expires before it finishes.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin

	var stdout, stderr bytes.Buffer
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	name := filepath.Base(c.Path)
	r.logger.Debug().Str("tool", name).Int("args", len(c.Args)).Msg("Running external command")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-done
		res := &Result{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		r.logger.Warn().Str("tool", name).Dur("after", res.Duration).Msg("External command killed")
		return res, ctx.Err()

	case err := <-done:
		res := &Result{
			ExitCode: cmd.ProcessState.ExitCode(),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if err != nil {
			return res, fmt.Errorf("%s exited with code %d: %w", name, res.ExitCode, err)
		}
		r.logger.Debug().Str("tool", name).Dur("duration", res.Duration).Msg("External command finished")
		return res, nil
	}
}
