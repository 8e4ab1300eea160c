// Package process supervises local subprocesses: it starts commands,
// exposes their output as a lazy line stream and classifies how they ended.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/runner/process/security"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

const (
	// maxErrorOutput bounds how much combined output a NonZeroExitError carries.
	maxErrorOutput = 4096
	// waitDelay bounds how long Wait keeps copying output after the process
	// exits, for daemons that inherit the child's stderr.
	waitDelay = 5 * time.Second
)

// Runner starts supervised commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*OutputStream, error)
	Output(ctx context.Context, cmd Command) ([]byte, error)
}

// Validate that ProcessRunner implements the Runner interface
var _ Runner = &ProcessRunner{}

// ProcessRunner runs commands on the local host.
type ProcessRunner struct {
	baseDir string
	env     []string
	logger  log.Logger
}

// ProcessOption is a function that configures a ProcessRunner
type ProcessOption func(*ProcessRunner)

// WithBaseDir sets the working directory for commands that name none.
func WithBaseDir(dir string) ProcessOption {
	return func(r *ProcessRunner) {
		r.baseDir = dir
	}
}

// WithLogger sets the logger for the runner
func WithLogger(logger log.Logger) ProcessOption {
	return func(r *ProcessRunner) {
		r.logger = logger
	}
}

// WithEnv appends entries to the environment every command inherits.
func WithEnv(env ...string) ProcessOption {
	return func(r *ProcessRunner) {
		r.env = append(r.env, env...)
	}
}

// NewProcessRunner creates a new ProcessRunner with the given options
func NewProcessRunner(options ...ProcessOption) *ProcessRunner {
	r := &ProcessRunner{}
	for _, option := range options {
		option(r)
	}
	r.logger = log.OrDefault(r.logger).WithComponent("process")
	return r
}

// Run starts cmd and returns a stream over its stdout lines. The final exit
// status is reported by the stream once it is exhausted.
func (r *ProcessRunner) Run(ctx context.Context, cmd Command) (*OutputStream, error) {
	c, logger, err := r.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	c.Stdout = pw
	if cmd.MergeStderr {
		c.Stderr = pw
	} else {
		c.Stderr = log.LineWriter(logger, log.DebugLevel)
	}

	start := time.Now()
	if err := c.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	// the child holds the only write end now
	pw.Close()

	logger.Debug("Process started", log.Int("pid", c.Process.Pid))

	wait := func() error {
		err := c.Wait()
		pr.Close()
		logger.Debug("Process exited",
			log.Duration("elapsed", time.Since(start)),
			log.Err(err))
		return classify(err, nil)
	}
	kill := func() {
		if c.Process != nil {
			_ = c.Process.Kill()
		}
	}
	s := NewStream(pr, wait)
	s.kill = kill
	return s, nil
}

// Output runs cmd to completion and returns its combined stdout and stderr.
// A non-zero exit carries the (truncated) output in the error.
func (r *ProcessRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	c, logger, err := r.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = &buf

	start := time.Now()
	err = c.Run()
	logger.Debug("Command finished",
		log.Duration("elapsed", time.Since(start)),
		log.Err(err))

	out := buf.Bytes()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		return out, fmt.Errorf("failed to run %s: %w", cmd.Path, err)
	}
	return out, classify(err, out)
}

func (r *ProcessRunner) prepare(ctx context.Context, cmd Command) (*exec.Cmd, log.Logger, error) {
	if err := ValidateCommand(cmd); err != nil {
		return nil, nil, err
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = waitDelay
	if c.Dir == "" {
		c.Dir = r.baseDir
	}
	if len(r.env) > 0 || len(cmd.Env) > 0 {
		c.Env = append(append(os.Environ(), r.env...), cmd.Env...)
	}

	logger := r.logger.With(log.Str("cmd", cmd.String()))
	if cmd.User != "" {
		if _, err := security.ApplyUser(c, cmd.User); err != nil {
			return nil, nil, fmt.Errorf("failed to run as %s: %w", cmd.User, err)
		}
		logger = logger.With(log.User(cmd.User))
	}
	return c, logger, nil
}

// classify maps a Wait error onto SignalError or NonZeroExitError.
func classify(err error, output []byte) error {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return err
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return &types.SignalError{Signal: status.Signal()}
		}
		return &types.NonZeroExitError{Code: status.ExitStatus(), Output: truncate(output)}
	}
	return &types.NonZeroExitError{Code: exitErr.ExitCode(), Output: truncate(output)}
}

func truncate(out []byte) string {
	out = bytes.TrimSpace(out)
	if len(out) > maxErrorOutput {
		out = out[len(out)-maxErrorOutput:]
	}
	return string(out)
}
