package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

func newTestRunner(t *testing.T) (*ProcessRunner, *log.TestLogger) {
	t.Helper()
	logger := log.NewTestLogger()
	return NewProcessRunner(WithBaseDir(t.TempDir()), WithLogger(logger)), logger
}

func sh(script string) Command {
	return NewCommand("sh", "-c", script)
}

func collect(t *testing.T, s *OutputStream) []string {
	t.Helper()
	var lines []string
	for s.Next() {
		lines = append(lines, s.Line())
	}
	return lines
}

func TestRun_ExitZero(t *testing.T) {
	r, _ := newTestRunner(t)

	s, err := r.Run(context.Background(), sh("echo a; echo b; echo c"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, collect(t, s))
	assert.NoError(t, s.Err())
	assert.False(t, s.Next(), "stream is single-pass")
}

func TestRun_NonZeroExit(t *testing.T) {
	r, _ := newTestRunner(t)

	s, err := r.Run(context.Background(), sh("echo one; echo two; exit 3"))
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two"}, collect(t, s))
	var nz *types.NonZeroExitError
	require.True(t, errors.As(s.Err(), &nz))
	assert.Equal(t, 3, nz.Code)
	assert.Equal(t, 3, types.ExitCode(s.Err()))
}

func TestRun_Signaled(t *testing.T) {
	r, _ := newTestRunner(t)

	s, err := r.Run(context.Background(), sh("echo before; kill -TERM $$"))
	require.NoError(t, err)

	assert.Equal(t, []string{"before"}, collect(t, s))
	var se *types.SignalError
	require.True(t, errors.As(s.Err(), &se))
	assert.Equal(t, syscall.SIGTERM, se.Signal)
}

func TestRun_StderrGoesToLog(t *testing.T) {
	r, logger := newTestRunner(t)

	s, err := r.Run(context.Background(), sh("echo out; echo err >&2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"out"}, collect(t, s))
	require.NoError(t, s.Err())

	assert.True(t, logger.AssertLogged(log.DebugLevel, "err"))
}

func TestRun_MergeStderr(t *testing.T) {
	r, _ := newTestRunner(t)

	cmd := sh("echo out; echo err >&2")
	cmd.MergeStderr = true
	s, err := r.Run(context.Background(), cmd)
	require.NoError(t, err)

	lines := collect(t, s)
	require.NoError(t, s.Err())
	assert.ElementsMatch(t, []string{"out", "err"}, lines)
}

func TestRun_Lines(t *testing.T) {
	r, _ := newTestRunner(t)

	s, err := r.Run(context.Background(), sh("printf 'x\\ny\\n'; exit 5"))
	require.NoError(t, err)

	var lines []string
	var final error
	for line, err := range s.Lines() {
		if err != nil {
			final = err
			break
		}
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"x", "y"}, lines)
	assert.Equal(t, 5, types.ExitCode(final))
}

func TestRun_WorkingDirAndEnv(t *testing.T) {
	logger := log.NewTestLogger()
	dir := t.TempDir()
	r := NewProcessRunner(WithLogger(logger), WithEnv("RUNNER_VAR=base"))

	cmd := sh(`pwd; echo "$RUNNER_VAR $CMD_VAR"`)
	cmd.Dir = dir
	cmd.Env = []string{"CMD_VAR=extra"}

	s, err := r.Run(context.Background(), cmd)
	require.NoError(t, err)
	lines := collect(t, s)
	require.NoError(t, s.Err())
	require.Len(t, lines, 2)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(lines[0])
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "base extra", lines[1])
}

func TestRun_Close(t *testing.T) {
	r, _ := newTestRunner(t)

	s, err := r.Run(context.Background(), sh("echo first; exec sleep 30"))
	require.NoError(t, err)
	require.True(t, s.Next())
	assert.Equal(t, "first", s.Line())

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		var se *types.SignalError
		assert.True(t, errors.As(err, &se))
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not stop the process")
	}
}

func TestRun_MissingExecutable(t *testing.T) {
	r, _ := newTestRunner(t)

	_, err := r.Run(context.Background(), NewCommand("definitely-not-a-real-binary-bcpc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in PATH")
}

func TestOutput(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx := context.Background()

	out, err := r.Output(ctx, sh("echo hello; echo oops >&2"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello")
	assert.Contains(t, string(out), "oops")

	out, err = r.Output(ctx, sh("echo useradd: user exists >&2; exit 9"))
	var nz *types.NonZeroExitError
	require.True(t, errors.As(err, &nz))
	assert.Equal(t, 9, nz.Code)
	assert.Equal(t, "useradd: user exists", nz.Output)
	assert.Equal(t, "useradd: user exists\n", string(out))
}

func TestOutput_ContextCancel(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Output(ctx, sh("exec sleep 30"))
	var se *types.SignalError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, syscall.SIGKILL, se.Signal)
}

func TestNewStream(t *testing.T) {
	waitErr := &types.NonZeroExitError{Code: 2}
	s := NewStream(strings.NewReader("l1\r\nl2\nl3"), func() error { return waitErr })

	assert.Equal(t, []string{"l1", "l2", "l3"}, collect(t, s))
	assert.Same(t, waitErr, s.Err())
	assert.Same(t, waitErr, s.Close())
}

func TestNewStream_OverlongLineIsChunked(t *testing.T) {
	long := strings.Repeat("x", 2*maxLineSize+10)
	killed := false
	s := NewStream(strings.NewReader(long+"\nBuild complete\n"), func() error { return nil })
	s.kill = func() { killed = true }

	lines := collect(t, s)
	require.Len(t, lines, 4)
	assert.Len(t, lines[0], maxLineSize)
	assert.Len(t, lines[1], maxLineSize)
	assert.Equal(t, "xxxxxxxxxx", lines[2])
	assert.Equal(t, "Build complete", lines[3])
	assert.NoError(t, s.Err())
	assert.False(t, killed)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(`make create all`)
	require.NoError(t, err)
	assert.Equal(t, "make", cmd.Path)
	assert.Equal(t, []string{"create", "all"}, cmd.Args)

	cmd, err = ParseCommand(`sh -c 'echo "a b"'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"-c", `echo "a b"`}, cmd.Args)
	assert.Equal(t, `sh -c 'echo "a b"'`, cmd.String())

	_, err = ParseCommand("   ")
	assert.Error(t, err)
	_, err = ParseCommand(`echo "unterminated`)
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0755))
	plain := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0644))

	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"in path", NewCommand("sh"), false},
		{"absolute", NewCommand(script), false},
		{"relative to dir", NewCommand("./run.sh").InDir(dir), false},
		{"not executable", NewCommand(plain), true},
		{"directory", NewCommand(dir), true},
		{"missing", NewCommand(filepath.Join(dir, "nope")), true},
		{"empty", Command{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.cmd)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
