package allocator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/bcpc-build/bcpc-build/pkg/log"
	"github.com/bcpc-build/bcpc-build/pkg/runner/process"
	"github.com/bcpc-build/bcpc-build/pkg/types"
)

// Build marks the unit building and starts the strategy's build command as
// the build user. The returned stream must be drained to learn the outcome;
// the final state is persisted when it ends.
func (a *Allocator) Build(ctx context.Context, unit *types.BuildUnit) (*BuildStream, error) {
	if err := a.SetState(ctx, unit, types.StateBuilding); err != nil {
		return nil, err
	}

	stream, err := a.startBuild(ctx, unit)
	if err != nil {
		a.failBuild(ctx, unit)
		return nil, &types.BuildError{Unit: unit.Name, Err: err}
	}
	return &BuildStream{ctx: ctx, alloc: a, unit: unit, inner: stream}, nil
}

func (a *Allocator) startBuild(ctx context.Context, unit *types.BuildUnit) (*process.OutputStream, error) {
	cmd, err := process.ParseCommand(a.strategy.BuildCommand)
	if err != nil {
		return nil, err
	}
	cmd = cmd.AsUser(unit.BuildUser).InDir(filepath.Join(unit.BuildDir, a.strategy.PrimaryComponent))

	a.logger.Info("Starting build", log.Unit(unit.Name), log.Str("command", cmd.String()), log.Str("dir", cmd.Dir))
	return a.runner.Run(ctx, cmd)
}

func (a *Allocator) failBuild(ctx context.Context, unit *types.BuildUnit) {
	if err := a.SetState(ctx, unit, types.StateFailedBuild); err != nil {
		a.logger.Error("Could not record build failure", log.Unit(unit.Name), log.Err(err))
	}
}

// BuildStream is the output of a running build. It is single pass.
type BuildStream struct {
	ctx   context.Context
	alloc *Allocator
	unit  *types.BuildUnit
	inner *process.OutputStream
	err   error
	done  bool
}

// Next advances to the next output line. When the build has ended it
// persists the unit's final state and returns false.
func (s *BuildStream) Next() bool {
	if s.done {
		return false
	}
	if s.inner.Next() {
		return true
	}
	s.finish(s.inner.Err())
	return false
}

// Line returns the current output line.
func (s *BuildStream) Line() string {
	return s.inner.Line()
}

// Err returns nil after a successful build, otherwise a *types.BuildError.
// It is only meaningful once Next has returned false.
func (s *BuildStream) Err() error {
	return s.err
}

// Lines returns the remaining lines for use with range. A failed build is
// yielded last with an empty line.
func (s *BuildStream) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for s.Next() {
			if !yield(s.Line(), nil) {
				return
			}
		}
		if s.err != nil {
			yield("", s.err)
		}
	}
}

// Close stops a build that is still running and records it as failed.
func (s *BuildStream) Close() error {
	if s.done {
		return s.err
	}
	err := s.inner.Close()
	if err == nil {
		err = errors.New("build abandoned")
	}
	s.finish(err)
	return s.err
}

func (s *BuildStream) finish(err error) {
	s.done = true
	a, unit := s.alloc, s.unit
	if err != nil {
		a.failBuild(s.ctx, unit)
		a.logger.Error("Build failed", log.Unit(unit.Name), log.Err(err))
		s.err = &types.BuildError{Unit: unit.Name, Err: err}
		return
	}
	if serr := a.SetState(s.ctx, unit, types.StateDone); serr != nil {
		s.err = serr
		return
	}
	a.logger.Info("Build finished", log.Unit(unit.Name))
}

// Drain copies every line of stream to sink and returns the build's
// outcome. A sink write failure does not stop the build from being drained.
func Drain(stream *BuildStream, sink io.Writer) error {
	var writeErr error
	for stream.Next() {
		if writeErr != nil {
			continue
		}
		if _, err := fmt.Fprintln(sink, stream.Line()); err != nil {
			writeErr = fmt.Errorf("writing build output: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return writeErr
}

// BuildLogPath returns the log file of unit.
func (a *Allocator) BuildLogPath(unit *types.BuildUnit) string {
	return filepath.Join(a.config.LogDir, unit.Name+".log")
}

// BuildLog is a per-unit log file with an optional live echo.
type BuildLog struct {
	mu   sync.Mutex
	file *os.File
	w    io.Writer
}

// NewBuildLog opens path for appending, creating its directory, and tees
// writes to echo when it is not nil.
func NewBuildLog(path string, echo io.Writer) (*BuildLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open build log: %w", err)
	}
	var w io.Writer = f
	if echo != nil {
		w = io.MultiWriter(f, echo)
	}
	return &BuildLog{file: f, w: w}, nil
}

func (l *BuildLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Path returns the log file path.
func (l *BuildLog) Path() string { return l.file.Name() }

// Close syncs and closes the log file.
func (l *BuildLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
