package process

import (
	"context"
	"strings"
	"sync"
)

// FakeResult is the scripted outcome of a command run by FakeRunner.
type FakeResult struct {
	Output string
	Err    error
}

type fakeRule struct {
	prefix string
	result FakeResult
}

// FakeRunner implements Runner for testing. It records every command and
// answers from rules matched by command-line prefix; unmatched commands
// succeed with no output.
type FakeRunner struct {
	mu    sync.Mutex
	calls []Command
	rules []fakeRule

	// Hook, when set, runs for every command before the rules are applied.
	Hook func(Command)
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On scripts the result for commands whose String() starts with prefix.
// Later rules win over earlier ones.
func (f *FakeRunner) On(prefix string, result FakeResult) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{prefix: prefix, result: result})
	return f
}

// Run returns a stream over the scripted output.
func (f *FakeRunner) Run(ctx context.Context, cmd Command) (*OutputStream, error) {
	res := f.record(cmd)
	return NewStream(strings.NewReader(res.Output), func() error { return res.Err }), nil
}

// Output returns the scripted output and error.
func (f *FakeRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	res := f.record(cmd)
	return []byte(res.Output), res.Err
}

// Calls returns the recorded commands in order.
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

// CommandLines returns the recorded commands rendered with String.
func (f *FakeRunner) CommandLines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

func (f *FakeRunner) record(cmd Command) FakeResult {
	if f.Hook != nil {
		f.Hook(cmd)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)

	line := cmd.String()
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.rules[i].prefix) {
			return f.rules[i].result
		}
	}
	return FakeResult{}
}
