package linux

import (
	"context"
	"errors"
	"sync"

	"github.com/openfroyo/vminit/pkg/engine"
)

// fakeRunner records invocations. Commands listed in fail exit with status 1; stdout
// supplies canned output per command name.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []Command
	fail     map[string]int
	failOnce map[string]int
	stdout   map[string]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		fail:     map[string]int{},
		failOnce: map[string]int{},
		stdout:   map[string]string{},
	}
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)

	if n := f.failOnce[cmd.Name]; n > 0 {
		f.failOnce[cmd.Name] = n - 1
		return &Result{ExitCode: 1}, engine.NewSubprocessError(cmd.Name, 1, errors.New("exit status 1"))
	}
	if code, ok := f.fail[cmd.Name]; ok {
		return &Result{ExitCode: code}, engine.NewSubprocessError(cmd.Name, code, errors.New("exit status"))
	}
	return &Result{Stdout: f.stdout[cmd.Name]}, nil
}

func (f *fakeRunner) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Name
	}
	return out
}

func (f *fakeRunner) last() Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}
