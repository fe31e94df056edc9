// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"sync"

	"wifimon/internal/command"
)

// Runner answers commands from a table keyed by command.Line, falling back
// to Handler. Unscripted commands succeed with empty output.
type Runner struct {
	Responses map[string]command.Result
	Handler   func(name string, args []string) command.Result
	Missing   map[string]bool

	mu    sync.Mutex
	calls []string
}

// Run records the call and returns the scripted result
func (r *Runner) Run(ctx context.Context, name string, args ...string) command.Result {
	line := command.Line(name, args...)
	r.mu.Lock()
	r.calls = append(r.calls, line)
	r.mu.Unlock()

	if r.Missing[name] {
		return command.Result{ExitCode: -1, Stderr: "exec: \"" + name + "\": executable file not found in $PATH"}
	}
	if res, ok := r.Responses[line]; ok {
		return res
	}
	if r.Handler != nil {
		return r.Handler(name, args)
	}
	return command.Result{}
}

// Available reports false only for tools listed in Missing
func (r *Runner) Available(name string) bool {
	return !r.Missing[name]
}

// Calls returns every command line run so far, in order
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Reset forgets recorded calls
func (r *Runner) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
