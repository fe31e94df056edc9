package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds any single external tool invocation
const DefaultTimeout = 10 * time.Second

// Result is the captured outcome of one external command.
// ExitCode is -1 when the command could not be started or was killed.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the command exited with status 0
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Runner executes system and network utilities.
// Implementations never return errors: failures are folded into Result.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
	Available(name string) bool
}

// Exec runs commands with os/exec
type Exec struct {
	Timeout time.Duration // Per-call bound, DefaultTimeout when zero
	Sudo    bool          // Prefix every command with sudo
}

// Run executes name with args and captures stdout/stderr
func (e Exec) Run(ctx context.Context, name string, args ...string) Result {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if e.Sudo {
		args = append([]string{"-n", name}, args...)
		name = "sudo"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
		res.Stderr = appendDiag(res.Stderr, err.Error())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = -1
		res.Stderr = appendDiag(res.Stderr, fmt.Sprintf("%s: timed out after %s", name, timeout))
	} else if errors.Is(ctx.Err(), context.Canceled) {
		res.ExitCode = -1
		res.Stderr = appendDiag(res.Stderr, fmt.Sprintf("%s: canceled", name))
	}
	return res
}

// Available reports whether name can be found in PATH
func (e Exec) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func appendDiag(stderr, msg string) string {
	stderr = strings.TrimRight(stderr, "\n")
	if stderr == "" {
		return msg
	}
	return stderr + "\n" + msg
}

// Line renders a command the way it is written in logs and test fixtures
func Line(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
