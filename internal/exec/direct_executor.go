package exec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DirectExecutor runs the child process with no additional isolation
// beyond the backbone's own OS process — the "direct" sandbox mode (spec
// §4.E).
type DirectExecutor struct {
	cacheRoot string
}

// NewDirectExecutor creates a new DirectExecutor.
func NewDirectExecutor(cacheRoot string) *DirectExecutor {
	return &DirectExecutor{cacheRoot: cacheRoot}
}

func (e *DirectExecutor) Execute(ctx context.Context, req *Request, w *OutputWriter) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("exec request is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	grace := req.GraceKill
	if grace <= 0 {
		grace = 5 * time.Second
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, req.Command.Program, req.Command.Args...)
	cmd.Dir = req.WorkingDir
	cmd.Env = req.Command.Env
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.Cancel = func() error { return terminateProcessGroup(cmd) }
	cmd.WaitDelay = grace
	setCommandProcessGroup(cmd)

	err := cmd.Run()
	cause := context.Cause(cmdCtx)
	if errors.Is(cause, context.DeadlineExceeded) {
		killCommandProcessGroup(cmd)
		return &Result{TimedOut: true}, nil
	}
	if errors.Is(cause, ErrCanceled) {
		killCommandProcessGroup(cmd)
		return &Result{Canceled: true}, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{ExitCode: exitErr.ExitCode()}, nil
		}
		return nil, fmt.Errorf("command execution failed: %w", err)
	}

	return &Result{ExitCode: 0}, nil
}
