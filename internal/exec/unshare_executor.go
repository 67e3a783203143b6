//go:build !windows

package exec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// UnshareExecutor runs the child under the host's `unshare` utility with
// just mount and pid namespace isolation — a cheaper middle ground than
// NamespaceExecutor's full CLONE_NEWUSER setup, for workers that trust the
// code they run but still want filesystem/process isolation (spec §4.E
// "unshare-light").
type UnshareExecutor struct {
	cacheRoot string
}

// NewUnshareExecutor creates a new UnshareExecutor.
func NewUnshareExecutor(cacheRoot string) *UnshareExecutor {
	return &UnshareExecutor{cacheRoot: cacheRoot}
}

func (e *UnshareExecutor) Execute(ctx context.Context, req *Request, w *OutputWriter) (*Result, error) {
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

	args := append([]string{"--mount", "--pid", "--fork", "--", req.Command.Program}, req.Command.Args...)
	cmd := exec.CommandContext(cmdCtx, "unshare", args...)
	cmd.Dir = req.WorkingDir
	cmd.Env = append(req.Command.Env, "CACHE_DIR="+e.cacheRoot)
	cmd.Stdout = w
	cmd.Stderr = w
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
		return nil, fmt.Errorf("unshare-light execution failed: %w", err)
	}
	return &Result{ExitCode: 0}, nil
}
