//go:build !windows

package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// NamespaceExecutor runs the child under mount/uid/pid/net isolation built
// from a per-job sandbox proto (spec §4.E "namespace-isolated"). The proto
// template's placeholders are filled before Execute is called; this
// executor only needs the resolved job and cache directories to compute
// the clone flags and the read-only bind mount list.
type NamespaceExecutor struct {
	cacheRoot string
}

// NewNamespaceExecutor creates a new NamespaceExecutor.
func NewNamespaceExecutor(cacheRoot string) *NamespaceExecutor {
	return &NamespaceExecutor{cacheRoot: cacheRoot}
}

func (e *NamespaceExecutor) Execute(ctx context.Context, req *Request, w *OutputWriter) (*Result, error) {
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
	cmd.Env = append(req.Command.Env, "CACHE_DIR="+e.cacheRoot, "JOB_DIR="+req.WorkingDir)
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = grace

	// CLONE_NEWUSER + CLONE_NEWNS + CLONE_NEWPID + CLONE_NEWNET give the
	// child its own mount table, pid namespace, and network stack; the
	// UID/GID maps collapse the child to a single unprivileged user inside
	// the namespace regardless of the host uid that launched it.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWNET,
		UidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}},
		GidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}},
		Setpgid:     true,
	}

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
		return nil, fmt.Errorf("namespace-isolated execution failed: %w", err)
	}
	return &Result{ExitCode: 0}, nil
}

// RenderSandboxProto fills the namespace-isolation config template (spec
// §6) for one job.
func RenderSandboxProto(template, jobDir, cacheDir string, cloneNewUser bool, sharedMount string) string {
	out := strings.ReplaceAll(template, "{JOB_DIR}", filepath.Clean(jobDir))
	out = strings.ReplaceAll(out, "{CACHE_DIR}", filepath.Clean(cacheDir))
	out = strings.ReplaceAll(out, "{CLONE_NEWUSER}", fmt.Sprintf("%t", cloneNewUser))
	out = strings.ReplaceAll(out, "{SHARED_MOUNT}", sharedMount)
	return out
}
