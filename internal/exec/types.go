// Package exec is the execution harness (spec §4.E): it launches a user
// program under a pluggable sandbox backbone and collects its result.
package exec

import (
	"context"
	"errors"
	"time"
)

// ErrCanceled is the context cancellation cause a caller sets when
// canceling a running job's context for cooperative cancellation (spec
// §4.D), as opposed to any other reason the context might be canceled.
// An Executor distinguishes it from a plain shutdown or a timeout by
// checking context.Cause against it.
var ErrCanceled = errors.New("job canceled")

// Command is the literal program invocation a backbone runs.
type Command struct {
	Program string
	Args    []string
	Env     []string
	Dir     string
}

// Request is one job's execution request.
type Request struct {
	JobID      string
	WorkingDir string
	CacheRoot  string
	Timeout    time.Duration
	GraceKill  time.Duration
	Command    Command
	// SandboxProto is the filled namespace-isolation config template (spec
	// §6 "text proto template with placeholders"), empty outside that mode.
	SandboxProto string
}

// Result is a backbone's raw outcome, before the harness maps it onto
// model.CompletedJob / model.ErrorResult.
type Result struct {
	ExitCode int
	TimedOut bool
	Canceled bool
}

// Executor runs one Request to completion, streaming output to w as it
// arrives and returning once the child process has exited or been killed.
type Executor interface {
	Execute(ctx context.Context, req *Request, w *OutputWriter) (*Result, error)
}
