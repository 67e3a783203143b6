//go:build windows

package exec

import (
	"context"
	"fmt"
)

// UnshareExecutor is unavailable on Windows.
type UnshareExecutor struct{}

// NewUnshareExecutor creates a new UnshareExecutor.
func NewUnshareExecutor(cacheRoot string) *UnshareExecutor {
	return &UnshareExecutor{}
}

func (e *UnshareExecutor) Execute(ctx context.Context, req *Request, w *OutputWriter) (*Result, error) {
	return nil, fmt.Errorf("unshare-light sandbox is not supported on this platform")
}
