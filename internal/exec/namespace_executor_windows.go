//go:build windows

package exec

import (
	"context"
	"fmt"
)

// NamespaceExecutor is unavailable on Windows — Linux namespace isolation
// has no equivalent here. Configuring "namespace-isolated" on a Windows
// worker fails fast at Execute time rather than silently degrading to
// unsandboxed execution.
type NamespaceExecutor struct{}

// NewNamespaceExecutor creates a new NamespaceExecutor.
func NewNamespaceExecutor(cacheRoot string) *NamespaceExecutor {
	return &NamespaceExecutor{}
}

func (e *NamespaceExecutor) Execute(ctx context.Context, req *Request, w *OutputWriter) (*Result, error) {
	return nil, fmt.Errorf("namespace-isolated sandbox is not supported on this platform")
}
