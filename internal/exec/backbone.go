package exec

import (
	"fmt"
	"strings"
	"sync"
)

// Backbone names for the three sandbox modes the harness supports (spec
// §4.E).
const (
	BackboneDirect            = "direct"
	BackboneNamespaceIsolated = "namespace-isolated"
	BackboneUnshareLight      = "unshare-light"
)

// BackboneBuilder constructs an Executor for a cache root.
type BackboneBuilder func(cacheRoot string) (Executor, error)

var (
	backboneBuilders = map[string]BackboneBuilder{
		BackboneDirect: func(cacheRoot string) (Executor, error) {
			return NewDirectExecutor(cacheRoot), nil
		},
		BackboneNamespaceIsolated: func(cacheRoot string) (Executor, error) {
			return NewNamespaceExecutor(cacheRoot), nil
		},
		BackboneUnshareLight: func(cacheRoot string) (Executor, error) {
			return NewUnshareExecutor(cacheRoot), nil
		},
	}
	backboneMu sync.RWMutex
)

// RegisterBackbone adds a new named backbone, for deployments that need a
// sandbox mode beyond the three built in.
func RegisterBackbone(name string, builder BackboneBuilder) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("backbone name is required")
	}
	if builder == nil {
		return fmt.Errorf("backbone builder cannot be nil")
	}

	backboneMu.Lock()
	defer backboneMu.Unlock()
	if _, exists := backboneBuilders[key]; exists {
		return fmt.Errorf("backbone already registered: %s", key)
	}
	backboneBuilders[key] = builder
	return nil
}

// NewExecutor builds the Executor for a configured isolation mode.
func NewExecutor(isolation, cacheRoot string) (Executor, error) {
	key := strings.ToLower(strings.TrimSpace(isolation))
	if key == "" {
		key = BackboneDirect
	}

	backboneMu.RLock()
	builder, ok := backboneBuilders[key]
	backboneMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported sandbox backbone: %s", isolation)
	}

	executor, err := builder(cacheRoot)
	if err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, fmt.Errorf("sandbox backbone %s returned nil executor", isolation)
	}
	return executor, nil
}
