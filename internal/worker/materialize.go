package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/bobmcallan/quartzqueue/internal/secret"
	"github.com/bobmcallan/quartzqueue/internal/store"
)

// varPrefix/resPrefix mark args-file string values that must be resolved
// against the variable/secret or resource tables before being passed to
// the job, rather than taken literally (spec §4.D step 2 "reserved
// variables + secrets from §4.H").
const (
	varPrefix = "$var:"
	resPrefix = "$res:"
)

// materializer resolves $var:/$res: references inside a job's parsed args
// map into their concrete values immediately before execution.
type materializer struct {
	variables store.VariableStore
	resources store.ResourceStore
	secrets   *secret.Provider
}

func newMaterializer(variables store.VariableStore, resources store.ResourceStore, secrets *secret.Provider) *materializer {
	return &materializer{variables: variables, resources: resources, secrets: secrets}
}

// Resolve walks args recursively, replacing every $var:/$res: string with
// its resolved value.
func (m *materializer) Resolve(ctx context.Context, workspaceID string, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		resolved, err := m.resolveValue(ctx, workspaceID, v)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve arg %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (m *materializer) resolveValue(ctx context.Context, workspaceID string, v any) (any, error) {
	switch t := v.(type) {
	case string:
		switch {
		case strings.HasPrefix(t, varPrefix):
			path := strings.TrimPrefix(t, varPrefix)
			return m.resolveVariable(ctx, workspaceID, path)
		case strings.HasPrefix(t, resPrefix):
			path := strings.TrimPrefix(t, resPrefix)
			resource, err := m.resources.Get(ctx, workspaceID, path)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve resource %q: %w", path, err)
			}
			var decoded any
			if err := sonic.Unmarshal(resource.Value, &decoded); err != nil {
				return nil, fmt.Errorf("failed to decode resource %q: %w", path, err)
			}
			return decoded, nil
		default:
			return t, nil
		}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			resolved, err := m.resolveValue(ctx, workspaceID, val)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			resolved, err := m.resolveValue(ctx, workspaceID, val)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (m *materializer) resolveVariable(ctx context.Context, workspaceID, path string) (string, error) {
	v, err := m.variables.Get(ctx, workspaceID, path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve variable %q: %w", path, err)
	}
	if !v.IsSecret {
		return v.Value, nil
	}
	plaintext, err := m.secrets.Get(ctx, workspaceID, path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve secret variable %q: %w", path, err)
	}
	return plaintext, nil
}
