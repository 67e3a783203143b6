package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/bobmcallan/quartzqueue/internal/exec/lang"
	"github.com/bobmcallan/quartzqueue/internal/model"
)

// Harness prepares a job's scratch directory, dispatches to the backbone
// Executor for the job's language variant, and maps the child-process
// contract onto model.CompletedJob (spec §4.E).
type Harness struct {
	cacheRoot string
}

// NewHarness creates a new Harness rooted at cacheRoot, the shared,
// read-only (to jobs) per-language dependency cache (spec §4.E "Cache
// roots").
func NewHarness(cacheRoot string) *Harness {
	return &Harness{cacheRoot: cacheRoot}
}

// Outcome is what Run reports back to the caller (internal/worker), which
// turns it into a model.CompletedJob / model.ErrorResult.
type Outcome struct {
	Success  bool
	Canceled bool
	Result   json.RawMessage
	Error    *model.ErrorResult
	ExitCode int
}

// OnChunk is called for every flushed output chunk during Run, in addition
// to the harness's own tail tracking — the worker wires this to the
// logstream hub so subscribers see output as it's produced.
type OnChunk func(offset int64, data []byte)

// Run materializes args.json, launches the variant's wrapper under the
// requested sandbox backbone, and reads back result.json or synthesizes an
// error from the exit code plus the tail of streamed output (spec §4.E
// child-process contract). onChunk may be nil.
func (h *Harness) Run(ctx context.Context, scratchDir string, variant *lang.Variant, args map[string]any, timeout, grace time.Duration, isolation string, onChunk OnChunk) (*Outcome, error) {
	if err := writeArgsFile(scratchDir, args); err != nil {
		return nil, fmt.Errorf("failed to write args file: %w", err)
	}

	executor, err := NewExecutor(isolation, filepath.Join(h.cacheRoot, variant.CacheSubdir))
	if err != nil {
		return nil, fmt.Errorf("failed to build executor: %w", err)
	}

	cmd := Command{
		Program: variant.Interpreter,
		Args:    append(append([]string{}, variant.Args...), variant.WrapperFile),
	}
	req := &Request{
		WorkingDir: scratchDir,
		CacheRoot:  filepath.Join(h.cacheRoot, variant.CacheSubdir),
		Timeout:    timeout,
		GraceKill:  grace,
		Command:    cmd,
	}

	logTail := newTailBuffer()
	writer := NewOutputWriter(func(c Chunk) {
		logTail.Append(c.Data)
		if onChunk != nil {
			onChunk(c.Offset, c.Data)
		}
	})
	defer writer.Close()

	result, err := executor.Execute(ctx, req, writer)
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}
	writer.Close()

	if result.TimedOut {
		return &Outcome{
			Success: false,
			Error: &model.ErrorResult{
				Error:    model.ErrorDetail{Message: "Job timed out", Kind: "timeout"},
				ExitCode: -1,
				LogsTail: logTail.String(),
			},
		}, nil
	}

	if result.Canceled {
		return &Outcome{
			Success:  false,
			Canceled: true,
			Error: &model.ErrorResult{
				Error:    model.ErrorDetail{Message: "Job canceled", Kind: "canceled"},
				ExitCode: -1,
				LogsTail: logTail.String(),
			},
		}, nil
	}

	resultPath := filepath.Join(scratchDir, "result.json")
	raw, readErr := os.ReadFile(resultPath)
	if result.ExitCode == 0 && readErr == nil {
		normalized, err := normalizeResult(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize result: %w", err)
		}
		return &Outcome{Success: true, Result: normalized, ExitCode: 0}, nil
	}

	// Non-zero exit, or exit 0 with no result file: synthesize a failure
	// from whatever the wrapper wrote plus the log tail (spec §4.E).
	message := "process exited without producing a result"
	if readErr == nil && len(raw) > 0 {
		var wrapperErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &wrapperErr) == nil && wrapperErr.Message != "" {
			message = wrapperErr.Message
		}
	}

	return &Outcome{
		Success:  false,
		ExitCode: result.ExitCode,
		Error: &model.ErrorResult{
			Error:    model.ErrorDetail{Message: message},
			ExitCode: result.ExitCode,
			LogsTail: logTail.String(),
		},
	}, nil
}

func writeArgsFile(scratchDir string, args map[string]any) error {
	data, err := sonic.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	return os.WriteFile(filepath.Join(scratchDir, "args.json"), data, 0o644)
}

// normalizeResult re-encodes raw through sonic with UseNumber so integers
// beyond float64 precision survive the round trip. Integers that fit an
// int64 stay numbers, integers that don't are re-marshaled as plain JSON
// strings of their digits, and fractional or exponent numbers stay numbers
// (spec §4.E "bigints into strings").
func normalizeResult(raw []byte) (json.RawMessage, error) {
	var decoded any
	decoder := sonic.ConfigDefault.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	canonical := canonicalizeNumbers(decoded)
	return sonic.Marshal(canonical)
}

func canonicalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if strings.ContainsAny(t.String(), ".eE") {
			if f, err := t.Float64(); err == nil {
				return f
			}
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = canonicalizeNumbers(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = canonicalizeNumbers(val)
		}
		return out
	default:
		return v
	}
}
