package exec

import (
	"sync"
	"time"
)

// flushThreshold is the byte threshold that forces a chunk flush even if
// the flush interval has not elapsed (spec §4.E "16 KiB accumulated").
const flushThreshold = 16 * 1024

// flushInterval is the maximum time a chunk is held before flushing (spec
// §4.E "1 s elapsed").
const flushInterval = time.Second

// Chunk is one flushed span of interleaved stdout/stderr output, labeled
// with a monotonic byte offset so consumers can detect gaps or replay from
// a point (spec §4.E "labeled with a monotonic offset").
type Chunk struct {
	Offset int64
	Data   []byte
}

// OutputWriter accumulates stdout/stderr writes from a running child and
// flushes them as Chunks on a time/size/exit trigger. Safe for concurrent
// writes from separate stdout and stderr goroutines.
type OutputWriter struct {
	mu      sync.Mutex
	buf     []byte
	offset  int64
	sink    func(Chunk)
	timer   *time.Timer
	closed  bool
}

// NewOutputWriter creates a writer that calls sink for each flushed chunk.
func NewOutputWriter(sink func(Chunk)) *OutputWriter {
	w := &OutputWriter{sink: sink}
	w.timer = time.AfterFunc(flushInterval, w.flushOnTimer)
	return w
}

// Write implements io.Writer. stdout and stderr lines are interleaved in
// arrival order (spec §4.E).
func (w *OutputWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	if len(w.buf) >= flushThreshold {
		w.flushLocked()
	}
	return len(p), nil
}

func (w *OutputWriter) flushOnTimer() {
	w.mu.Lock()
	w.flushLocked()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.timer.Reset(flushInterval)
	}
}

func (w *OutputWriter) flushLocked() {
	if len(w.buf) == 0 {
		return
	}
	data := w.buf
	w.buf = nil
	chunk := Chunk{Offset: w.offset, Data: data}
	w.offset += int64(len(data))
	if w.sink != nil {
		w.sink(chunk)
	}
}

// Close flushes any remaining buffered output and stops the flush timer
// (spec §4.E "process exited" trigger).
func (w *OutputWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.flushLocked()
	w.closed = true
	w.timer.Stop()
}
