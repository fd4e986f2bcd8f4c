package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type asyncTask struct {
	next slog.Handler
	rec  slog.Record
}

// AsyncHandler buffers records on a channel and hands them to the relevant
// downstream handler on a dedicated goroutine, keeping callers off the I/O
// path.
type AsyncHandler struct {
	next       slog.Handler
	tasks      chan asyncTask
	dropOnFull bool
	dropped    int64
}

// NewAsyncHandler starts the background drain goroutine and returns a
// handler backed by a buffer of size bufferSize. When dropOnFull is true,
// Handle never blocks: once the buffer is full, records are dropped instead
// of stalling the caller.
func NewAsyncHandler(next slog.Handler, bufferSize int, dropOnFull bool) *AsyncHandler {
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	h := &AsyncHandler{
		next:       next,
		tasks:      make(chan asyncTask, bufferSize),
		dropOnFull: dropOnFull,
	}

	go h.drain()

	return h
}

func (h *AsyncHandler) drain() {
	for t := range h.tasks {
		_ = t.next.Handle(context.Background(), t.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	task := asyncTask{next: h.next, rec: r.Clone()}

	if h.dropOnFull {
		select {
		case h.tasks <- task:
		default:
			atomic.AddInt64(&h.dropped, 1)
		}
		return nil
	}

	h.tasks <- task
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), tasks: h.tasks, dropOnFull: h.dropOnFull}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), tasks: h.tasks, dropOnFull: h.dropOnFull}
}

// Dropped returns the number of records discarded because the buffer was full.
func (h *AsyncHandler) Dropped() int64 {
	return atomic.LoadInt64(&h.dropped)
}
