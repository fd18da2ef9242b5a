package breaker

import (
	"log/slog"
)

// AsyncCallTask is one unit of offloaded work: a DVR write, an HTTP
// hook delivery, or any other side effect the ingest path must not
// block on, per spec §4.10.
type AsyncCallTask func() error

// AsyncWorker is the single-consumer FIFO queue from spec §4.10,
// grounded on internal/rtmp/server/hooks.executionPool's worker-slot
// idiom but simplified to exactly one consumer goroutine (the spec
// calls for "a single worker"), so producers never observe backpressure
// beyond the channel's buffer and task failures never propagate back to
// the enqueuing coroutine.
type AsyncWorker struct {
	tasks  chan AsyncCallTask
	logger *slog.Logger
	done   chan struct{}
}

// NewAsyncWorker constructs a worker with the given queue depth and
// starts its consumer goroutine.
func NewAsyncWorker(queueDepth int, logger *slog.Logger) *AsyncWorker {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &AsyncWorker{
		tasks:  make(chan AsyncCallTask, queueDepth),
		logger: logger,
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *AsyncWorker) run() {
	defer close(w.done)
	for task := range w.tasks {
		if err := task(); err != nil {
			w.logger.Warn("async task failed", "error", err)
		}
	}
}

// Enqueue submits task without blocking the caller on its execution. If
// the queue is full, Enqueue blocks the producer briefly rather than
// drop work silently; callers on a hard-realtime path should size
// queueDepth generously or check Len first.
func (w *AsyncWorker) Enqueue(task AsyncCallTask) {
	w.tasks <- task
}

// TryEnqueue submits task only if the queue has room, returning false
// (and never running task) if it is full.
func (w *AsyncWorker) TryEnqueue(task AsyncCallTask) bool {
	select {
	case w.tasks <- task:
		return true
	default:
		return false
	}
}

// Len reports the current queue depth, for diagnostics.
func (w *AsyncWorker) Len() int { return len(w.tasks) }

// Close stops accepting new tasks and waits for the consumer to drain
// and exit.
func (w *AsyncWorker) Close() {
	close(w.tasks)
	<-w.done
}
