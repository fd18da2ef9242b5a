package source

import (
	"sync"
)

// JitterMode selects how ConsumerQueue rewrites DTS on enqueue, per
// spec §3 ("time-jitter corrector (modes: full/zero/off)").
type JitterMode uint8

const (
	// JitterFull rebases DTS on the first enqueued message as
	// base + (dts - first), with base equal to that first DTS, so values
	// pass through unchanged; backward jumps and forward gaps are not
	// smoothed.
	JitterFull JitterMode = iota
	// JitterZero pins every enqueued message's DTS to the first one's,
	// used by sinks that derive timing from arrival order only.
	JitterZero
	// JitterOff passes DTS through unmodified.
	JitterOff
)

// defaultQueueDurationMS bounds a single consumer's backlog before the
// shrink-on-overflow policy engages, expressed as a duration budget
// rather than a fixed message count so slow/fast streams both get a
// comparable cushion, per spec §3 ConsumerQueue.
const defaultQueueDurationMS = 3000

// ConsumerQueue is a single subscriber's bounded inbox. It is fed by the
// Source's publisher-side coroutine and drained by the subscriber's own
// session loop; per spec §5 both run on the logically same lane (no
// cross-coroutine contention once the snapshot is taken), mirrored here
// with a mutex guarding only the slice manipulation itself — the same
// narrow-critical-section idiom as internal/rtmp/server.Stream.
type ConsumerQueue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	messages    []*SharedMessage
	durationMS  int64
	closed      bool
	jitterMode  JitterMode
	lastDTS     uint32
	haveLastDTS bool
	baseDTS     uint32
	firstDTS    uint32
	haveFirst   bool
}

// NewConsumerQueue constructs a queue with the given duration budget (ms)
// and jitter-correction mode.
func NewConsumerQueue(durationMS int64, mode JitterMode) *ConsumerQueue {
	if durationMS <= 0 {
		durationMS = defaultQueueDurationMS
	}
	q := &ConsumerQueue{durationMS: durationMS, jitterMode: mode}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends msg, applying the jitter correction for this consumer,
// then the shrink-on-overflow policy if the duration budget is exceeded.
func (q *ConsumerQueue) Enqueue(msg *SharedMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	corrected := *msg
	corrected.DTS = q.correctDTS(msg.DTS)
	q.messages = append(q.messages, &corrected)

	if q.spanMS() > q.durationMS {
		q.shrink()
	}
	q.cond.Signal()
}

// correctDTS applies the configured JitterMode. Must be called with mu
// held.
func (q *ConsumerQueue) correctDTS(dts uint32) uint32 {
	switch q.jitterMode {
	case JitterZero:
		if q.haveLastDTS {
			return q.lastDTS
		}
		q.haveLastDTS = true
		q.lastDTS = dts
		return dts
	case JitterOff:
		q.lastDTS = dts
		q.haveLastDTS = true
		return dts
	default: // JitterFull
		if !q.haveFirst {
			q.haveFirst = true
			q.firstDTS = dts
			q.baseDTS = dts
		}
		out := q.baseDTS + (dts - q.firstDTS)
		q.lastDTS = out
		q.haveLastDTS = true
		return out
	}
}

// spanMS returns the DTS span (last - first) of buffered messages. Must
// be called with mu held.
func (q *ConsumerQueue) spanMS() int64 {
	if len(q.messages) < 2 {
		return 0
	}
	first := q.messages[0].DTS
	last := q.messages[len(q.messages)-1].DTS
	return int64(last) - int64(first)
}

// shrink implements the overflow policy from spec §3: drop one whole GOP
// from the front; if no keyframe exists in the buffer, clear entirely.
// Must be called with mu held.
func (q *ConsumerQueue) shrink() {
	cut := -1
	for i := 1; i < len(q.messages); i++ {
		if q.messages[i].IsKeyFrame() {
			cut = i
			break
		}
	}
	if cut < 0 {
		q.messages = q.messages[:0]
		return
	}
	remaining := make([]*SharedMessage, len(q.messages)-cut)
	copy(remaining, q.messages[cut:])
	q.messages = remaining
}

// Dequeue blocks until at least one message is available or the queue is
// closed, returning (nil, false) in the latter case.
func (q *ConsumerQueue) Dequeue() (*SharedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.messages) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.messages) == 0 {
		return nil, false
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, true
}

// TryDequeue is the non-blocking counterpart used by poll-driven sinks.
func (q *ConsumerQueue) TryDequeue() (*SharedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil, false
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, true
}

// Close wakes any blocked Dequeue and marks the queue unusable for
// further enqueues.
func (q *ConsumerQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len reports the current backlog size, for diagnostics/tests.
func (q *ConsumerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
