// Package tsingest implements MPEG-TS-over-UDP ingest (spec §4.6): byte
// alignment to the 0x47 sync byte, PES demultiplexing via internal/mpegts,
// SID-quirk remapping, and Annex-B/ADTS to internal/source.SharedMessage
// rewriting, pushed through a per-publisher dedup-by-DTS queue shared
// with internal/srt.
package tsingest

import "github.com/ethan/streamcore/internal/source"

// Dedup queue safety caps from spec §4.6 bullet 4, shared verbatim with
// the MixQueue's own caps in internal/source.
const (
	maxQueuedVideo = 100
	maxQueuedAudio = 300
	maxCollisionBumps = 10
)

// DedupQueue collapses PES-derived messages keyed by DTS: an insertion
// that collides with an already-queued DTS is bumped forward by 1ms, up
// to maxCollisionBumps tries, then dropped. It releases messages once at
// least two audio and two video entries are queued, or either safety cap
// is exceeded — the same "dequeue on 2A/2V or overflow" rule spec §4.6
// names for the per-publisher ingest queue (distinct from, but
// structurally identical to, internal/source.MixQueue, since ingest
// needs to dedup before the messages even reach the Source).
type DedupQueue struct {
	byDTS      map[uint32]*source.SharedMessage
	order      []uint32
	videoCount int
	audioCount int
}

// NewDedupQueue constructs an empty DedupQueue.
func NewDedupQueue() *DedupQueue {
	return &DedupQueue{byDTS: make(map[uint32]*source.SharedMessage)}
}

// Push inserts msg, bumping its DTS on collision, and returns any
// messages now eligible for release in ascending DTS order.
func (q *DedupQueue) Push(msg *source.SharedMessage) []*source.SharedMessage {
	dts := msg.DTS
	for tries := 0; tries < maxCollisionBumps; tries++ {
		if _, collide := q.byDTS[dts]; !collide {
			break
		}
		dts++
	}
	if _, stillCollides := q.byDTS[dts]; stillCollides {
		return nil // dropped: exhausted collision-bump budget
	}
	msg.DTS = dts
	q.byDTS[dts] = msg
	q.order = append(q.order, dts)
	if msg.IsVideo() {
		q.videoCount++
	} else if msg.IsAudio() {
		q.audioCount++
	}

	if q.videoCount >= 2 && q.audioCount >= 2 {
		return q.drainAll()
	}
	if q.videoCount > maxQueuedVideo || q.audioCount > maxQueuedAudio {
		return q.drainAll()
	}
	return nil
}

// drainAll releases every queued message in ascending DTS order and
// resets the queue's bookkeeping.
func (q *DedupQueue) drainAll() []*source.SharedMessage {
	out := make([]*source.SharedMessage, 0, len(q.order))
	sortUint32(q.order)
	for _, dts := range q.order {
		out = append(out, q.byDTS[dts])
	}
	q.byDTS = make(map[uint32]*source.SharedMessage)
	q.order = nil
	q.videoCount = 0
	q.audioCount = 0
	return out
}

func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
