package source

import "sort"

// mixQueue safety caps, per spec §4.2 step 3 and §4.6: release early if
// either track backs up past these counts even without the 2-and-2
// minimum being met on the other track.
const (
	mixMaxVideo = 100
	mixMaxAudio = 300
	mixMinTrack = 2
)

// MixQueue reorders interleaved audio/video messages into monotonically
// non-decreasing DTS order before they reach GopCache/ConsumerQueue, per
// spec §4.2 step 3: it is a multi-map keyed by DTS that only releases a
// message once at least two audio and two video messages are buffered
// (so a late-arriving same-DTS pair has had a chance to show up), or
// once either track's backlog trips its safety cap.
//
// MixQueue is only ever touched from the publisher's own coroutine (the
// same lane that calls Source.OnAudio/OnVideo), so it needs no locking
// of its own — same single-writer assumption as GopCache's caller.
type MixQueue struct {
	enabled bool
	video   []*SharedMessage
	audio   []*SharedMessage
}

// NewMixQueue returns a MixQueue; enabled selects whether Push actually
// buffers (mix-correct mode) or passes every message straight through.
func NewMixQueue(enabled bool) *MixQueue {
	return &MixQueue{enabled: enabled}
}

// Push buffers msg and returns any messages now eligible for release, in
// DTS order. When mix-correct is disabled, msg is returned immediately.
func (q *MixQueue) Push(msg *SharedMessage) []*SharedMessage {
	if msg == nil {
		return nil
	}
	if !q.enabled {
		return []*SharedMessage{msg}
	}
	if msg.IsVideo() {
		q.video = append(q.video, msg)
	} else if msg.IsAudio() {
		q.audio = append(q.audio, msg)
	} else {
		return []*SharedMessage{msg}
	}

	if len(q.video) >= mixMinTrack && len(q.audio) >= mixMinTrack {
		return q.releaseOne()
	}
	if len(q.video) > mixMaxVideo || len(q.audio) > mixMaxAudio {
		return q.releaseOne()
	}
	return nil
}

// releaseOne pops whichever of video[0]/audio[0] has the lower DTS and
// returns it as a single-element slice, keeping both tracks sorted by
// DTS so ties resolve in arrival order.
func (q *MixQueue) releaseOne() []*SharedMessage {
	sort.SliceStable(q.video, func(i, j int) bool { return q.video[i].DTS < q.video[j].DTS })
	sort.SliceStable(q.audio, func(i, j int) bool { return q.audio[i].DTS < q.audio[j].DTS })

	switch {
	case len(q.video) == 0 && len(q.audio) == 0:
		return nil
	case len(q.video) == 0:
		msg := q.audio[0]
		q.audio = q.audio[1:]
		return []*SharedMessage{msg}
	case len(q.audio) == 0:
		msg := q.video[0]
		q.video = q.video[1:]
		return []*SharedMessage{msg}
	default:
		if q.video[0].DTS <= q.audio[0].DTS {
			msg := q.video[0]
			q.video = q.video[1:]
			return []*SharedMessage{msg}
		}
		msg := q.audio[0]
		q.audio = q.audio[1:]
		return []*SharedMessage{msg}
	}
}

// Flush drains all buffered messages in DTS order, used on unpublish so
// nothing is lost mid-stream.
func (q *MixQueue) Flush() []*SharedMessage {
	var out []*SharedMessage
	for len(q.video) > 0 || len(q.audio) > 0 {
		out = append(out, q.releaseOne()...)
	}
	return out
}
