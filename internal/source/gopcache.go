package source

import "sync"

// pureAudioThreshold is the number of consecutive audio-only messages
// (no intervening video) after which GopCache switches to pure-audio
// mode, per spec §3.
const pureAudioThreshold = 115

// GopCache buffers messages since the last video keyframe so a
// newly-subscribing consumer can start decoding immediately instead of
// waiting for the next keyframe. Invariants (spec §3/§8): outside
// pure-audio mode, always begins with a video keyframe when non-empty;
// reset on every new keyframe; reset into "pure audio" mode, which caches
// audio runs, when ≥115 consecutive audio messages arrive with no
// intervening video.
type GopCache struct {
	mu             sync.RWMutex
	frames         []*SharedMessage
	audioRunLength int
	pureAudio      bool
}

// Append adds msg to the cache, applying the keyframe-reset and
// pure-audio-detection rules. Non-AV messages (metadata, control) are
// never cached here; the SequenceHeaderCache and OriginHub handle those.
func (g *GopCache) Append(msg *SharedMessage) {
	if msg == nil || (!msg.IsAudio() && !msg.IsVideo()) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if msg.IsKeyFrame() {
		g.frames = g.frames[:0]
		g.audioRunLength = 0
		g.pureAudio = false
	}

	if msg.IsVideo() {
		g.audioRunLength = 0
	} else {
		g.audioRunLength++
		if g.audioRunLength >= pureAudioThreshold {
			// Clear the stale pre-pure-audio keyframe run rather than let it
			// grow without bound: matches SRS's SrsGopCache clearing itself
			// at this same threshold to avoid running out of memory on a
			// stream that never sends an IDR.
			g.frames = g.frames[:0]
			g.audioRunLength = 0
			g.pureAudio = true
		}
	}

	if len(g.frames) == 0 && !msg.IsKeyFrame() && !g.pureAudio {
		// Outside pure-audio mode, never start the cache on anything but a
		// keyframe; wait for the next IDR.
		return
	}
	g.frames = append(g.frames, msg)
}

// Snapshot returns a copy of the currently cached GOP, safe to iterate
// without holding the cache's lock.
func (g *GopCache) Snapshot() []*SharedMessage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*SharedMessage, len(g.frames))
	copy(out, g.frames)
	return out
}

// PureAudio reports whether the cache is currently in pure-audio mode
// (no keyframe-based GOP semantics apply).
func (g *GopCache) PureAudio() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pureAudio
}

// Clear empties the cache, used on republish.
func (g *GopCache) Clear() {
	g.mu.Lock()
	g.frames = nil
	g.audioRunLength = 0
	g.pureAudio = false
	g.mu.Unlock()
}
