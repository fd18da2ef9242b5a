package source

import (
	"testing"

	"github.com/ethan/streamcore/internal/flv"
)

func keyFrameMsg(dts uint32) *SharedMessage {
	return &SharedMessage{
		Type: MessageVideo, DTS: dts,
		Frame: &flv.Frame{IsVideo: true, FrameType: flv.FrameTypeKey},
	}
}

func interFrameMsg(dts uint32) *SharedMessage {
	return &SharedMessage{
		Type: MessageVideo, DTS: dts,
		Frame: &flv.Frame{IsVideo: true, FrameType: flv.FrameTypeInter},
	}
}

func audioMsg(dts uint32) *SharedMessage {
	return &SharedMessage{Type: MessageAudio, DTS: dts, Frame: &flv.Frame{IsVideo: false}}
}

func TestGopCacheBeginsWithKeyframe(t *testing.T) {
	var g GopCache
	g.Append(interFrameMsg(0)) // must be ignored, no keyframe yet
	if len(g.Snapshot()) != 0 {
		t.Fatalf("expected cache to stay empty until a keyframe arrives, got %d frames", len(g.Snapshot()))
	}
	g.Append(keyFrameMsg(1))
	g.Append(interFrameMsg(2))
	snap := g.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(snap))
	}
	if !snap[0].IsKeyFrame() {
		t.Fatal("expected cache to begin with the video keyframe")
	}
}

func TestGopCacheResetsOnNewKeyframe(t *testing.T) {
	var g GopCache
	g.Append(keyFrameMsg(0))
	g.Append(interFrameMsg(1))
	g.Append(interFrameMsg(2))
	if len(g.Snapshot()) != 3 {
		t.Fatalf("expected 3 frames before reset, got %d", len(g.Snapshot()))
	}
	g.Append(keyFrameMsg(3))
	snap := g.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected cache cleared to just the new keyframe, got %d frames", len(snap))
	}
}

func TestGopCachePureAudioModeClearsStaleKeyframeAndBoundsMemory(t *testing.T) {
	var g GopCache
	g.Append(keyFrameMsg(0))
	g.Append(interFrameMsg(1))
	if g.PureAudio() {
		t.Fatal("expected pure-audio mode not yet engaged")
	}

	dts := uint32(2)
	for i := 0; i < pureAudioThreshold; i++ {
		g.Append(audioMsg(dts))
		dts++
	}
	if !g.PureAudio() {
		t.Fatal("expected pure-audio mode engaged after pureAudioThreshold consecutive audio messages")
	}

	snap := g.Snapshot()
	// The stale pre-pure-audio video keyframe/inter-frame run must be purged;
	// only the audio message that tipped the threshold should remain.
	if len(snap) != 1 {
		t.Fatalf("expected stale cache purged on pure-audio transition, got %d frames: %+v", len(snap), snap)
	}
	if !snap[0].IsAudio() {
		t.Fatalf("expected remaining frame to be audio, got type %v", snap[0].Type)
	}

	// Feeding another full run of audio must not grow the cache without
	// bound: it should clear again every time the run length re-hits the
	// threshold, supplying the max-frames bound spec §3 requires.
	for i := 0; i < pureAudioThreshold; i++ {
		g.Append(audioMsg(dts))
		dts++
	}
	if len(g.Snapshot()) > pureAudioThreshold {
		t.Fatalf("expected pure-audio cache to stay bounded, got %d frames", len(g.Snapshot()))
	}
}

func TestGopCacheVideoAfterPureAudioResetsRunLength(t *testing.T) {
	var g GopCache
	g.Append(keyFrameMsg(0))
	dts := uint32(1)
	for i := 0; i < pureAudioThreshold; i++ {
		g.Append(audioMsg(dts))
		dts++
	}
	if !g.PureAudio() {
		t.Fatal("expected pure-audio mode engaged")
	}

	g.Append(keyFrameMsg(dts))
	if g.PureAudio() {
		t.Fatal("expected a new keyframe to exit pure-audio mode")
	}
	snap := g.Snapshot()
	if len(snap) != 1 || !snap[0].IsKeyFrame() {
		t.Fatalf("expected cache reset to just the new keyframe, got %+v", snap)
	}
}

func TestGopCacheClear(t *testing.T) {
	var g GopCache
	g.Append(keyFrameMsg(0))
	g.Append(interFrameMsg(1))
	g.Clear()
	if len(g.Snapshot()) != 0 {
		t.Fatal("expected Clear to empty the cache")
	}
	if g.PureAudio() {
		t.Fatal("expected Clear to reset pure-audio mode")
	}
}
