package sdp

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestMidForKindFindsMatch(t *testing.T) {
	mids := []TransceiverMid{
		{Mid: "0", Kind: webrtc.RTPCodecTypeAudio},
		{Mid: "1", Kind: webrtc.RTPCodecTypeVideo},
	}
	mid, ok := MidForKind(mids, webrtc.RTPCodecTypeVideo)
	if !ok || mid != "1" {
		t.Fatalf("expected video mid 1, got %q ok=%v", mid, ok)
	}
}

func TestMidForKindNoMatch(t *testing.T) {
	mids := []TransceiverMid{{Mid: "0", Kind: webrtc.RTPCodecTypeAudio}}
	if _, ok := MidForKind(mids, webrtc.RTPCodecTypeVideo); ok {
		t.Fatalf("expected no match for video kind")
	}
}
