package hls

import (
	"os"
	"testing"
	"time"

	"github.com/ethan/streamcore/internal/aac"
	"github.com/ethan/streamcore/internal/flv"
	"github.com/ethan/streamcore/internal/h264"
	"github.com/ethan/streamcore/internal/source"
)

func avccFrame(nalus ...[]byte) []byte {
	return h264.AnnexBToAVCC(nalus)
}

func videoMessage(dts uint32, key bool, payload []byte) *source.SharedMessage {
	ft := flv.FrameTypeInter
	if key {
		ft = flv.FrameTypeKey
	}
	return &source.SharedMessage{
		Type: source.MessageVideo,
		DTS:  dts,
		Frame: &flv.Frame{
			IsVideo:    true,
			VideoCodec: flv.VideoCodecAVC,
			FrameType:  ft,
			PacketType: flv.PacketTypeRaw,
			Payload:    payload,
		},
	}
}

func videoSeqHeader(dcr []byte) *source.SharedMessage {
	return &source.SharedMessage{
		Type: source.MessageVideo,
		Frame: &flv.Frame{
			IsVideo:    true,
			VideoCodec: flv.VideoCodecAVC,
			PacketType: flv.PacketTypeSequenceHeader,
			Payload:    dcr,
		},
	}
}

func audioSeqHeader(asc []byte) *source.SharedMessage {
	return &source.SharedMessage{
		Type: source.MessageAudio,
		Frame: &flv.Frame{
			AudioCodec: flv.AudioCodecAAC,
			PacketType: flv.PacketTypeSequenceHeader,
			Payload:    asc,
		},
	}
}

func audioMessage(dts uint32, payload []byte) *source.SharedMessage {
	return &source.SharedMessage{
		Type: source.MessageAudio,
		DTS:  dts,
		Frame: &flv.Frame{
			AudioCodec: flv.AudioCodecAAC,
			PacketType: flv.PacketTypeRaw,
			Payload:    payload,
		},
	}
}

func TestSegmenter_ReapsOnKeyframeAfterFragmentDuration(t *testing.T) {
	dir := t.TempDir()
	s := New("stream", Config{FragmentDuration: 100 * time.Millisecond, WindowSize: 3, OutputDir: dir})

	dcr := h264.BuildDecoderConfig(&h264.DecoderConfig{
		ProfileIndication: 0x64, LevelIndication: 0x1f,
		SPS: [][]byte{{0x67, 0x64, 0x00}},
		PPS: [][]byte{{0x68, 0xEB}},
	})
	if err := s.OnVideo(videoSeqHeader(dcr)); err != nil {
		t.Fatalf("seq header: %v", err)
	}
	ascBytes := aac.BuildAudioSpecificConfig(&aac.AudioSpecificConfig{ObjectType: 2, SampleRateIndex: 4, ChannelConfig: 2})
	if err := s.OnAudio(audioSeqHeader(ascBytes)); err != nil {
		t.Fatalf("audio seq header: %v", err)
	}

	if err := s.OnVideo(videoMessage(0, true, avccFrame([]byte{0x65, 0x01, 0x02}))); err != nil {
		t.Fatalf("keyframe: %v", err)
	}
	if err := s.OnVideo(videoMessage(150, true, avccFrame([]byte{0x65, 0x03, 0x04}))); err != nil {
		t.Fatalf("second keyframe: %v", err)
	}

	win := s.Window()
	if len(win) != 1 {
		t.Fatalf("expected one reaped segment after a 150ms gap with a 100ms fragment target, got %d", len(win))
	}
	if _, err := os.Stat(win[0].Path); err != nil {
		t.Fatalf("expected reaped segment file to exist on disk: %v", err)
	}
	if _, err := os.Stat(win[0].Path + ".tmp"); err == nil {
		t.Fatalf("expected temp file to have been renamed away")
	}
}

func TestSegmenter_WindowEveryURIHasBackingFile(t *testing.T) {
	dir := t.TempDir()
	s := New("stream", Config{FragmentDuration: 10 * time.Millisecond, WindowSize: 2, OutputDir: dir})

	dcr := h264.BuildDecoderConfig(&h264.DecoderConfig{SPS: [][]byte{{0x67}}, PPS: [][]byte{{0x68}}})
	_ = s.OnVideo(videoSeqHeader(dcr))

	for i := 0; i < 5; i++ {
		dts := uint32(i * 20)
		if err := s.OnVideo(videoMessage(dts, true, avccFrame([]byte{0x65, byte(i)}))); err != nil {
			t.Fatalf("video %d: %v", i, err)
		}
	}
	_ = s.reapLocked()

	for _, seg := range s.Window() {
		if _, err := os.Stat(seg.Path); err != nil {
			t.Fatalf("segment %s missing backing file: %v", seg.URI, err)
		}
	}
}

// reapLocked is a tiny test-only helper so the final in-flight segment
// is flushed without waiting for OnUnpublish semantics in this package's
// own test file.
func (s *Segmenter) reapLocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reap()
}
