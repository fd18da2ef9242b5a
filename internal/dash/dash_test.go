package dash

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethan/streamcore/internal/aac"
	"github.com/ethan/streamcore/internal/flv"
	"github.com/ethan/streamcore/internal/h264"
	"github.com/ethan/streamcore/internal/source"
)

func videoSeqHeader(t *testing.T) *source.SharedMessage {
	t.Helper()
	dcr := h264.BuildDecoderConfig(&h264.DecoderConfig{
		ProfileIndication: 0x64, ProfileCompatibility: 0, LevelIndication: 0x1e,
		SPS: [][]byte{{0x67, 0x01, 0x02}},
		PPS: [][]byte{{0x68, 0x03}},
	})
	return &source.SharedMessage{
		Type: source.MessageVideo,
		Frame: &flv.Frame{
			IsVideo: true, PacketType: flv.PacketTypeSequenceHeader,
			Payload: dcr,
		},
	}
}

func audioSeqHeader(t *testing.T) *source.SharedMessage {
	t.Helper()
	asc := aac.BuildAudioSpecificConfig(&aac.AudioSpecificConfig{
		ObjectType: 2, SampleRateIndex: 3, SampleRate: 48000, ChannelConfig: 2,
	})
	return &source.SharedMessage{
		Type: source.MessageAudio,
		Frame: &flv.Frame{
			IsVideo: false, PacketType: flv.PacketTypeSequenceHeader,
			Payload: asc,
		},
	}
}

func videoFrame(dts uint32, key bool) *source.SharedMessage {
	ft := flv.FrameTypeInter
	if key {
		ft = flv.FrameTypeKey
	}
	nalu := []byte{0x65, 0x01, 0x02, 0x03}
	if !key {
		nalu = []byte{0x61, 0x01, 0x02}
	}
	avcc := h264.AnnexBToAVCC([][]byte{nalu})
	return &source.SharedMessage{
		Type: source.MessageVideo, DTS: dts,
		Frame: &flv.Frame{
			IsVideo: true, FrameType: ft, PacketType: flv.PacketTypeRaw,
			Payload: avcc,
		},
	}
}

func audioFrame(dts uint32) *source.SharedMessage {
	return &source.SharedMessage{
		Type: source.MessageAudio, DTS: dts,
		Frame: &flv.Frame{
			IsVideo: false, PacketType: flv.PacketTypeRaw,
			Payload: []byte{0xAA, 0xBB, 0xCC},
		},
	}
}

func newTestSegmenter(t *testing.T) *Segmenter {
	t.Helper()
	dir := t.TempDir()
	return New("teststream", Config{
		FragmentDuration: 2 * time.Second,
		WindowSize:       3,
		CleanupEnabled:   true,
		OutputDir:        dir,
	})
}

func TestDashInitSegmentWrittenAfterVideoSequenceHeader(t *testing.T) {
	s := newTestSegmenter(t)

	if err := s.OnVideo(videoSeqHeader(t)); err != nil {
		t.Fatalf("OnVideo seq header: %v", err)
	}
	initPath := filepath.Join(s.cfg.OutputDir, "teststream-init.mp4")
	if _, err := os.Stat(initPath); err != nil {
		t.Fatalf("expected init segment written after video sequence header: %v", err)
	}
	if s.initTracks != 1 {
		t.Fatalf("expected 1 track folded into init segment, got %d", s.initTracks)
	}
}

func TestDashVideoReapsOnKeyframeAfterFragmentDuration(t *testing.T) {
	s := newTestSegmenter(t)
	if err := s.OnVideo(videoSeqHeader(t)); err != nil {
		t.Fatalf("seq header: %v", err)
	}

	// First keyframe opens the fragment.
	if err := s.OnVideo(videoFrame(0, true)); err != nil {
		t.Fatalf("OnVideo: %v", err)
	}
	if err := s.OnVideo(videoFrame(500, false)); err != nil {
		t.Fatalf("OnVideo: %v", err)
	}
	if len(s.VideoWindow()) != 0 {
		t.Fatalf("expected no reap yet, window=%v", s.VideoWindow())
	}

	// A keyframe before fragment duration elapses must NOT reap.
	if err := s.OnVideo(videoFrame(1000, true)); err != nil {
		t.Fatalf("OnVideo: %v", err)
	}
	if len(s.VideoWindow()) != 0 {
		t.Fatalf("expected no reap before fragment duration elapses, window=%v", s.VideoWindow())
	}

	// A keyframe at/after the configured 2s fragment duration must reap.
	if err := s.OnVideo(videoFrame(2100, true)); err != nil {
		t.Fatalf("OnVideo: %v", err)
	}
	win := s.VideoWindow()
	if len(win) != 1 {
		t.Fatalf("expected 1 reaped fragment, got %d: %v", len(win), win)
	}
	if win[0].SequenceNumber != 1 {
		t.Fatalf("expected sequence number 1, got %d", win[0].SequenceNumber)
	}
	if _, err := os.Stat(win[0].Path); err != nil {
		t.Fatalf("reaped fragment file missing: %v", err)
	}
}

func TestDashSequenceNumbersStrictlyIncreasing(t *testing.T) {
	s := newTestSegmenter(t)
	if err := s.OnVideo(videoSeqHeader(t)); err != nil {
		t.Fatalf("seq header: %v", err)
	}

	dts := uint32(0)
	for frag := 0; frag < 4; frag++ {
		if err := s.OnVideo(videoFrame(dts, true)); err != nil {
			t.Fatalf("OnVideo: %v", err)
		}
		dts += 2100
	}
	// Flush the last open fragment.
	s.OnUnpublish()

	win := s.VideoWindow()
	if len(win) == 0 {
		t.Fatal("expected reaped fragments")
	}
	for i := 1; i < len(win); i++ {
		if win[i].SequenceNumber <= win[i-1].SequenceNumber {
			t.Fatalf("sequence numbers not strictly increasing: %v", win)
		}
	}
}

func TestDashWindowSlidesAndCleansUpExpiredFragments(t *testing.T) {
	s := newTestSegmenter(t)
	if err := s.OnVideo(videoSeqHeader(t)); err != nil {
		t.Fatalf("seq header: %v", err)
	}

	dts := uint32(0)
	var firstPath string
	for frag := 0; frag < 5; frag++ {
		if err := s.OnVideo(videoFrame(dts, true)); err != nil {
			t.Fatalf("OnVideo: %v", err)
		}
		if frag == 0 {
			// capture path of the very first reaped fragment once it exists
		}
		dts += 2100
		win := s.VideoWindow()
		if len(win) > 0 && firstPath == "" {
			firstPath = win[0].Path
		}
	}
	s.OnUnpublish()

	win := s.VideoWindow()
	if len(win) > s.cfg.WindowSize {
		t.Fatalf("window exceeds configured size: %d > %d", len(win), s.cfg.WindowSize)
	}
	if firstPath != "" {
		if _, err := os.Stat(firstPath); err == nil {
			t.Fatalf("expected expired fragment to be cleaned up: %s", firstPath)
		}
	}
}

func TestDashAudioReapsAfterVideoReap(t *testing.T) {
	s := newTestSegmenter(t)
	if err := s.OnVideo(videoSeqHeader(t)); err != nil {
		t.Fatalf("video seq header: %v", err)
	}
	if err := s.OnAudio(audioSeqHeader(t)); err != nil {
		t.Fatalf("audio seq header: %v", err)
	}

	if err := s.OnVideo(videoFrame(0, true)); err != nil {
		t.Fatalf("OnVideo: %v", err)
	}
	if err := s.OnAudio(audioFrame(0)); err != nil {
		t.Fatalf("OnAudio: %v", err)
	}
	if err := s.OnVideo(videoFrame(2100, true)); err != nil {
		t.Fatalf("OnVideo reap: %v", err)
	}
	if !s.videoReaped {
		t.Fatal("expected videoReaped flag set after video reap")
	}

	if err := s.OnAudio(audioFrame(2100)); err != nil {
		t.Fatalf("OnAudio: %v", err)
	}
	if s.videoReaped {
		t.Fatal("expected videoReaped flag consumed by the next audio frame")
	}
	if len(s.AudioWindow()) != 1 {
		t.Fatalf("expected audio fragment reaped alongside video, got %d", len(s.AudioWindow()))
	}
}

func TestDashMPDShapeMatchesSpec(t *testing.T) {
	s := newTestSegmenter(t)
	s.width, s.height = 1280, 720

	if err := s.OnVideo(videoSeqHeader(t)); err != nil {
		t.Fatalf("video seq header: %v", err)
	}
	if err := s.OnAudio(audioSeqHeader(t)); err != nil {
		t.Fatalf("audio seq header: %v", err)
	}
	if err := s.OnVideo(videoFrame(0, true)); err != nil {
		t.Fatalf("OnVideo: %v", err)
	}
	if err := s.OnVideo(videoFrame(2100, true)); err != nil {
		t.Fatalf("OnVideo reap: %v", err)
	}

	mpdPath := filepath.Join(s.cfg.OutputDir, "teststream.mpd")
	data, err := os.ReadFile(mpdPath)
	if err != nil {
		t.Fatalf("read mpd: %v", err)
	}

	var doc mpd
	if err := xml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal mpd: %v", err)
	}
	if doc.Type != "dynamic" {
		t.Fatalf("expected type=dynamic, got %q", doc.Type)
	}
	if doc.Period.Start != "PT0S" {
		t.Fatalf("expected Period start=PT0S, got %q", doc.Period.Start)
	}
	if len(doc.Period.AdaptationSets) != 1 {
		t.Fatalf("expected 1 AdaptationSet (video only, no audio fragment reaped yet), got %d", len(doc.Period.AdaptationSets))
	}
	videoSet := doc.Period.AdaptationSets[0]
	if videoSet.Representation.Width != 1280 || videoSet.Representation.Height != 720 {
		t.Fatalf("expected 1280x720, got %dx%d", videoSet.Representation.Width, videoSet.Representation.Height)
	}
	if videoSet.Representation.SegmentTemplate.StartNumber != s.video.window[0].SequenceNumber {
		t.Fatalf("startNumber %d does not match first in-window segment %d",
			videoSet.Representation.SegmentTemplate.StartNumber, s.video.window[0].SequenceNumber)
	}
	if len(videoSet.Representation.SegmentTemplate.Timeline) != len(s.video.window) {
		t.Fatalf("expected one SegmentTimeline S element per windowed segment")
	}
}
