// Package dash implements the fragmented-MP4 DASH segmenter from spec
// §4.5: per-track init.mp4 + numbered m4s fragments, window sliding, and
// an MPD writer. Grounded on the same temp-file-then-rename lifecycle
// idiom as internal/hls (itself grounded on internal/rtmp/media.Recorder)
// and on internal/fmp4 for box construction.
package dash

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethan/streamcore/internal/aac"
	"github.com/ethan/streamcore/internal/fmp4"
	"github.com/ethan/streamcore/internal/h264"
	"github.com/ethan/streamcore/internal/source"
)

// Config bounds the segmenter's fragment duration and window size, per
// spec §4.5/§8.
type Config struct {
	FragmentDuration time.Duration
	WindowSize       int
	CleanupEnabled   bool
	OutputDir        string
}

func (c Config) withDefaults() Config {
	if c.FragmentDuration <= 0 {
		c.FragmentDuration = 4 * time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 5
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	return c
}

// trackState accumulates samples for one track (video or audio) between
// fragment boundaries.
type trackState struct {
	trackID      uint32
	isVideo      bool
	timescale    uint32
	seq          uint32
	baseDecodeMS uint64
	samples      []fmp4.Sample
	segStartDTS  uint32
	lastDTS      uint32
	haveLastDTS  bool
	window       []Segment
}

// Segment mirrors internal/hls.Segment for the fMP4 case, per spec §3's
// shared Fragment/Segment descriptor.
type Segment struct {
	SequenceNumber uint32
	StartDTS       uint32
	Duration       time.Duration
	Path           string
	URI            string
}

// Segmenter is one stream's DASH pipeline, implementing
// source.OriginHubChild.
type Segmenter struct {
	cfg        Config
	streamName string

	mu             sync.Mutex
	video          *trackState
	audio          *trackState
	videoDCR       *h264.DecoderConfig
	audioASC       *aac.AudioSpecificConfig
	width, height  uint16
	initTracks     int  // number of tracks folded into the last written init segment
	videoReaped    bool // consumed by the next audio frame, per spec §4.5
	availabilityAt time.Time
	firstDTS       uint32
	haveFirstDTS   bool
}

// New constructs a Segmenter for streamName.
func New(streamName string, cfg Config) *Segmenter {
	return &Segmenter{
		cfg:        cfg.withDefaults(),
		streamName: streamName,
		video:      &trackState{trackID: 1, isVideo: true, timescale: 1000},
		audio:      &trackState{trackID: 2, isVideo: false, timescale: 1000},
	}
}

// Name implements source.OriginHubChild.
func (s *Segmenter) Name() string { return "dash" }

// OnMetaData is a no-op; DASH carries dimensions via the init segment,
// populated once the video sequence header arrives.
func (s *Segmenter) OnMetaData(*source.SharedMessage) error { return nil }

func (s *Segmenter) markFirstDTS(dts uint32) {
	if !s.haveFirstDTS {
		s.haveFirstDTS = true
		s.firstDTS = dts
		s.availabilityAt = time.Now().Add(-time.Duration(dts) * time.Millisecond)
	}
}

// maybeWriteInit (re)writes init.mp4 whenever the set of known tracks
// grows: a video-only publish that gains an audio sequence header later
// must end up with both tracks in the init segment, not just whichever
// arrived first, so this regenerates rather than writing once-and-done.
// The temp-then-rename is atomic, so readers never observe a partial file.
func (s *Segmenter) maybeWriteInit() error {
	if s.videoDCR == nil {
		return nil
	}
	tracks := []fmp4.TrackConfig{
		{TrackID: s.video.trackID, Timescale: s.video.timescale, IsVideo: true,
			Width: s.width, Height: s.height, AVCConfig: h264.BuildDecoderConfig(s.videoDCR)},
	}
	if s.audioASC != nil {
		tracks = append(tracks, fmp4.TrackConfig{
			TrackID: s.audio.trackID, Timescale: s.audio.timescale, IsVideo: false,
			ASC: aac.BuildAudioSpecificConfig(s.audioASC),
			SampleRate: uint32(s.audioASC.SampleRate), Channels: uint16(s.audioASC.ChannelConfig),
		})
	}
	if len(tracks) == s.initTracks {
		return nil
	}
	init := fmp4.BuildInitSegment(tracks)
	path := filepath.Join(s.cfg.OutputDir, s.streamName+"-init.mp4")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, init, 0o644); err != nil {
		return fmt.Errorf("dash: write init segment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("dash: rename init segment into place: %w", err)
	}
	s.initTracks = len(tracks)
	return nil
}
