// Package hls implements the MPEG-TS HLS segmenter from spec §4.4: a
// per-stream OriginHubChild that demuxes incoming SharedMessages into
// internal/mpegts, reaps a new .ts file on keyframe-plus-duration,
// regenerates the M3U8 sliding window atomically, and virtualizes player
// sessions behind an opaque hls_ctx token for statistics attribution.
// Grounded on the temp-file-then-rename lifecycle idiom of
// internal/rtmp/media.Recorder, generalized from RTMP-only recording
// into a protocol-agnostic segment writer.
package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethan/streamcore/internal/aac"
	"github.com/ethan/streamcore/internal/flv"
	"github.com/ethan/streamcore/internal/h264"
	"github.com/ethan/streamcore/internal/mpegts"
	"github.com/ethan/streamcore/internal/source"
)

// Config bounds the segmenter's fragment duration, window size, and
// cleanup policy, per spec §4.4/§8.4.
type Config struct {
	FragmentDuration time.Duration
	WindowSize       int
	CleanupEnabled   bool
	OutputDir        string
}

func (c Config) withDefaults() Config {
	if c.FragmentDuration <= 0 {
		c.FragmentDuration = 10 * time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 5
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	return c
}

// Segment describes one reaped TS file in the sliding window, per spec
// §3's Fragment/Segment descriptor.
type Segment struct {
	SequenceNumber uint64
	StartDTS       uint32
	Duration       time.Duration
	Path           string // final on-disk path
	URI            string // URI as advertised in the M3U8
}

// Segmenter is one stream's HLS pipeline; it implements
// source.OriginHubChild so a Source's OriginHub can drive it directly
// alongside DASH/DVR/forward children.
type Segmenter struct {
	cfg        Config
	streamName string

	mu           sync.Mutex
	muxer        *mpegts.Muxer
	hasVideo     bool
	hasAudio     bool
	videoHEVC    bool
	videoDCR     *h264.DecoderConfig
	audioASC     *aac.AudioSpecificConfig
	curFile      *os.File
	curTempPath  string
	curStartDTS  uint32
	curStartWall time.Time
	lastVideoDTS uint32
	seq          uint64
	window       []Segment

	onReap func(Segment)
	onStop func()
}

// New constructs a Segmenter for streamName.
func New(streamName string, cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults(), streamName: streamName}
}

// Name implements source.OriginHubChild.
func (s *Segmenter) Name() string { return "hls" }

// OnHookReap registers a callback invoked with the reaped Segment,
// wired by the caller to the on_hls/on_hls_notify external hooks.
func (s *Segmenter) OnHookReap(fn func(Segment)) { s.onReap = fn }

// OnStop registers a callback fired when the segmenter tears down,
// wired to the on_stop hook.
func (s *Segmenter) OnStop(fn func()) { s.onStop = fn }

// OnMetaData is a no-op for the TS segmenter; metadata has no TS
// representation relevant to playback.
func (s *Segmenter) OnMetaData(*source.SharedMessage) error { return nil }

// OnAudio demuxes and appends an audio SharedMessage to the current
// segment.
func (s *Segmenter) OnAudio(msg *source.SharedMessage) error {
	if msg == nil || msg.Frame == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Frame.IsSequenceHeader() {
		cfg, err := aac.ParseAudioSpecificConfig(msg.Frame.Payload)
		if err != nil {
			return fmt.Errorf("hls: parse audio sequence header: %w", err)
		}
		s.audioASC = cfg
		s.hasAudio = true
		return nil
	}
	if s.audioASC == nil {
		return nil // can't packetize without ASC yet
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	adts := aac.BuildADTSHeader(s.audioASC, len(msg.Frame.Payload))
	frame := append(adts, msg.Frame.Payload...)
	pkts := s.muxer.WriteAudioFrame(uint64(msg.DTS), frame)
	return s.write(pkts)
}

// OnVideo demuxes and appends a video SharedMessage, reaping the current
// segment when a keyframe arrives and the accumulated duration meets the
// configured fragment length, per spec §4.4.
func (s *Segmenter) OnVideo(msg *source.SharedMessage) error {
	if msg == nil || msg.Frame == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Frame.IsSequenceHeader() {
		dcr, err := h264.ParseDecoderConfig(msg.Frame.Payload)
		if err != nil {
			return fmt.Errorf("hls: parse video sequence header: %w", err)
		}
		s.videoDCR = dcr
		s.videoHEVC = msg.Frame.VideoCodec == flv.VideoCodecHEVC
		s.hasVideo = true
		return nil
	}
	if s.videoDCR == nil {
		return nil
	}

	isKey := msg.IsKeyFrame()
	if isKey && s.curFile != nil && time.Duration(msg.DTS-s.curStartDTS)*time.Millisecond >= s.cfg.FragmentDuration {
		if err := s.reap(); err != nil {
			return err
		}
	}
	wasClosed := s.curFile == nil
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if wasClosed {
		s.curStartDTS = msg.DTS
	}

	nalus, err := h264.SplitAVCC(msg.Frame.Payload, 4)
	if err != nil {
		return fmt.Errorf("hls: split avcc: %w", err)
	}
	annexB := h264.AVCCToAnnexB(nalus)
	pts := uint64(int64(msg.DTS) + int64(msg.Frame.CompTimeOff))
	pkts := s.muxer.WriteVideoFrame(pts, uint64(msg.DTS), isKey, annexB)
	s.lastVideoDTS = msg.DTS
	return s.write(pkts)
}

// ensureOpen opens a fresh temp TS file and muxer if none is open. Must
// be called with mu held.
func (s *Segmenter) ensureOpen() error {
	if s.curFile != nil {
		return nil
	}
	if !s.hasVideo && !s.hasAudio {
		return nil
	}
	path := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("%s-%05d.ts.tmp", s.streamName, s.seq))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("hls: create segment: %w", err)
	}
	s.curFile = f
	s.curTempPath = path
	s.curStartWall = time.Now()
	s.muxer = mpegts.NewMuxer(s.hasVideo, s.hasAudio, s.videoHEVC)
	_, err = f.Write(s.muxer.WriteHeader())
	return err
}

func (s *Segmenter) write(pkts []byte) error {
	if s.curFile == nil || len(pkts) == 0 {
		return nil
	}
	_, err := s.curFile.Write(pkts)
	return err
}

// reap closes the current segment, renames it into place, appends it to
// the sliding window, regenerates the M3U8 atomically, and trims
// expired segments per spec §4.4/§8. Must be called with mu held.
func (s *Segmenter) reap() error {
	if s.curFile == nil {
		return nil
	}
	duration := time.Since(s.curStartWall)
	tempPath := s.curTempPath
	if err := s.curFile.Close(); err != nil {
		return fmt.Errorf("hls: close segment: %w", err)
	}

	finalName := fmt.Sprintf("%s-%05d.ts", s.streamName, s.seq)
	finalPath := filepath.Join(s.cfg.OutputDir, finalName)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("hls: rename segment into place: %w", err)
	}

	seg := Segment{
		SequenceNumber: s.seq,
		StartDTS:       s.curStartDTS,
		Duration:       duration,
		Path:           finalPath,
		URI:            finalName,
	}
	s.window = append(s.window, seg)
	s.seq++
	s.curFile = nil
	s.curTempPath = ""
	s.curStartDTS = s.lastVideoDTS

	expired := s.trimWindow()
	if err := s.writePlaylist(); err != nil {
		return err
	}
	if s.cfg.CleanupEnabled {
		for _, e := range expired {
			_ = os.Remove(e.Path)
		}
	}
	if s.onReap != nil {
		s.onReap(seg)
	}
	return nil
}

// trimWindow drops the oldest segments beyond WindowSize, returning the
// ones it dropped so the caller can optionally delete their files.
func (s *Segmenter) trimWindow() []Segment {
	if len(s.window) <= s.cfg.WindowSize {
		return nil
	}
	cut := len(s.window) - s.cfg.WindowSize
	expired := append([]Segment(nil), s.window[:cut]...)
	s.window = s.window[cut:]
	return expired
}

// Window returns a snapshot of the currently advertised segments.
func (s *Segmenter) Window() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, len(s.window))
	copy(out, s.window)
	return out
}

// OnUnpublish closes and reaps any in-flight segment and fires OnStop.
func (s *Segmenter) OnUnpublish() {
	s.mu.Lock()
	_ = s.reap()
	s.mu.Unlock()
	if s.onStop != nil {
		s.onStop()
	}
}
