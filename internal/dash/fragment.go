package dash

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethan/streamcore/internal/aac"
	"github.com/ethan/streamcore/internal/fmp4"
	"github.com/ethan/streamcore/internal/h264"
	"github.com/ethan/streamcore/internal/source"
)

// OnVideo appends a video SharedMessage to the open video fragment,
// reaping it once a keyframe arrives and the accumulated duration meets
// the configured fragment length, per spec §4.5.
func (s *Segmenter) OnVideo(msg *source.SharedMessage) error {
	if msg == nil || msg.Frame == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Frame.IsSequenceHeader() {
		dcr, err := h264.ParseDecoderConfig(msg.Frame.Payload)
		if err != nil {
			return fmt.Errorf("dash: parse video sequence header: %w", err)
		}
		s.videoDCR = dcr
		return s.maybeWriteInit()
	}
	if s.videoDCR == nil {
		return nil
	}
	s.markFirstDTS(msg.DTS)

	isKey := msg.IsKeyFrame()
	if isKey && len(s.video.samples) > 0 && s.fragmentDurationMS(s.video, msg.DTS) >= s.cfg.FragmentDuration.Milliseconds() {
		if err := s.reapVideo(); err != nil {
			return err
		}
	}
	if len(s.video.samples) == 0 {
		s.video.segStartDTS = msg.DTS
	}

	nalus, err := h264.SplitAVCC(msg.Frame.Payload, 4)
	if err != nil {
		return fmt.Errorf("dash: split avcc: %w", err)
	}
	annexB := h264.AVCCToAnnexB(nalus)
	s.video.samples = append(s.video.samples, fmp4.Sample{
		Duration:    s.durationSincePrev(s.video, msg.DTS),
		IsSync:      isKey,
		CompTimeOff: msg.Frame.CompTimeOff,
		Data:        annexB,
	})
	s.video.lastDTS = msg.DTS
	return nil
}

// OnAudio appends an audio SharedMessage to the open audio fragment.
// Audio reaps immediately after a video reap to align timestamps, per
// spec §4.5's "video_reaped flag consumed on the next audio frame".
func (s *Segmenter) OnAudio(msg *source.SharedMessage) error {
	if msg == nil || msg.Frame == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Frame.IsSequenceHeader() {
		cfg, err := aac.ParseAudioSpecificConfig(msg.Frame.Payload)
		if err != nil {
			return fmt.Errorf("dash: parse audio sequence header: %w", err)
		}
		s.audioASC = cfg
		return s.maybeWriteInit()
	}
	if s.audioASC == nil {
		return nil
	}
	s.markFirstDTS(msg.DTS)

	if s.videoReaped {
		if err := s.reapAudio(); err != nil {
			return err
		}
		s.videoReaped = false
	}
	if len(s.audio.samples) == 0 {
		s.audio.segStartDTS = msg.DTS
	}

	s.audio.samples = append(s.audio.samples, fmp4.Sample{
		Duration: s.durationSincePrev(s.audio, msg.DTS),
		Data:     msg.Frame.Payload,
	})
	s.audio.lastDTS = msg.DTS
	return nil
}

func (s *Segmenter) fragmentDurationMS(t *trackState, currentDTS uint32) int64 {
	return int64(currentDTS) - int64(t.segStartDTS)
}

// durationSincePrev returns the elapsed time since the track's last
// appended sample; callers store it as the duration of the sample being
// appended. Only the very first sample of a track reports zero: the
// first sample after a reap reports the gap since the last sample of
// the previous fragment.
func (s *Segmenter) durationSincePrev(t *trackState, dts uint32) uint32 {
	if !t.haveLastDTS {
		t.haveLastDTS = true
		t.lastDTS = dts
		return 0
	}
	d := dts - t.lastDTS
	return d
}

// reapVideo writes the current video fragment to disk and advances the
// window. Must be called with mu held.
func (s *Segmenter) reapVideo() error {
	return s.reapTrack(s.video, "v")
}

// reapAudio writes the current audio fragment to disk.
func (s *Segmenter) reapAudio() error {
	return s.reapTrack(s.audio, "a")
}

func (s *Segmenter) reapTrack(t *trackState, label string) error {
	if len(t.samples) == 0 {
		return nil
	}
	t.seq++
	frag := fmp4.BuildFragment(t.trackID, t.seq, t.baseDecodeMS, t.samples)

	name := fmt.Sprintf("%s-%s-%d.m4s", s.streamName, label, t.seq)
	path := filepath.Join(s.cfg.OutputDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, frag, 0o644); err != nil {
		return fmt.Errorf("dash: write fragment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("dash: rename fragment into place: %w", err)
	}

	var total uint32
	for _, smp := range t.samples {
		total += smp.Duration
	}
	t.baseDecodeMS += uint64(total)

	t.window = append(t.window, Segment{
		SequenceNumber: t.seq,
		StartDTS:       t.segStartDTS,
		Duration:       time.Duration(total) * time.Millisecond,
		Path:           path,
		URI:            name,
	})
	if len(t.window) > s.cfg.WindowSize {
		cut := len(t.window) - s.cfg.WindowSize
		expired := t.window[:cut]
		t.window = t.window[cut:]
		if s.cfg.CleanupEnabled {
			for _, e := range expired {
				_ = os.Remove(e.Path)
			}
		}
	}
	t.samples = t.samples[:0]

	if t == s.video {
		s.videoReaped = true
	}
	return s.writeMPD()
}

// VideoWindow/AudioWindow return snapshots of the currently advertised
// per-track fragments.
func (s *Segmenter) VideoWindow() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, len(s.video.window))
	copy(out, s.video.window)
	return out
}

func (s *Segmenter) AudioWindow() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, len(s.audio.window))
	copy(out, s.audio.window)
	return out
}

// OnUnpublish flushes any in-flight fragments.
func (s *Segmenter) OnUnpublish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.reapVideo()
	_ = s.reapAudio()
}
