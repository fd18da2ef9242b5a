package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writePlaylist regenerates the M3U8 for the current window, writing to
// a temp file and renaming atomically into place — the same
// write-then-rename idiom as the TS segments themselves, per spec §6/§8
// ("the M3U8 rename to final is atomic"). Must be called with mu held.
func (s *Segmenter) writePlaylist() error {
	if s.cfg.OutputDir == "" {
		return nil
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	targetDuration := int(s.cfg.FragmentDuration.Seconds())
	if targetDuration < 1 {
		targetDuration = 1
	}
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration)
	if len(s.window) > 0 {
		fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", s.window[0].SequenceNumber)
	}
	for _, seg := range s.window {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration.Seconds())
		b.WriteString(seg.URI)
		b.WriteString("\n")
	}

	finalPath := filepath.Join(s.cfg.OutputDir, s.streamName+".m3u8")
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("hls: write playlist temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("hls: rename playlist into place: %w", err)
	}
	return nil
}

// WindowDurationMS returns the sum of the currently advertised segments'
// durations, used by the testable property in spec §8 ("the sliding
// window's total duration is >= window x fragment").
func (s *Segmenter) WindowDurationMS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, seg := range s.window {
		total += seg.Duration.Milliseconds()
	}
	return total
}
