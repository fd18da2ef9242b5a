package flv

import (
	"fmt"
	"io"
	"sync"
)

// Muxer writes a sequence of Frames to an io.Writer as a standard FLV
// file: a 13-byte header (9-byte signature/flags/header-size + 4-byte
// PreviousTagSize0) followed by TagHeader+payload+PreviousTagSize per
// frame. Grounded on the teacher's media.Recorder, generalized to accept
// Frame values from any ingest protocol rather than only chunk.Message.
type Muxer struct {
	mu           sync.Mutex
	w            io.Writer
	wroteHeader  bool
	hasAudio     bool
	hasVideo     bool
	bytesWritten uint64
	closed       bool
}

// NewMuxer constructs a Muxer over w. hasAudio/hasVideo set the file
// header's type flags; they are advisory (players tolerate either value)
// but kept accurate for well-formed output.
func NewMuxer(w io.Writer, hasAudio, hasVideo bool) *Muxer {
	return &Muxer{w: w, hasAudio: hasAudio, hasVideo: hasVideo}
}

// WriteFrame writes one frame's FLV tag. The caller is responsible for
// presenting frames in non-decreasing timestamp order per track; Muxer
// does not reorder.
func (m *Muxer) WriteFrame(f *Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("flv: muxer closed")
	}
	if !m.wroteHeader {
		if _, err := m.w.Write(fileHeader(m.hasAudio, m.hasVideo)); err != nil {
			m.closed = true
			return fmt.Errorf("flv.header: %w", err)
		}
		m.wroteHeader = true
		m.bytesWritten += 13
	}

	var tagType uint8
	var payload []byte
	if f.IsVideo {
		tagType = TagTypeVideo
		payload = BuildVideoTag(f)
	} else {
		tagType = TagTypeAudio
		payload = BuildAudioTag(f)
	}

	hdr, err := tagHeader(tagType, len(payload), f.Timestamp)
	if err != nil {
		return err
	}
	if _, err := m.w.Write(hdr[:]); err != nil {
		m.closed = true
		return fmt.Errorf("flv.tag: %w", err)
	}
	if len(payload) > 0 {
		if _, err := m.w.Write(payload); err != nil {
			m.closed = true
			return fmt.Errorf("flv.tag.payload: %w", err)
		}
	}
	sz := previousTagSize(11 + len(payload))
	if _, err := m.w.Write(sz[:]); err != nil {
		m.closed = true
		return fmt.Errorf("flv.tag.prevsize: %w", err)
	}
	m.bytesWritten += uint64(11 + len(payload) + 4)
	return nil
}

// WriteMetaData writes a script-data (onMetaData) tag carrying an
// already-AMF0-encoded payload, used by HTTP-FLV playback so late
// subscribers still see the codec/resolution metadata RTMP players
// expect before the first video tag.
func (m *Muxer) WriteMetaData(payload []byte, timestamp uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("flv: muxer closed")
	}
	if !m.wroteHeader {
		if _, err := m.w.Write(fileHeader(m.hasAudio, m.hasVideo)); err != nil {
			m.closed = true
			return fmt.Errorf("flv.header: %w", err)
		}
		m.wroteHeader = true
		m.bytesWritten += 13
	}
	hdr, err := tagHeader(TagTypeScript, len(payload), timestamp)
	if err != nil {
		return err
	}
	if _, err := m.w.Write(hdr[:]); err != nil {
		m.closed = true
		return fmt.Errorf("flv.tag: %w", err)
	}
	if len(payload) > 0 {
		if _, err := m.w.Write(payload); err != nil {
			m.closed = true
			return fmt.Errorf("flv.tag.payload: %w", err)
		}
	}
	sz := previousTagSize(11 + len(payload))
	if _, err := m.w.Write(sz[:]); err != nil {
		m.closed = true
		return fmt.Errorf("flv.tag.prevsize: %w", err)
	}
	m.bytesWritten += uint64(11 + len(payload) + 4)
	return nil
}

// BytesWritten reports the total number of bytes emitted so far, used by
// HLS segment-size accounting.
func (m *Muxer) BytesWritten() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesWritten
}

// Close marks the muxer as no longer writable. It does not close the
// underlying writer; callers own that lifecycle (matching the teacher's
// Recorder, whose Close does own the *os.File it created itself via
// NewRecorder — see FileMuxer in file.go for that variant).
func (m *Muxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
