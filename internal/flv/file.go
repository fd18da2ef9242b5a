package flv

import (
	"fmt"
	"os"
)

// FileMuxer pairs a Muxer with the *os.File it owns, matching the
// teacher's NewRecorder convenience constructor for the common case of
// recording a published stream straight to disk.
type FileMuxer struct {
	*Muxer
	f *os.File
}

// CreateFile creates path and returns a FileMuxer writing to it.
func CreateFile(path string, hasAudio, hasVideo bool) (*FileMuxer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("flv.create: %w", err)
	}
	return &FileMuxer{Muxer: NewMuxer(f, hasAudio, hasVideo), f: f}, nil
}

// Close flushes muxer state and closes the underlying file.
func (fm *FileMuxer) Close() error {
	_ = fm.Muxer.Close()
	return fm.f.Close()
}
