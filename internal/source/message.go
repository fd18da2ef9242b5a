// Package source implements the protocol-agnostic live-source hub: one
// Source per published stream, fed by any ingest adapter (RTMP, SRT, TS,
// WebRTC) and fanned out to any number of consumers (play sessions, HLS,
// DASH, forwarders, a bridged sibling source). It generalizes the
// teacher's internal/rtmp/server.Registry/Stream — which only know about
// RTMP chunk.Message and a flat subscriber slice — into a codec-neutral
// hub built around internal/flv.Frame, keeping the same struct-owned
// sync.RWMutex / snapshot-under-RLock-then-release-before-I/O locking
// idiom the teacher uses in Stream.BroadcastMessage.
package source

import (
	"time"

	"github.com/ethan/streamcore/internal/flv"
)

// MessageType classifies a SharedMessage the way the teacher's RTMP
// TypeID does, but generalized beyond RTMP's wire values.
type MessageType uint8

const (
	MessageAudio MessageType = iota
	MessageVideo
	MessageMetadata
	MessageAggregate
	MessageControl
)

// SharedMessage is the universal fan-out unit: immutable once published,
// shared by reference across every consumer it is enqueued to (Go's
// garbage collector retires the backing buffer once the last consumer
// drops its reference, standing in for the spec's explicit refcount —
// idiomatic Go has no need to track it by hand).
type SharedMessage struct {
	Type     MessageType
	DTS      uint32 // milliseconds
	StreamID uint32
	Frame    *flv.Frame // nil for MessageMetadata
	Metadata map[string]any
}

// IsVideo/IsAudio are convenience predicates mirroring flv.Frame's.
func (m *SharedMessage) IsVideo() bool { return m.Type == MessageVideo }
func (m *SharedMessage) IsAudio() bool { return m.Type == MessageAudio }

// IsKeyFrame reports whether this message is a video sync sample.
func (m *SharedMessage) IsKeyFrame() bool {
	return m.Type == MessageVideo && m.Frame != nil && m.Frame.IsKeyFrame()
}

// IsSequenceHeader reports whether this message carries decoder
// configuration rather than coded media.
func (m *SharedMessage) IsSequenceHeader() bool {
	return m.Frame != nil && m.Frame.IsSequenceHeader()
}

// Format holds the codec/parameter state derived from sequence headers,
// generalizing the teacher's flat AudioCodec/VideoCodec strings on
// server.Stream into a structured descriptor with fields for
// resolution/sample-rate, per spec's Format/Codec descriptor. The
// sequence-header updates below record only the codec ids; Width, Height,
// SampleRate and Channels are not filled in and stay zero.
type Format struct {
	VideoCodec   uint8
	AudioCodec   uint8
	Width        uint16
	Height       uint16
	SampleRate   int
	Channels     uint8
	updatedAt    time.Time
}

// UpdateFromVideoSH records codec parameters carried in a video sequence
// header frame.
func (f *Format) UpdateFromVideoSH(fr *flv.Frame) {
	f.VideoCodec = fr.VideoCodec
	f.updatedAt = time.Now()
}

// UpdateFromAudioSH records codec parameters carried in an audio sequence
// header frame.
func (f *Format) UpdateFromAudioSH(fr *flv.Frame) {
	f.AudioCodec = fr.AudioCodec
	f.updatedAt = time.Now()
}
