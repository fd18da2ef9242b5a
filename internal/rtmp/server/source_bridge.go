package server

// Source bridge
// -------------
// Converts incoming RTMP chunk.Messages into internal/source.SharedMessages
// and feeds them into a Stream's backing internal/source.Source, so that
// HLS/DASH/WebRTC egress and HTTP-FLV (all of which only know how to read
// from internal/source.Manager) see RTMP-origin media the same way they
// see WebRTC-origin media via internal/webrtc.PublishTrack. This is the
// RTMP-side half of spec §4.2 step 6/§9's Bridge pattern; the direction
// generalizes the teacher's Stream.BroadcastMessage (RTMP-only fan-out)
// without replacing it.

import (
	"log/slog"

	"github.com/ethan/streamcore/internal/amf"
	"github.com/ethan/streamcore/internal/flv"
	"github.com/ethan/streamcore/internal/rtmp/chunk"
	"github.com/ethan/streamcore/internal/source"
)

// publishToSource converts msg (an audio/video chunk.Message) into a
// source.SharedMessage and ingests it into s.Src. It is a no-op when the
// stream has no backing Source (registry built without a source.Manager).
func publishToSource(s *Stream, msg *chunk.Message, log *slog.Logger) {
	if s == nil || s.Src == nil || msg == nil {
		return
	}

	switch msg.TypeID {
	case 9: // video
		frame, err := flv.ParseVideoTag(msg.Timestamp, msg.Payload)
		if err != nil {
			if log != nil {
				log.Warn("source bridge: video tag parse failed", "stream_key", s.Key, "error", err)
			}
			return
		}
		s.Src.OnVideo(&source.SharedMessage{Type: source.MessageVideo, DTS: msg.Timestamp, StreamID: msg.MessageStreamID, Frame: frame})
	case 8: // audio
		frame, err := flv.ParseAudioTag(msg.Timestamp, msg.Payload)
		if err != nil {
			if log != nil {
				log.Warn("source bridge: audio tag parse failed", "stream_key", s.Key, "error", err)
			}
			return
		}
		s.Src.OnAudio(&source.SharedMessage{Type: source.MessageAudio, DTS: msg.Timestamp, StreamID: msg.MessageStreamID, Frame: frame})
	case 18: // AMF0 data (onMetaData and friends)
		publishMetadataToSource(s, msg, log)
	}
}

// publishMetadataToSource decodes an AMF0 data message and, if it is an
// onMetaData command, forwards its info object into s.Src so the
// SequenceHeaderCache's metadata slot (spec §3) is populated for
// late-joining consumers across every egress protocol, not just RTMP.
func publishMetadataToSource(s *Stream, msg *chunk.Message, log *slog.Logger) {
	if s == nil || s.Src == nil {
		return
	}
	values, err := amf.DecodeAll(msg.Payload)
	if err != nil || len(values) == 0 {
		return
	}
	name, ok := values[0].(string)
	if !ok || name != "onMetaData" {
		return
	}
	var meta map[string]interface{}
	for _, v := range values[1:] {
		if m, ok := v.(map[string]interface{}); ok {
			meta = m
			break
		}
	}
	if meta == nil {
		return
	}
	s.Src.OnMetaData(&source.SharedMessage{Type: source.MessageMetadata, DTS: msg.Timestamp, StreamID: msg.MessageStreamID, Metadata: meta})
	if log != nil {
		log.Debug("source bridge: forwarded onMetaData", "stream_key", s.Key)
	}
}
