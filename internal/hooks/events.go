// Package hooks implements the outbound HTTP/shell/stdio callback client
// shared by every protocol adapter and segmenter (RTMP, SRT, HLS, DASH),
// generalized from the teacher's internal/rtmp/server/hooks package: the
// event vocabulary now covers spec §6's full outbound hook set
// (on_connect, on_close, on_publish, on_unpublish, on_play, on_stop,
// on_dvr, on_hls, on_hls_notify, on_forward) instead of only RTMP
// connection/stream events.
package hooks

import (
	"bytes"
	"encoding/json"
	"time"
)

// EventType represents the kind of server event that occurred.
type EventType string

const (
	// Connection events
	EventConnectionAccept  EventType = "connection_accept"
	EventConnectionClose   EventType = "connection_close"
	EventHandshakeComplete EventType = "handshake_complete"

	// Stream lifecycle events (spec §6 outbound hooks)
	EventConnect   EventType = "on_connect"
	EventClose     EventType = "on_close"
	EventPublish   EventType = "on_publish"
	EventUnpublish EventType = "on_unpublish"
	EventPlay      EventType = "on_play"
	EventStop      EventType = "on_stop"
	EventDVR       EventType = "on_dvr"
	EventHLS       EventType = "on_hls"
	EventHLSNotify EventType = "on_hls_notify"
	EventForward   EventType = "on_forward"

	// Legacy stream events retained for the teacher's connection registry
	EventStreamCreate EventType = "stream_create"
	EventStreamDelete EventType = "stream_delete"
	EventPublishStart EventType = "publish_start"
	EventPublishStop  EventType = "publish_stop"
	EventPlayStart    EventType = "play_start"
	EventPlayStop     EventType = "play_stop"

	// Media events
	EventCodecDetected EventType = "codec_detected"
)

// Authoritative reports whether a failure of this event's hooks must
// refuse the session rather than merely be logged, per spec §7:
// "HTTP-hook failure... logged, not fatal except where the hook is an
// authoritative gate (on_publish/on_play/on_connect/on_dvr)".
func (t EventType) Authoritative() bool {
	switch t {
	case EventConnect, EventPublish, EventPlay, EventDVR:
		return true
	default:
		return false
	}
}

// Event represents a single server event that can trigger hooks.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	ConnID    string                 `json:"conn_id,omitempty"`
	StreamKey string                 `json:"stream_key,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      make(map[string]interface{}),
	}
}

// WithConnID sets the connection ID for the event.
func (e *Event) WithConnID(connID string) *Event {
	e.ConnID = connID
	return e
}

// WithStreamKey sets the stream key for the event.
func (e *Event) WithStreamKey(streamKey string) *Event {
	e.StreamKey = streamKey
	return e
}

// WithData adds data fields to the event.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// String returns a human-readable string representation of the event.
func (e *Event) String() string {
	if e.StreamKey != "" {
		return string(e.Type) + ":" + e.StreamKey
	}
	if e.ConnID != "" {
		return string(e.Type) + ":" + e.ConnID
	}
	return string(e.Type)
}

// ReplyOK parses a hook's HTTP response body per spec §6: a valid reply
// is either the literal body "0" or a JSON object with integer field
// code==0.
func ReplyOK(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if string(trimmed) == "0" {
		return true
	}
	var reply struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(trimmed, &reply); err != nil {
		return false
	}
	return reply.Code == 0
}
