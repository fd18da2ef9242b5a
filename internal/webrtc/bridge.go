package webrtc

import (
	"log/slog"

	"github.com/pion/rtp"

	"github.com/ethan/streamcore/internal/errors"
	"github.com/ethan/streamcore/internal/h264"
	"github.com/ethan/streamcore/internal/source"
)

// Bridge implements source.StreamBridge, ingesting SharedMessages from an
// RTMP-flavored Source and re-emitting them as outbound RTP on every
// PlayTrack of every ESTABLISHED Session subscribed to it — the "RTMP→RTC"
// direction of spec §4.2 step 6 / §9's Bridge re-architecture note. It
// holds no back-reference to the Source driving it; the wiring lives in
// whoever constructs both (cmd/rtmp-server), keeping Source/Bridge from
// forming an ownership cycle.
type Bridge struct {
	logger *slog.Logger

	videoSeq uint16
	audioSeq uint16

	sessions []*Session
}

// NewBridge constructs a bridge with no subscribed sessions yet.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{logger: logger}
}

func (b *Bridge) Name() string { return "rtc-bridge" }

// Attach registers sess to receive this bridge's RTP output once
// ESTABLISHED.
func (b *Bridge) Attach(sess *Session) {
	b.sessions = append(b.sessions, sess)
}

func (b *Bridge) OnMetaData(*source.SharedMessage) {}

func (b *Bridge) OnAudio(msg *source.SharedMessage) {
	b.forward(msg, MediaAudio)
}

func (b *Bridge) OnVideo(msg *source.SharedMessage) {
	b.forward(msg, MediaVideo)
}

func (b *Bridge) OnUnpublish() {
	for _, s := range b.sessions {
		s.Close()
	}
}

func (b *Bridge) forward(msg *source.SharedMessage, kind MediaKind) {
	if msg.Frame == nil {
		return
	}
	for _, sess := range b.sessions {
		if sess.State() != StateEstablished {
			continue
		}
		for _, track := range sess.allPlayTracks(kind) {
			if err := b.sendRTP(sess, track, msg); err != nil {
				b.logger.Warn("rtc bridge send failed", "error", err)
			}
		}
	}
}

func (b *Bridge) sendRTP(sess *Session, track *PlayTrack, msg *source.SharedMessage) error {
	transport := sess.Transport()
	if transport == nil {
		return errors.NewMediaError("bridge.send", nil)
	}

	ts := track.TSJitter.Correct(msg.DTS * 90) // ms -> 90kHz ticks, video clock assumed
	payload := msg.Frame.Payload

	nalus, err := h264.SplitAVCC(payload, 4)
	if err != nil {
		nalus = [][]byte{payload}
	}
	for i, nalu := range nalus {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    track.PayloadType,
				SequenceNumber: track.SeqJitter.Correct(track.NextSequence()),
				Timestamp:      ts,
				SSRC:           track.SSRC,
				Marker:         i == len(nalus)-1,
			},
			Payload: nalu,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return err
		}
		protected, err := transport.ProtectRTP(raw)
		if err != nil {
			return err
		}
		if err := sess.send(protected); err != nil {
			return err
		}
	}
	return nil
}

// allPlayTracks returns every play track of the given kind currently
// attached to the session.
func (s *Session) allPlayTracks(kind MediaKind) []*PlayTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PlayTrack, 0, len(s.playTracks))
	for _, t := range s.playTracks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}
