package webrtc

import (
	"context"
	"net"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/stun/v3"

	"github.com/ethan/streamcore/internal/errors"
)

// udpWriter is satisfied by internal/listen.UDPSession; kept as a local
// interface so this package does not import internal/listen (listeners
// are an outer-layer concern per spec §4.1/§4.7.1's "Listeners hand
// accepted descriptors to protocol-specific handlers via a simple
// callback").
type udpWriter interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Dispatch is the single shared-socket demux entry point described in
// spec §4.7.1: every datagram landing on the WebRTC UDP listener is
// classified and routed to the right per-packet handling, regardless of
// which Session (if any) it belongs to. It matches
// internal/listen.PacketHandler's signature so it can be passed directly
// to internal/listen.NewUDP.
func (m *Manager) Dispatch(w udpWriter) func(ctx context.Context, buf []byte, addr net.Addr) error {
	return func(ctx context.Context, buf []byte, addr net.Addr) error {
		switch Classify(buf) {
		case PacketSTUN:
			return m.handleSTUN(w, buf, addr)
		case PacketDTLS:
			return m.handleDTLS(buf, addr)
		case PacketRTP:
			return m.handleRTP(buf, addr)
		case PacketRTCP:
			return m.handleRTCP(buf, addr)
		default:
			return nil // unclassifiable datagram, silently dropped per spec
		}
	}
}

func (m *Manager) sessionForAddr(addr net.Addr) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if peer := s.PeerAddr(); peer != nil && peer.String() == addr.String() {
			return s
		}
	}
	return nil
}

func (m *Manager) handleSTUN(w udpWriter, buf []byte, addr net.Addr) error {
	sess := m.sessionForAddr(addr)
	if sess == nil {
		// First binding request from this address: match the session by the
		// `local:remote` ufrag pair in the STUN USERNAME attribute, as
		// registered by Manager.Create during SDP offer/answer. Requests
		// naming no known pair are dropped.
		msg := &stun.Message{Raw: append([]byte(nil), buf...)}
		if msg.Decode() == nil {
			if user, err := msg.Get(stun.AttrUsername); err == nil {
				sess = m.Lookup(string(user))
			}
		}
	}
	if sess == nil {
		return nil
	}
	resp, err := sess.HandleSTUN(buf, addr)
	if err != nil {
		return err
	}
	if resp != nil {
		_, err = w.WriteTo(resp, addr)
	}
	return err
}

func (m *Manager) handleDTLS(buf []byte, addr net.Addr) error {
	sess := m.sessionForAddr(addr)
	if sess == nil {
		return nil
	}
	// The actual DTLS record is handed to the session's Transport via
	// the net.Conn adapter constructed when the handshake began; this
	// dispatch point only needs to route bytes, not interpret the
	// record layer itself.
	return sess.feedDTLS(buf)
}

func (m *Manager) handleRTP(buf []byte, addr net.Addr) error {
	sess := m.sessionForAddr(addr)
	if sess == nil {
		return nil
	}
	transport := sess.Transport()
	if transport == nil {
		return errors.NewMediaError("dispatch.rtp", nil)
	}
	plain, err := transport.UnprotectRTP(buf)
	if err != nil {
		return errors.NewMediaError("srtp.unprotect", err)
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(plain); err != nil {
		return errors.NewProtocolError("rtp.unmarshal", err)
	}
	track := sess.PublishTrackBySSRC(pkt.SSRC)
	if track == nil {
		return nil
	}
	track.HandlePacket(pkt)
	return nil
}

func (m *Manager) handleRTCP(buf []byte, addr net.Addr) error {
	sess := m.sessionForAddr(addr)
	if sess == nil {
		return nil
	}
	transport := sess.Transport()
	if transport == nil {
		return errors.NewMediaError("dispatch.rtcp", nil)
	}
	plain, err := transport.UnprotectRTCP(buf)
	if err != nil {
		return errors.NewMediaError("srtcp.unprotect", err)
	}
	pkts, err := rtcp.Unmarshal(plain)
	if err != nil {
		return errors.NewProtocolError("rtcp.unmarshal", err)
	}
	for _, p := range pkts {
		sess.handleRTCPPacket(p)
	}
	return nil
}

// feedDTLS is a placeholder hook for the DTLS record-layer net.Conn
// adapter; the real handshake conn reads from a channel fed here. Kept
// as a distinct method so Dispatch stays protocol-routing-only.
func (s *Session) feedDTLS(buf []byte) error {
	s.mu.Lock()
	ch := s.dtlsRecv
	s.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case ch <- buf:
	default:
		// backpressure: drop rather than block the shared recv loop,
		// matching spec §5's "no suspension point may assume the world
		// unchanged" — a dropped DTLS record is retransmitted by the
		// peer's own DTLS timers.
	}
	return nil
}

// handleRTCPPacket routes one decoded RTCP packet to the track it
// targets, per spec §4.7.4's "incoming RTCP is routed to tracks for
// RR/XR/NACK/PSFB handling".
func (s *Session) handleRTCPPacket(pkt rtcp.Packet) {
	switch p := pkt.(type) {
	case *rtcp.ReceiverReport:
		// RR is accepted and ignored: no bitrate/loss estimation or
		// logging is done here.
	case *rtcp.PictureLossIndication:
		if pli := s.pliWorkerFor(); pli != nil {
			pli.Request(p.MediaSSRC)
		}
	case *rtcp.TransportLayerNack:
		if track := s.PlayTrackBySSRC(p.MediaSSRC); track != nil {
			_ = track // matched but not acted on: PlayTrack keeps no sent-packet buffer, so nothing is retransmitted
		}
	}
}

func (s *Session) pliWorkerFor() *PLIWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pliWorker
}
