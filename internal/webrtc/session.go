package webrtc

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/stun/v3"

	"github.com/ethan/streamcore/internal/errors"
	"github.com/ethan/streamcore/internal/source"
)

// State enumerates the session lifecycle from spec §4.7.2.
type State uint8

const (
	StateInit State = iota
	StateWaitingAnswer
	StateWaitingSTUN
	StateDoingDTLSHandshake
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWaitingAnswer:
		return "WAITING_ANSWER"
	case StateWaitingSTUN:
		return "WAITING_STUN"
	case StateDoingDTLSHandshake:
		return "DOING_DTLS_HANDSHAKE"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// UsernamePair is the ICE `local:remote` ufrag key a session is looked up
// by, per spec §3's WebRTC connection state.
type UsernamePair struct {
	Local  string
	Remote string
}

func (p UsernamePair) String() string { return p.Local + ":" + p.Remote }

// Session holds everything spec §3/§4.7.2 assigns to one WebRTC
// connection: its state, transport, tracks, peer address (which may
// change via ICE renomination), and feedback timers.
type Session struct {
	logger *slog.Logger

	ufrag    UsernamePair
	localPwd string

	mu        sync.Mutex
	state     State
	peerAddr  net.Addr
	transport Transport
	role      Role

	establishedAt time.Time
	lastSTUN      time.Time
	sessionTimeout time.Duration

	publishTracks map[uint32]*PublishTrack // keyed by SSRC
	playTracks    map[uint32]*PlayTrack
	dtlsRecv      chan []byte

	pliWorker *PLIWorker
	sendFunc  func([]byte) error

	onEstablished func(*Session)
	onClosed      func(*Session)
}

// NewSession constructs a session in StateInit, keyed by the given ICE
// username pair.
func NewSession(ufrag UsernamePair, localPwd string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		logger:         logger.With("ice_pair", ufrag.String()),
		ufrag:          ufrag,
		localPwd:       localPwd,
		state:          StateInit,
		sessionTimeout: 30 * time.Second,
		publishTracks:  make(map[uint32]*PublishTrack),
		playTracks:     make(map[uint32]*PlayTrack),
		dtlsRecv:       make(chan []byte, 64),
	}
}

// DTLSConn returns a net.Conn adapter over this session's UDP 5-tuple,
// suitable for passing to Transport.Handshake: reads drain datagrams the
// Manager's Dispatch classified as DTLS and routed via feedDTLS; writes
// go back out through the session's send func (the socket it was
// accepted on, following its possibly ICE-renominated peer address).
func (s *Session) DTLSConn() net.Conn {
	return &dtlsConnAdapter{sess: s}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Info("state transition", "from", prev, "to", next)
	}
}

// OnSDPAnswer advances INIT/WAITING_ANSWER to WAITING_STUN once the SDP
// offer/answer exchange is complete, per spec §4.7.2.
func (s *Session) OnSDPAnswer(role Role, transport Transport) {
	s.mu.Lock()
	s.role = role
	s.transport = transport
	s.mu.Unlock()
	s.setState(StateWaitingSTUN)
}

// HandleSTUN processes an inbound datagram already classified as STUN.
// The first valid binding request advances WAITING_STUN to
// DOING_DTLS_HANDSHAKE; every valid binding request afterward refreshes
// lastSTUN (session-timeout keepalive) and, per ICE-renomination, accepts
// the source address as the new peer address regardless of session
// state, per spec §4.7.1.
func (s *Session) HandleSTUN(pkt []byte, from net.Addr) ([]byte, error) {
	m := &stun.Message{Raw: append([]byte(nil), pkt...)}
	if err := m.Decode(); err != nil {
		return nil, errors.NewProtocolError("stun.decode", err)
	}
	if m.Type != stun.BindingRequest {
		return nil, nil
	}

	s.mu.Lock()
	s.peerAddr = from
	s.lastSTUN = time.Now()
	wasWaiting := s.state == StateWaitingSTUN
	s.mu.Unlock()

	if wasWaiting {
		s.setState(StateDoingDTLSHandshake)
		go s.runDTLSHandshake()
	}

	return s.buildBindingResponse(m, from)
}

func (s *Session) buildBindingResponse(req *stun.Message, from net.Addr) ([]byte, error) {
	udpAddr, ok := from.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("webrtc: peer address %T is not a UDPAddr", from)
	}
	resp := stun.MustBuild(req, stun.BindingSuccess,
		&stun.XORMappedAddress{IP: udpAddr.IP, Port: udpAddr.Port},
		stun.NewShortTermIntegrity(s.localPwd),
		stun.Fingerprint,
	)
	return resp.Raw, nil
}

// runDTLSHandshake drives the transport's handshake over this session's
// UDP 5-tuple and, on success, advances to ESTABLISHED via
// OnDTLSHandshakeDone. On failure the session is not closed here; it
// stays in DOING_DTLS_HANDSHAKE, a state CheckTimeout does not time out.
func (s *Session) runDTLSHandshake() {
	transport := s.Transport()
	if transport == nil {
		return
	}
	s.mu.Lock()
	role := s.role
	s.mu.Unlock()
	if err := transport.Handshake(s.DTLSConn(), role); err != nil {
		s.logger.Warn("dtls handshake failed", "error", err)
		return
	}
	s.OnDTLSHandshakeDone()
}

// OnDTLSHandshakeDone advances DOING_DTLS_HANDSHAKE to ESTABLISHED, per
// spec §4.7.2, and fires onEstablished (create publish/play tracks,
// subscribe to source).
func (s *Session) OnDTLSHandshakeDone() {
	s.mu.Lock()
	s.establishedAt = time.Now()
	s.mu.Unlock()
	s.setState(StateEstablished)
	if s.onEstablished != nil {
		s.onEstablished(s)
	}
}

// OnConnectionEstablished registers the callback fired once per spec
// §4.7.2's ESTABLISHED transition.
func (s *Session) OnConnectionEstablished(fn func(*Session)) { s.onEstablished = fn }

// OnClosed registers the callback fired when the session transitions to
// CLOSED.
func (s *Session) OnClosed(fn func(*Session)) { s.onClosed = fn }

// Close transitions to CLOSED, tears down the transport, and fires
// onClosed exactly once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	transport := s.transport
	pli := s.pliWorker
	s.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	if pli != nil {
		pli.Stop()
	}
	if s.onClosed != nil {
		s.onClosed(s)
	}
}

// CheckTimeout transitions an ESTABLISHED session to CLOSED if keepalive
// STUN has been absent past sessionTimeout. Sessions in any other state
// are never timed out here, and no creation time is tracked for them.
func (s *Session) CheckTimeout(now time.Time) bool {
	s.mu.Lock()
	state := s.state
	last := s.lastSTUN
	s.mu.Unlock()

	if state == StateClosed {
		return false
	}
	if state != StateEstablished {
		return false // non-ESTABLISHED sessions are not timed out
	}
	if last.IsZero() {
		return false
	}
	if now.Sub(last) > s.sessionTimeout {
		s.Close()
		return true
	}
	return false
}

// PeerAddr returns the current (possibly ICE-renominated) remote address.
func (s *Session) PeerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerAddr
}

// Transport returns the session's DTLS-SRTP transport.
func (s *Session) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// AttachPublishTrack registers a publish-direction track by SSRC.
func (s *Session) AttachPublishTrack(ssrc uint32, t *PublishTrack) {
	s.mu.Lock()
	s.publishTracks[ssrc] = t
	s.mu.Unlock()
}

// AttachPlayTrack registers a play-direction track by SSRC.
func (s *Session) AttachPlayTrack(ssrc uint32, t *PlayTrack) {
	s.mu.Lock()
	s.playTracks[ssrc] = t
	s.mu.Unlock()
}

// PublishTrackBySSRC is the fast lookup spec §4.7.3 requires for
// dispatching an incoming RTP packet to its track.
func (s *Session) PublishTrackBySSRC(ssrc uint32) *PublishTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishTracks[ssrc]
}

// PlayTrackBySSRC is the egress-side counterpart used by §4.7.4.
func (s *Session) PlayTrackBySSRC(ssrc uint32) *PlayTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playTracks[ssrc]
}

// SetPLIWorker attaches the coalescing PLI worker this session's publish
// tracks feed into.
func (s *Session) SetPLIWorker(w *PLIWorker) {
	s.mu.Lock()
	s.pliWorker = w
	s.mu.Unlock()
}

// SetSendFunc wires the session to the UDP socket it was accepted on;
// it is how internal/listen's SRTListener-equivalent callback hands the
// session a way to write bytes back to its (possibly ICE-renominated)
// peer address.
func (s *Session) SetSendFunc(send func([]byte) error) {
	s.mu.Lock()
	s.sendFunc = send
	s.mu.Unlock()
}

func (s *Session) send(pkt []byte) error {
	s.mu.Lock()
	fn := s.sendFunc
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(pkt)
}

// Manager maps ICE username pairs to Sessions, per spec §3's "Keyed by
// the ICE username pair local:remote".
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
	rtc      *source.Manager
}

// NewManager constructs an empty session manager bridging into the given
// RTC-flavored source.Manager (RtcSource is realized here as an ordinary
// source.Source fed SharedMessages built by the frame builder).
func NewManager(rtc *source.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{sessions: make(map[string]*Session), logger: logger, rtc: rtc}
}

// Create registers a new session under ufrag and returns it.
func (m *Manager) Create(ufrag UsernamePair, localPwd string) *Session {
	s := NewSession(ufrag, localPwd, m.logger)
	m.mu.Lock()
	m.sessions[ufrag.String()] = s
	m.mu.Unlock()
	return s
}

// Lookup finds a session by its `local:remote` ufrag key.
func (m *Manager) Lookup(key string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key]
}

// Remove deletes a session from the map (called from its onClosed hook).
func (m *Manager) Remove(ufrag UsernamePair) {
	m.mu.Lock()
	delete(m.sessions, ufrag.String())
	m.mu.Unlock()
}

// Sweep closes every session that has timed out, per spec §4.7.2.
func (m *Manager) Sweep() int {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	now := time.Now()
	closed := 0
	for _, s := range snapshot {
		if s.CheckTimeout(now) {
			closed++
		}
	}
	return closed
}
