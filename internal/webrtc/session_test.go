package webrtc

import (
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
)

func newBindingRequest(t *testing.T, username, pwd string) []byte {
	t.Helper()
	m, err := stun.Build(stun.TransactionID, stun.BindingRequest,
		stun.NewUsername(username),
		stun.NewShortTermIntegrity(pwd),
		stun.Fingerprint,
	)
	if err != nil {
		t.Fatalf("build binding request: %v", err)
	}
	return m.Raw
}

func TestSessionStateMachineTransitions(t *testing.T) {
	ufrag := UsernamePair{Local: "localufrag", Remote: "remoteufrag"}
	sess := NewSession(ufrag, "localpwd", nil)

	if got := sess.State(); got != StateInit {
		t.Fatalf("initial state = %v, want INIT", got)
	}

	sess.OnSDPAnswer(RolePassive, NewPlaintextTransport())
	if got := sess.State(); got != StateWaitingSTUN {
		t.Fatalf("after SDP answer, state = %v, want WAITING_STUN", got)
	}

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}
	req := newBindingRequest(t, "localufrag:remoteufrag", "localpwd")

	if _, err := sess.HandleSTUN(req, addr); err != nil {
		t.Fatalf("HandleSTUN: %v", err)
	}

	// The first valid binding request must advance straight to
	// DOING_DTLS_HANDSHAKE per spec §4.7.2; since the transport here is
	// plaintext, handshake completes asynchronously but promptly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == StateEstablished {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := sess.State(); got != StateEstablished {
		t.Fatalf("final state = %v, want ESTABLISHED", got)
	}

	if peer := sess.PeerAddr(); peer == nil || peer.String() != addr.String() {
		t.Fatalf("PeerAddr() = %v, want %v", peer, addr)
	}
}

func TestSessionICERenomination(t *testing.T) {
	ufrag := UsernamePair{Local: "l", Remote: "r"}
	sess := NewSession(ufrag, "pwd", nil)
	sess.OnSDPAnswer(RolePassive, NewPlaintextTransport())

	addr1 := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000}
	req := newBindingRequest(t, "l:r", "pwd")
	if _, err := sess.HandleSTUN(req, addr1); err != nil {
		t.Fatalf("HandleSTUN 1: %v", err)
	}
	if got := sess.PeerAddr(); got.String() != addr1.String() {
		t.Fatalf("PeerAddr() after first binding = %v, want %v", got, addr1)
	}

	// A fresh binding request from a new address (peer changed networks)
	// must be accepted unconditionally, per spec §4.7.1's ICE-renomination
	// rule.
	addr2 := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2000}
	if _, err := sess.HandleSTUN(req, addr2); err != nil {
		t.Fatalf("HandleSTUN 2: %v", err)
	}
	if got := sess.PeerAddr(); got.String() != addr2.String() {
		t.Fatalf("PeerAddr() after renomination = %v, want %v", got, addr2)
	}
}

func TestSessionTimeoutClosesAfterKeepaliveAbsence(t *testing.T) {
	ufrag := UsernamePair{Local: "l2", Remote: "r2"}
	sess := NewSession(ufrag, "pwd", nil)
	sess.sessionTimeout = 10 * time.Millisecond
	sess.OnSDPAnswer(RolePassive, NewPlaintextTransport())

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	req := newBindingRequest(t, "l2:r2", "pwd")
	sess.HandleSTUN(req, addr)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sess.State() != StateEstablished {
		time.Sleep(time.Millisecond)
	}

	time.Sleep(30 * time.Millisecond)
	if !sess.CheckTimeout(time.Now()) {
		t.Fatalf("CheckTimeout should report closure after keepalive absence")
	}
	if got := sess.State(); got != StateClosed {
		t.Fatalf("state after timeout = %v, want CLOSED", got)
	}
}
