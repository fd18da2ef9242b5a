// Package webrtc implements the WebRTC session core from spec §4.7: byte
// sniffing over a single UDP 5-tuple (STUN/DTLS/RTP/RTCP), a DTLS-SRTP
// transport in full/semi/plaintext variants, the session state machine,
// publish/play track pipelines with NACK/PLI/TWCC feedback, and the RTP
// frame builder bridging to internal/source.SharedMessage. Grounded on
// gtfodev-camsRelay/pkg/bridge's PeerConnection/RTCP-dispatch idiom,
// generalized from a single outbound Cloudflare bridge into a two-way,
// many-session SFU-style core addressed directly over pion's transport
// packages (ice/stun/dtls/srtp) rather than pion/webrtc's PeerConnection,
// since the spec calls for the manual classify-then-dispatch demux
// pion/webrtc hides from callers.
package webrtc

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/pion/dtls/v3"
	"github.com/pion/srtp/v3"

	"github.com/ethan/streamcore/internal/errors"
)

// Classify identifies the protocol of a datagram landing on the shared
// UDP socket per spec §4.7.1's byte-sniffing rules.
type PacketKind uint8

const (
	PacketUnknown PacketKind = iota
	PacketSTUN
	PacketDTLS
	PacketRTP
	PacketRTCP
)

// Classify inspects the first bytes of pkt and returns its PacketKind,
// exactly mirroring spec §4.7.1: STUN first byte in {0x00,0x01}; DTLS
// when len>=13 and data[0] in (19,64); RTP/RTCP share the version-bits
// check data[0]&0xC0==0x80, disambiguated by the payload-type byte
// data[1] in [192,223] for RTCP.
func Classify(pkt []byte) PacketKind {
	if len(pkt) == 0 {
		return PacketUnknown
	}
	if pkt[0] == 0x00 || pkt[0] == 0x01 {
		return PacketSTUN
	}
	if len(pkt) >= 13 && pkt[0] > 19 && pkt[0] < 64 {
		return PacketDTLS
	}
	if pkt[0]&0xC0 == 0x80 {
		if len(pkt) >= 2 && pkt[1] >= 192 && pkt[1] <= 223 {
			return PacketRTCP
		}
		return PacketRTP
	}
	return PacketUnknown
}

// Role selects which side of the DTLS handshake this session performs,
// per spec §4.7.1's "actpass rule: default answer to passive".
type Role uint8

const (
	RolePassive Role = iota // we are the DTLS server
	RoleActive              // we are the DTLS client
)

// Transport is the crypto boundary for one WebRTC session: full runs a
// real DTLS handshake and protects/unprotects SRTP both ways; semi only
// decrypts inbound SRTP (used when the far side is trusted/plaintext on
// send); plaintext performs no crypto at all, kept for integration test
// scenarios per spec §4.7.1.
type Transport interface {
	// Handshake drives (or completes) the DTLS handshake over conn,
	// deriving SRTP keys on success.
	Handshake(conn net.Conn, role Role) error
	ProtectRTP(pkt []byte) ([]byte, error)
	UnprotectRTP(pkt []byte) ([]byte, error)
	ProtectRTCP(pkt []byte) ([]byte, error)
	UnprotectRTCP(pkt []byte) ([]byte, error)
	Close() error
}

// FullTransport performs the real DTLS handshake and SRTP protect/
// unprotect in both directions.
type FullTransport struct {
	cert *tls.Certificate

	dtlsConn  *dtls.Conn
	encryptCtx *srtp.Context // keyed with our local write key
	decryptCtx *srtp.Context // keyed with the remote peer's write key
}

// NewFullTransport builds a transport that will perform a DTLS handshake
// with the given self-signed certificate (a fresh one per session is the
// idiomatic WebRTC pattern; the SDP fingerprint, not a CA chain, is what
// the remote peer verifies).
func NewFullTransport(cert *tls.Certificate) *FullTransport {
	return &FullTransport{cert: cert}
}

func (t *FullTransport) Handshake(conn net.Conn, role Role) error {
	cfg := &dtls.Config{
		Certificates:         []tls.Certificate{*t.cert},
		InsecureSkipVerify:   true,
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}
	var dc *dtls.Conn
	var err error
	if role == RoleActive {
		dc, err = dtls.Client(conn, cfg)
	} else {
		dc, err = dtls.Server(conn, cfg)
	}
	if err != nil {
		return errors.NewMediaError("dtls.handshake", err)
	}
	t.dtlsConn = dc

	keys, err := dc.ExportKeyingMaterial(srtpLabel, nil, srtpKeyLen())
	if err != nil {
		return errors.NewMediaError("dtls.exportKeyingMaterial", err)
	}
	localKey, localSalt, remoteKey, remoteSalt := splitKeyingMaterial(keys, role)
	encryptCtx, err := srtp.CreateContext(localKey, localSalt, defaultProtectionProfile)
	if err != nil {
		return errors.NewMediaError("srtp.createContext", err)
	}
	decryptCtx, err := srtp.CreateContext(remoteKey, remoteSalt, defaultProtectionProfile)
	if err != nil {
		return errors.NewMediaError("srtp.createContext", err)
	}
	t.encryptCtx = encryptCtx
	t.decryptCtx = decryptCtx
	return nil
}

func (t *FullTransport) ProtectRTP(pkt []byte) ([]byte, error) {
	if t.encryptCtx == nil {
		return nil, errors.NewMediaError("srtp.protect", fmt.Errorf("handshake not complete"))
	}
	return t.encryptCtx.EncryptRTP(nil, pkt, nil)
}

func (t *FullTransport) UnprotectRTP(pkt []byte) ([]byte, error) {
	if t.decryptCtx == nil {
		return nil, errors.NewMediaError("srtp.unprotect", fmt.Errorf("handshake not complete"))
	}
	return t.decryptCtx.DecryptRTP(nil, pkt, nil)
}

func (t *FullTransport) ProtectRTCP(pkt []byte) ([]byte, error) {
	if t.encryptCtx == nil {
		return nil, errors.NewMediaError("srtcp.protect", fmt.Errorf("handshake not complete"))
	}
	return t.encryptCtx.EncryptRTCP(nil, pkt)
}

func (t *FullTransport) UnprotectRTCP(pkt []byte) ([]byte, error) {
	if t.decryptCtx == nil {
		return nil, errors.NewMediaError("srtcp.unprotect", fmt.Errorf("handshake not complete"))
	}
	return t.decryptCtx.DecryptRTCP(nil, pkt)
}

func (t *FullTransport) Close() error {
	if t.dtlsConn != nil {
		return t.dtlsConn.Close()
	}
	return nil
}

// SemiTransport only unprotects inbound SRTP; outbound packets are sent
// unprotected. Used for integration scenarios where the publisher side
// already terminated DTLS upstream (spec §4.7.1's "semi" variant).
type SemiTransport struct {
	srtpCtx *srtp.Context
}

func NewSemiTransport(ctx *srtp.Context) *SemiTransport { return &SemiTransport{srtpCtx: ctx} }

func (t *SemiTransport) Handshake(net.Conn, Role) error { return nil }
func (t *SemiTransport) ProtectRTP(pkt []byte) ([]byte, error)  { return pkt, nil }
func (t *SemiTransport) ProtectRTCP(pkt []byte) ([]byte, error) { return pkt, nil }
func (t *SemiTransport) UnprotectRTP(pkt []byte) ([]byte, error) {
	if t.srtpCtx == nil {
		return pkt, nil
	}
	return t.srtpCtx.DecryptRTP(nil, pkt, nil)
}
func (t *SemiTransport) UnprotectRTCP(pkt []byte) ([]byte, error) {
	if t.srtpCtx == nil {
		return pkt, nil
	}
	return t.srtpCtx.DecryptRTCP(nil, pkt)
}
func (t *SemiTransport) Close() error { return nil }

// PlaintextTransport performs no crypto whatsoever, per spec §4.7.1.
type PlaintextTransport struct{}

func NewPlaintextTransport() *PlaintextTransport { return &PlaintextTransport{} }

func (PlaintextTransport) Handshake(net.Conn, Role) error           { return nil }
func (PlaintextTransport) ProtectRTP(pkt []byte) ([]byte, error)    { return pkt, nil }
func (PlaintextTransport) UnprotectRTP(pkt []byte) ([]byte, error)  { return pkt, nil }
func (PlaintextTransport) ProtectRTCP(pkt []byte) ([]byte, error)   { return pkt, nil }
func (PlaintextTransport) UnprotectRTCP(pkt []byte) ([]byte, error) { return pkt, nil }
func (PlaintextTransport) Close() error                             { return nil }

const srtpLabel = "EXTRACTOR-dtls_srtp"

var defaultProtectionProfile = srtp.ProtectionProfileAes128CmHmacSha1_80

// srtpKeyLen returns the keying-material length (2*(key+salt)) for the
// negotiated protection profile; AES-128-CM/HMAC-SHA1-80 uses a 16-byte
// key and 14-byte salt per side.
func srtpKeyLen() int { return 2 * (16 + 14) }

// splitKeyingMaterial slices the DTLS-SRTP exported keying material into
// (localKey, localSalt, remoteKey, remoteSalt) per RFC 5764 ordering,
// swapped depending on which side of the handshake we performed.
func splitKeyingMaterial(material []byte, role Role) (lk, ls, rk, rs []byte) {
	const keyLen, saltLen = 16, 14
	clientKey := material[0:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen : 2*keyLen+2*saltLen]
	if role == RoleActive {
		return clientKey, clientSalt, serverKey, serverSalt
	}
	return serverKey, serverSalt, clientKey, clientSalt
}
