package webrtc

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		pkt  []byte
		want PacketKind
	}{
		{"empty", nil, PacketUnknown},
		{"stun binding request", []byte{0x00, 0x01, 0x00, 0x00}, PacketSTUN},
		{"stun alt", []byte{0x01, 0x01, 0x00, 0x00}, PacketSTUN},
		{"dtls client hello", append([]byte{20}, make([]byte, 12)...), PacketDTLS},
		{"dtls too short", []byte{20, 1, 2}, PacketUnknown},
		{"rtp", []byte{0x80, 96, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}, PacketRTP},
		{"rtcp sr", []byte{0x80, 200, 0, 1}, PacketRTCP},
		{"rtcp upper bound", []byte{0x80, 223, 0, 1}, PacketRTCP},
		{"rtp payload type just below rtcp range", []byte{0x80, 191, 0, 1}, PacketRTP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.pkt); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.pkt, got, tt.want)
			}
		})
	}
}
