package mpegts

import (
	"bytes"
	"testing"
)

func splitPackets(t *testing.T, data []byte) [][]byte {
	t.Helper()
	if len(data)%PacketSize != 0 {
		t.Fatalf("data length %d is not a multiple of %d", len(data), PacketSize)
	}
	var pkts [][]byte
	for i := 0; i < len(data); i += PacketSize {
		pkts = append(pkts, data[i:i+PacketSize])
	}
	return pkts
}

func TestMuxerEmitsValidPackets(t *testing.T) {
	m := NewMuxer(true, true, false)
	annexB := append([]byte{0x00, 0x00, 0x00, 0x01}, bytes.Repeat([]byte{0x65, 0xAA}, 100)...)
	data := m.WriteVideoFrame(9000, 9000, true, annexB)
	for _, pkt := range splitPackets(t, data) {
		if err := ValidatePacket(pkt); err != nil {
			t.Fatalf("invalid packet: %v", err)
		}
	}
}

func TestMuxerDemuxerPESRoundTrip(t *testing.T) {
	m := NewMuxer(true, false, false)
	payload := bytes.Repeat([]byte{0xAA, 0xBB, 0xCC}, 80)
	data := m.WriteVideoFrame(180000, 172800, true, payload)

	var got []PESPacket
	d := NewDemuxer(func(p PESPacket) { got = append(got, p) })
	for _, pkt := range splitPackets(t, data) {
		if err := d.Feed(pkt); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	d.Flush()

	if len(got) != 1 {
		t.Fatalf("expected 1 PES packet, got %d", len(got))
	}
	if got[0].PTS != 180000 || got[0].DTS != 172800 {
		t.Fatalf("pts/dts mismatch: %+v", got[0])
	}
	if !bytes.Equal(got[0].Payload, payload) {
		t.Fatalf("payload mismatch: got %d bytes want %d", len(got[0].Payload), len(payload))
	}
}

func TestDemuxerDiscoversStreamsFromPMT(t *testing.T) {
	m := NewMuxer(true, true, false)
	header := m.WriteHeader()

	d := NewDemuxer(nil)
	for _, pkt := range splitPackets(t, header) {
		if err := d.Feed(pkt); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	if len(d.Streams) != 2 {
		t.Fatalf("expected 2 elementary streams, got %d: %+v", len(d.Streams), d.Streams)
	}
	video, ok := d.Streams[PIDVideo]
	if !ok || video.StreamType != StreamTypeH264 {
		t.Fatalf("expected H264 video stream at PID %d, got %+v", PIDVideo, video)
	}
	audio, ok := d.Streams[PIDAudio]
	if !ok || audio.StreamType != StreamTypeAAC {
		t.Fatalf("expected AAC audio stream at PID %d, got %+v", PIDAudio, audio)
	}
}

func TestValidatePacketRejectsBadSync(t *testing.T) {
	pkt := make([]byte, PacketSize)
	if err := ValidatePacket(pkt); err == nil {
		t.Fatalf("expected error for zeroed packet")
	}
}

func TestValidatePacketRejectsWrongLength(t *testing.T) {
	if err := ValidatePacket(make([]byte, 100)); err == nil {
		t.Fatalf("expected error for short packet")
	}
}
