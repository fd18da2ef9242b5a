package flv

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestMuxerWritesHeaderAndTags(t *testing.T) {
	var buf bytes.Buffer
	m := NewMuxer(&buf, true, true)

	audio := &Frame{AudioCodec: AudioCodecAAC, PacketType: PacketTypeSequenceHeader, Timestamp: 0, Payload: []byte{0x11, 0x22}}
	video := &Frame{IsVideo: true, VideoCodec: VideoCodecAVC, FrameType: FrameTypeKey, PacketType: PacketTypeSequenceHeader, Timestamp: 0, Payload: []byte{0x01, 0x42, 0xC0, 0x1E}}

	if err := m.WriteFrame(audio); err != nil {
		t.Fatalf("WriteFrame audio: %v", err)
	}
	if err := m.WriteFrame(video); err != nil {
		t.Fatalf("WriteFrame video: %v", err)
	}

	b := buf.Bytes()
	if string(b[:3]) != "FLV" {
		t.Fatalf("bad signature: %q", b[:3])
	}
	if b[4] != 0x05 {
		t.Fatalf("expected audio+video flags, got 0x%02X", b[4])
	}
	if off := binary.BigEndian.Uint32(b[5:9]); off != 9 {
		t.Fatalf("expected data offset 9, got %d", off)
	}

	wantAudioTagLen := 2 + len(audio.Payload) // AAC header byte + packet type byte
	wantVideoTagLen := 5 + len(video.Payload)
	wantLen := 13 + (11 + wantAudioTagLen + 4) + (11 + wantVideoTagLen + 4)
	if len(b) != wantLen {
		t.Fatalf("file size mismatch got %d want %d", len(b), wantLen)
	}
	if b[13] != TagTypeAudio {
		t.Fatalf("first tag type want %d got %d", TagTypeAudio, b[13])
	}
}

func TestParseAndBuildVideoTagRoundTrip(t *testing.T) {
	raw := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	f, err := ParseVideoTag(1234, raw)
	if err != nil {
		t.Fatalf("ParseVideoTag: %v", err)
	}
	if !f.IsVideo || f.VideoCodec != VideoCodecAVC || f.FrameType != FrameTypeKey {
		t.Fatalf("unexpected parse result: %+v", f)
	}
	if f.PacketType != PacketTypeRaw {
		t.Fatalf("expected raw packet type, got %v", f.PacketType)
	}
	if !bytes.Equal(f.Payload, raw[5:]) {
		t.Fatalf("payload mismatch: %x", f.Payload)
	}

	rebuilt := BuildVideoTag(f)
	if !bytes.Equal(rebuilt, raw) {
		t.Fatalf("round-trip mismatch: got %x want %x", rebuilt, raw)
	}
}

func TestParseAudioTagAAC(t *testing.T) {
	raw := []byte{0xAF, 0x01, 0x11, 0x22, 0x33}
	f, err := ParseAudioTag(500, raw)
	if err != nil {
		t.Fatalf("ParseAudioTag: %v", err)
	}
	if f.AudioCodec != AudioCodecAAC || f.PacketType != PacketTypeRaw {
		t.Fatalf("unexpected parse result: %+v", f)
	}
	if !bytes.Equal(f.Payload, raw[2:]) {
		t.Fatalf("payload mismatch: %x", f.Payload)
	}
}

func TestParseVideoTagUnsupportedCodec(t *testing.T) {
	if _, err := ParseVideoTag(0, []byte{0x12}); err == nil {
		t.Fatalf("expected error for unsupported codec id")
	}
}

func TestDemuxerRoundTripsMuxedStream(t *testing.T) {
	var buf bytes.Buffer
	m := NewMuxer(&buf, true, true)
	frames := []*Frame{
		{AudioCodec: AudioCodecAAC, PacketType: PacketTypeSequenceHeader, Timestamp: 0, Payload: []byte{0x11, 0x22}},
		{IsVideo: true, VideoCodec: VideoCodecAVC, FrameType: FrameTypeKey, PacketType: PacketTypeSequenceHeader, Timestamp: 0, Payload: []byte{0x01, 0x42, 0xC0, 0x1E}},
		{IsVideo: true, VideoCodec: VideoCodecAVC, FrameType: FrameTypeInter, PacketType: PacketTypeRaw, Timestamp: 33, Payload: []byte{0xAA, 0xBB}},
	}
	for _, f := range frames {
		if err := m.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	d := NewDemuxer(bytes.NewReader(buf.Bytes()))
	var got []*Frame
	for {
		f, err := d.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		got = append(got, f)
	}
	if len(got) != len(frames) {
		t.Fatalf("expected %d frames, got %d", len(frames), len(got))
	}
	if got[2].Timestamp != 33 || !got[2].IsVideo {
		t.Fatalf("unexpected third frame: %+v", got[2])
	}
}

func TestFrameHelpers(t *testing.T) {
	kf := &Frame{IsVideo: true, FrameType: FrameTypeKey}
	if !kf.IsKeyFrame() {
		t.Fatalf("expected IsKeyFrame true")
	}
	sh := &Frame{PacketType: PacketTypeSequenceHeader}
	if !sh.IsSequenceHeader() {
		t.Fatalf("expected IsSequenceHeader true")
	}
}
