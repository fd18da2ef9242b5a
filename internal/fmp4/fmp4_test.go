package fmp4

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuildInitSegmentContainsFtypAndMoov(t *testing.T) {
	tracks := []TrackConfig{
		{TrackID: 1, Timescale: 90000, IsVideo: true, Width: 1280, Height: 720, AVCConfig: []byte{1, 0x42, 0xC0, 0x1E, 0xFF, 0xE1, 0, 0}},
		{TrackID: 2, Timescale: 48000, IsVideo: false, SampleRate: 48000, Channels: 2, ASC: []byte{0x11, 0x90}},
	}
	data := BuildInitSegment(tracks)
	if !bytes.Contains(data[:8], []byte("ftyp")) {
		t.Fatalf("expected ftyp box at start, got %x", data[:8])
	}
	if !bytes.Contains(data, []byte("moov")) {
		t.Fatalf("expected moov box")
	}
	if !bytes.Contains(data, []byte("trak")) {
		t.Fatalf("expected trak boxes")
	}
	if !bytes.Contains(data, []byte("avc1")) {
		t.Fatalf("expected avc1 sample entry for video track")
	}
	if !bytes.Contains(data, []byte("mp4a")) {
		t.Fatalf("expected mp4a sample entry for audio track")
	}
}

func TestBuildFragmentSizesAreConsistent(t *testing.T) {
	samples := []Sample{
		{Duration: 3000, Size: 4, IsSync: true, Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{Duration: 3000, Size: 2, IsSync: false, Data: []byte{0xAA, 0xBB}},
	}
	frag := BuildFragment(1, 1, 0, samples)

	moofLen := binary.BigEndian.Uint32(frag[0:4])
	if string(frag[4:8]) != "moof" {
		t.Fatalf("expected moof box first, got %q", frag[4:8])
	}
	mdatOffset := moofLen
	if int(mdatOffset)+8 > len(frag) {
		t.Fatalf("mdat offset %d out of range (total %d)", mdatOffset, len(frag))
	}
	mdatLen := binary.BigEndian.Uint32(frag[mdatOffset : mdatOffset+4])
	if string(frag[mdatOffset+4:mdatOffset+8]) != "mdat" {
		t.Fatalf("expected mdat box at offset %d, got %q", mdatOffset, frag[mdatOffset+4:mdatOffset+8])
	}
	wantMdatLen := 8 + len(samples[0].Data) + len(samples[1].Data)
	if int(mdatLen) != wantMdatLen {
		t.Fatalf("mdat length mismatch: got %d want %d", mdatLen, wantMdatLen)
	}
	if uint32(len(frag)) != moofLen+mdatLen {
		t.Fatalf("total fragment length mismatch: got %d want %d", len(frag), moofLen+mdatLen)
	}
}
