package h264

import (
	"bytes"
	"testing"
)

func TestSplitAnnexBThreeAndFourByteStartCodes(t *testing.T) {
	data := []byte{}
	data = append(data, 0x00, 0x00, 0x01)
	data = append(data, 0x67, 0xAA) // fake SPS
	data = append(data, 0x00, 0x00, 0x00, 0x01)
	data = append(data, 0x68, 0xBB) // fake PPS
	data = append(data, 0x00, 0x00, 0x01)
	data = append(data, 0x65, 0xCC, 0xDD) // fake IDR

	nalus := SplitAnnexB(data)
	if len(nalus) != 3 {
		t.Fatalf("expected 3 NALUs, got %d", len(nalus))
	}
	if NALUType(nalus[0]) != NALUTypeSPS {
		t.Fatalf("expected SPS type, got %d", NALUType(nalus[0]))
	}
	if NALUType(nalus[1]) != NALUTypePPS {
		t.Fatalf("expected PPS type, got %d", NALUType(nalus[1]))
	}
	if !IsKeyframeNALU(nalus[2]) {
		t.Fatalf("expected third NALU classified as keyframe")
	}
}

func TestAVCCRoundTrip(t *testing.T) {
	nalus := [][]byte{{0x67, 0x01, 0x02}, {0x68, 0x03}, {0x65, 0x04, 0x05, 0x06}}
	avcc := AnnexBToAVCC(nalus)
	split, err := SplitAVCC(avcc, 4)
	if err != nil {
		t.Fatalf("SplitAVCC: %v", err)
	}
	if len(split) != len(nalus) {
		t.Fatalf("expected %d NALUs, got %d", len(nalus), len(split))
	}
	for i := range nalus {
		if !bytes.Equal(split[i], nalus[i]) {
			t.Fatalf("nalu %d mismatch: got %x want %x", i, split[i], nalus[i])
		}
	}
}

func TestAVCCToAnnexB(t *testing.T) {
	nalus := [][]byte{{0x67, 0xAA}, {0x65, 0xBB}}
	annexb := AVCCToAnnexB(nalus)
	got := SplitAnnexB(annexb)
	if len(got) != 2 {
		t.Fatalf("expected 2 NALUs, got %d", len(got))
	}
}

func TestDecoderConfigRoundTrip(t *testing.T) {
	cfg := &DecoderConfig{
		ProfileIndication:    0x42,
		ProfileCompatibility: 0xC0,
		LevelIndication:      0x1E,
		SPS:                  [][]byte{{0x67, 0x42, 0xC0, 0x1E}},
		PPS:                  [][]byte{{0x68, 0xCE, 0x3C, 0x80}},
	}
	raw := BuildDecoderConfig(cfg)
	parsed, err := ParseDecoderConfig(raw)
	if err != nil {
		t.Fatalf("ParseDecoderConfig: %v", err)
	}
	if parsed.ProfileIndication != cfg.ProfileIndication || parsed.LevelIndication != cfg.LevelIndication {
		t.Fatalf("profile/level mismatch: %+v", parsed)
	}
	if len(parsed.SPS) != 1 || !bytes.Equal(parsed.SPS[0], cfg.SPS[0]) {
		t.Fatalf("sps mismatch: %+v", parsed.SPS)
	}
	if len(parsed.PPS) != 1 || !bytes.Equal(parsed.PPS[0], cfg.PPS[0]) {
		t.Fatalf("pps mismatch: %+v", parsed.PPS)
	}
}

func TestParseDecoderConfigRejectsBadVersion(t *testing.T) {
	if _, err := ParseDecoderConfig([]byte{2, 0, 0, 0, 0, 0, 0}); err == nil {
		t.Fatalf("expected error for bad configurationVersion")
	}
}
