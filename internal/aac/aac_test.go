package aac

import "testing"

func TestAudioSpecificConfigRoundTrip(t *testing.T) {
	cfg := &AudioSpecificConfig{ObjectType: 2, SampleRateIndex: 4, ChannelConfig: 2}
	raw := BuildAudioSpecificConfig(cfg)
	parsed, err := ParseAudioSpecificConfig(raw)
	if err != nil {
		t.Fatalf("ParseAudioSpecificConfig: %v", err)
	}
	if parsed.ObjectType != cfg.ObjectType || parsed.SampleRateIndex != cfg.SampleRateIndex || parsed.ChannelConfig != cfg.ChannelConfig {
		t.Fatalf("round-trip mismatch: got %+v want %+v", parsed, cfg)
	}
	if parsed.SampleRate != 44100 {
		t.Fatalf("expected 44100 Hz, got %d", parsed.SampleRate)
	}
}

func TestParseAudioSpecificConfigRejectsBadFreqIndex(t *testing.T) {
	// 0x16 0x88: object type 2, sampling frequency index 13 (reserved), 1 channel.
	if _, err := ParseAudioSpecificConfig([]byte{0x16, 0x88}); err == nil {
		t.Fatalf("expected error for reserved sampling frequency index")
	}
}

func TestADTSHeaderRoundTrip(t *testing.T) {
	cfg := &AudioSpecificConfig{ObjectType: 2, SampleRateIndex: 4, ChannelConfig: 2}
	payloadLen := 200
	hdr := BuildADTSHeader(cfg, payloadLen)
	if len(hdr) != ADTSHeaderLen {
		t.Fatalf("expected %d-byte header, got %d", ADTSHeaderLen, len(hdr))
	}
	gotLen, sri, ch, err := ParseADTSHeader(hdr)
	if err != nil {
		t.Fatalf("ParseADTSHeader: %v", err)
	}
	if gotLen != payloadLen {
		t.Fatalf("expected payload length %d, got %d", payloadLen, gotLen)
	}
	if sri != cfg.SampleRateIndex || ch != cfg.ChannelConfig {
		t.Fatalf("unexpected sri/channel: %d/%d", sri, ch)
	}
}

func TestParseADTSHeaderRejectsBadSync(t *testing.T) {
	bad := make([]byte, ADTSHeaderLen)
	if _, _, _, err := ParseADTSHeader(bad); err == nil {
		t.Fatalf("expected error for bad sync word")
	}
}
