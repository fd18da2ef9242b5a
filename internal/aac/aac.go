// Package aac implements ADTS framing and AudioSpecificConfig parsing for
// AAC audio. No example repo in the retrieval pack carries an ADTS
// implementation; this follows the published ADTS/AudioSpecificConfig bit
// layout directly, using the same big-endian-bitmask coding style as the
// teacher's AMF0/RTMP control-message parsing (internal/amf, internal/rtmp
// chunk headers).
package aac

import "fmt"

// SampleRateTable maps the 4-bit ADTS/AudioSpecificConfig
// samplingFrequencyIndex to its sample rate in Hz. Index 15 ("explicit
// frequency") is not supported.
var SampleRateTable = [16]int{
	96000, 88200, 64000, 48000,
	44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000,
	7350, 0, 0, 0,
}

// AudioSpecificConfig is the decoded form of the 2-byte (minimum) AAC
// AudioSpecificConfig carried in the FLV/RTMP "AAC sequence header" and in
// the fMP4 esds box.
type AudioSpecificConfig struct {
	ObjectType       uint8
	SampleRateIndex  uint8
	SampleRate       int
	ChannelConfig    uint8
}

// ParseAudioSpecificConfig decodes the first two bytes of an
// AudioSpecificConfig. Extensions (SBR/PS signaling past byte 2) are
// ignored; this is sufficient for ADTS header synthesis and playback.
func ParseAudioSpecificConfig(data []byte) (*AudioSpecificConfig, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("aac: AudioSpecificConfig truncated: %d bytes", len(data))
	}
	objType := data[0] >> 3
	freqIdx := ((data[0] & 0x07) << 1) | (data[1] >> 7)
	chanCfg := (data[1] >> 3) & 0x0F
	if freqIdx > 12 {
		return nil, fmt.Errorf("aac: unsupported sampling frequency index %d", freqIdx)
	}
	return &AudioSpecificConfig{
		ObjectType:      objType,
		SampleRateIndex: freqIdx,
		SampleRate:      SampleRateTable[freqIdx],
		ChannelConfig:   chanCfg,
	}, nil
}

// BuildAudioSpecificConfig serializes cfg back into a 2-byte
// AudioSpecificConfig using cfg's object type, sampling frequency index
// and channel configuration (no extension).
func BuildAudioSpecificConfig(cfg *AudioSpecificConfig) []byte {
	b0 := (cfg.ObjectType << 3) | ((cfg.SampleRateIndex >> 1) & 0x07)
	b1 := ((cfg.SampleRateIndex & 0x01) << 7) | ((cfg.ChannelConfig & 0x0F) << 3)
	return []byte{b0, b1}
}

// ADTSHeaderLen is the fixed length of an ADTS header with no CRC.
const ADTSHeaderLen = 7

// BuildADTSHeader synthesizes a 7-byte ADTS header for one AAC raw frame
// of frameLen bytes (payload only; frameLen does not include the header
// itself), used by the HLS segmenter when packaging AAC into MPEG-TS,
// which requires ADTS framing rather than the raw-AAC-in-LOAS framing RTMP
// uses.
func BuildADTSHeader(cfg *AudioSpecificConfig, frameLen int) []byte {
	aacFrameLen := frameLen + ADTSHeaderLen
	h := make([]byte, ADTSHeaderLen)
	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, no CRC, layer 00
	profile := cfg.ObjectType - 1
	h[2] = (profile << 6) | ((cfg.SampleRateIndex & 0x0F) << 2) | ((cfg.ChannelConfig >> 2) & 0x01)
	h[3] = ((cfg.ChannelConfig & 0x03) << 6) | byte((aacFrameLen>>11)&0x03)
	h[4] = byte((aacFrameLen >> 3) & 0xFF)
	h[5] = byte((aacFrameLen&0x07)<<5) | 0x1F
	h[6] = 0xFC
	return h
}

// ParseADTSHeader decodes a 7-byte ADTS header (without CRC) and returns
// the frame's payload length in bytes (excluding the header).
func ParseADTSHeader(h []byte) (payloadLen int, sampleRateIdx uint8, channelCfg uint8, err error) {
	if len(h) < ADTSHeaderLen {
		return 0, 0, 0, fmt.Errorf("aac: ADTS header truncated")
	}
	if h[0] != 0xFF || (h[1]&0xF0) != 0xF0 {
		return 0, 0, 0, fmt.Errorf("aac: bad ADTS sync word")
	}
	sampleRateIdx = (h[2] >> 2) & 0x0F
	channelCfg = ((h[2] & 0x01) << 2) | (h[3] >> 6)
	frameLen := (int(h[3]&0x03) << 11) | (int(h[4]) << 3) | (int(h[5]) >> 5)
	return frameLen - ADTSHeaderLen, sampleRateIdx, channelCfg, nil
}
