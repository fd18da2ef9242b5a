// Package h264 provides NAL unit scanning and AVCC/Annex-B conversion
// shared by the HLS segmenter (Annex-B, for MPEG-TS) and the RTMP/DASH
// paths (AVCC, length-prefixed). Grounded on the RTP depacketization
// logic in gtfodev-camsRelay's H264Processor, generalized from
// RTP-payload reassembly to plain NALU-stream scanning since this package
// is fed already-reassembled access units (from flv.Frame.Payload or a
// demuxed TS PES), not raw RTP packets.
package h264

import (
	"encoding/binary"
	"fmt"
)

// NAL unit type values, per ITU-T H.264 Table 7-1.
const (
	NALUTypeUnspecified = 0
	NALUTypePFrame      = 1
	NALUTypeIFrame      = 5
	NALUTypeSEI         = 6
	NALUTypeSPS         = 7
	NALUTypePPS         = 8
	NALUTypeAUD         = 9
	NALUTypeSTAPA       = 24
	NALUTypeFUA         = 28
)

var annexBStartCode3 = []byte{0x00, 0x00, 0x01}
var annexBStartCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// NALUType extracts the 5-bit NAL unit type from its first byte.
func NALUType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return NALUTypeUnspecified
	}
	return nalu[0] & 0x1F
}

// IsKeyframeNALU reports whether nalu is an IDR slice.
func IsKeyframeNALU(nalu []byte) bool {
	return NALUType(nalu) == NALUTypeIFrame
}

// SplitAnnexB splits a byte stream delimited by Annex-B start codes
// (0x000001 or 0x00000001) into individual NALUs, start codes stripped.
// Used when demuxing MPEG-TS PES payloads, which carry H.264 in Annex-B
// form.
func SplitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	starts := findStartCodes(data)
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1].offset
		}
		nalu := data[s.offset+s.length : end]
		if len(nalu) > 0 {
			nalus = append(nalus, nalu)
		}
	}
	return nalus
}

type startCode struct {
	offset int
	length int
}

func findStartCodes(data []byte) []startCode {
	var out []startCode
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				out = append(out, startCode{offset: i, length: 3})
				i += 3
				continue
			}
			if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				out = append(out, startCode{offset: i, length: 4})
				i += 4
				continue
			}
		}
		i++
	}
	return out
}

// SplitAVCC splits an AVCC/length-prefixed NALU stream (the form RTMP and
// fMP4 carry, and the form stored in an AVCDecoderConfigurationRecord's
// trailing SPS/PPS list) into individual NALUs using lengthSize-byte
// big-endian prefixes (lengthSize is almost always 4).
func SplitAVCC(data []byte, lengthSize int) ([][]byte, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("h264: unsupported AVCC length size %d", lengthSize)
	}
	var nalus [][]byte
	for len(data) >= lengthSize {
		var n int
		switch lengthSize {
		case 1:
			n = int(data[0])
		case 2:
			n = int(binary.BigEndian.Uint16(data[:2]))
		case 4:
			n = int(binary.BigEndian.Uint32(data[:4]))
		}
		data = data[lengthSize:]
		if n > len(data) {
			return nil, fmt.Errorf("h264: AVCC NALU length %d exceeds remaining %d", n, len(data))
		}
		nalus = append(nalus, data[:n])
		data = data[n:]
	}
	return nalus, nil
}

// AnnexBToAVCC reassembles NALUs into AVCC form with 4-byte length
// prefixes, as required by the fMP4 writer and by RTMP AVC NALU tags.
func AnnexBToAVCC(nalus [][]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = appendLengthPrefixed(out, n)
	}
	return out
}

// AVCCToAnnexB reassembles NALUs with Annex-B start codes, as required by
// the HLS/MPEG-TS PES payload.
func AVCCToAnnexB(nalus [][]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, annexBStartCode4...)
		out = append(out, n...)
	}
	return out
}

func appendLengthPrefixed(dst, nalu []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nalu)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, nalu...)
}

// DecoderConfig holds the decoder configuration extracted from an
// AVCDecoderConfigurationRecord (the FLV/RTMP "AVC sequence header" and
// the fMP4 avcC box both use this record verbatim).
type DecoderConfig struct {
	ProfileIndication    uint8
	ProfileCompatibility uint8
	LevelIndication      uint8
	SPS                  [][]byte
	PPS                  [][]byte
}

// ParseDecoderConfig parses an AVCDecoderConfigurationRecord.
func ParseDecoderConfig(data []byte) (*DecoderConfig, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("h264: avcC record truncated: %d bytes", len(data))
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("h264: unsupported avcC configurationVersion %d", data[0])
	}
	cfg := &DecoderConfig{
		ProfileIndication:    data[1],
		ProfileCompatibility: data[2],
		LevelIndication:      data[3],
	}
	pos := 5
	numSPS := int(data[pos] & 0x1F)
	pos++
	for i := 0; i < numSPS; i++ {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("h264: avcC truncated reading sps length")
		}
		l := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+l > len(data) {
			return nil, fmt.Errorf("h264: avcC truncated reading sps")
		}
		cfg.SPS = append(cfg.SPS, data[pos:pos+l])
		pos += l
	}
	if pos >= len(data) {
		return nil, fmt.Errorf("h264: avcC truncated reading pps count")
	}
	numPPS := int(data[pos])
	pos++
	for i := 0; i < numPPS; i++ {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("h264: avcC truncated reading pps length")
		}
		l := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+l > len(data) {
			return nil, fmt.Errorf("h264: avcC truncated reading pps")
		}
		cfg.PPS = append(cfg.PPS, data[pos:pos+l])
		pos += l
	}
	return cfg, nil
}

// BuildDecoderConfig serializes cfg back into an
// AVCDecoderConfigurationRecord with lengthSizeMinusOne fixed at 3 (4-byte
// NALU lengths), matching every encoder in the pack's target ecosystem.
func BuildDecoderConfig(cfg *DecoderConfig) []byte {
	out := []byte{1, cfg.ProfileIndication, cfg.ProfileCompatibility, cfg.LevelIndication, 0xFC | 0x03, 0xE0 | byte(len(cfg.SPS))}
	for _, sps := range cfg.SPS {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(sps)))
		out = append(out, l[:]...)
		out = append(out, sps...)
	}
	out = append(out, byte(len(cfg.PPS)))
	for _, pps := range cfg.PPS {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(pps)))
		out = append(out, l[:]...)
		out = append(out, pps...)
	}
	return out
}
