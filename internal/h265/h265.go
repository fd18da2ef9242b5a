// Package h265 mirrors internal/h264's NALU scanning and AVCC/Annex-B
// conversion for HEVC. No pack repo includes an HEVC depacketizer, so this
// is grounded on the structure of internal/h264 (itself grounded on
// gtfodev-camsRelay's H264Processor) rather than a distinct source; only
// the NAL unit header layout differs (a 2-byte header with a 6-bit type
// field instead of H.264's 1-byte, 5-bit field).
package h265

import (
	"encoding/binary"
	"fmt"
)

// NAL unit type values of interest, per ITU-T H.265 Table 7-1.
const (
	NALUTypeTrailN  = 0
	NALUTypeTrailR  = 1
	NALUTypeIDRWRAD = 19
	NALUTypeIDRNLP  = 20
	NALUTypeCRANUT  = 21
	NALUTypeVPS     = 32
	NALUTypeSPS     = 33
	NALUTypePPS     = 34
)

var annexBStartCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// NALUType extracts the 6-bit NAL unit type from the two-byte HEVC NAL
// header (bits 1-6 of the first byte).
func NALUType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return NALUTypeTrailN
	}
	return (nalu[0] >> 1) & 0x3F
}

// IsKeyframeNALU reports whether nalu is an IDR or CRA slice.
func IsKeyframeNALU(nalu []byte) bool {
	t := NALUType(nalu)
	return t == NALUTypeIDRWRAD || t == NALUTypeIDRNLP || t == NALUTypeCRANUT
}

// SplitAnnexB splits an Annex-B delimited byte stream into NALUs.
func SplitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	i := 0
	var starts []int
	var lens []int
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				starts = append(starts, i)
				lens = append(lens, 3)
				i += 3
				continue
			}
			if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				starts = append(starts, i)
				lens = append(lens, 4)
				i += 4
				continue
			}
		}
		i++
	}
	for idx, s := range starts {
		end := len(data)
		if idx+1 < len(starts) {
			end = starts[idx+1]
		}
		n := data[s+lens[idx] : end]
		if len(n) > 0 {
			nalus = append(nalus, n)
		}
	}
	return nalus
}

// SplitAVCC splits a 4-byte-length-prefixed (hvcC-style) NALU stream.
func SplitAVCC(data []byte) ([][]byte, error) {
	var nalus [][]byte
	for len(data) >= 4 {
		n := int(binary.BigEndian.Uint32(data[:4]))
		data = data[4:]
		if n > len(data) {
			return nil, fmt.Errorf("h265: NALU length %d exceeds remaining %d", n, len(data))
		}
		nalus = append(nalus, data[:n])
		data = data[n:]
	}
	return nalus, nil
}

// AnnexBToAVCC reassembles NALUs with 4-byte length prefixes.
func AnnexBToAVCC(nalus [][]byte) []byte {
	var out []byte
	for _, n := range nalus {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(n)))
		out = append(out, l[:]...)
		out = append(out, n...)
	}
	return out
}

// AVCCToAnnexB reassembles NALUs with Annex-B start codes.
func AVCCToAnnexB(nalus [][]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, annexBStartCode4...)
		out = append(out, n...)
	}
	return out
}
