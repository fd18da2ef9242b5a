// Package mpegts implements a minimal MPEG-TS multiplexer/demultiplexer:
// fixed 188-byte packets, PAT/PMT program tables, and PES packetization
// for H.264/H.265 video and AAC (ADTS) audio. No repo in the retrieval
// pack carries a TS muxer (astits-class implementations only appear in
// non-teacher-eligible reference files), so this follows the published
// ISO/IEC 13818-1 packet layout directly; byte-level conventions
// (big-endian bit masks, explicit struct-free encoding) mirror the
// teacher's RTMP chunk-header codec in internal/rtmp/chunk.
package mpegts

import (
	"encoding/binary"
	"fmt"
)

const (
	// PacketSize is the fixed MPEG-TS packet length.
	PacketSize = 188
	syncByte   = 0x47

	// Well-known PIDs used by this muxer's single-program streams.
	PIDPAT       = 0x0000
	PIDPMT       = 0x1000
	PIDVideo     = 0x0100
	PIDAudio     = 0x0101
	PIDNull      = 0x1FFF

	// Stream type identifiers carried in the PMT.
	StreamTypeH264 = 0x1B
	StreamTypeH265 = 0x24
	StreamTypeAAC  = 0x0F
)

// Muxer packetizes video/audio access units into 188-byte TS packets. One
// Muxer instance owns one program (PAT+PMT describing exactly one video
// and/or one audio elementary stream), matching the single-rendition
// model of the HLS segmenter that owns it.
type Muxer struct {
	hasVideo     bool
	hasAudio     bool
	videoIsHEVC  bool
	patCC        uint8
	pmtCC        uint8
	videoCC      uint8
	audioCC      uint8
	patPeriod    int
	packetsSince int
}

// NewMuxer constructs a Muxer for a program with the given elementary
// streams.
func NewMuxer(hasVideo, hasAudio, videoIsHEVC bool) *Muxer {
	return &Muxer{hasVideo: hasVideo, hasAudio: hasAudio, videoIsHEVC: videoIsHEVC, patPeriod: 20}
}

// The PAT/PMT pair (packPAT+packPMT) is re-emitted by WriteVideoFrame on
// every keyframe and by WriteVideoFrame/WriteAudioFrame every patPeriod
// frames; WriteHeader forces an initial PAT/PMT pair, which every segment
// must begin with per the HLS spec.
func (m *Muxer) WriteHeader() []byte {
	var out []byte
	out = append(out, m.packPAT()...)
	out = append(out, m.packPMT()...)
	return out
}

func (m *Muxer) maybeResendTables() []byte {
	m.packetsSince++
	if m.packetsSince < m.patPeriod {
		return nil
	}
	m.packetsSince = 0
	return m.WriteHeader()
}

// WriteVideoFrame packetizes one access unit (Annex-B NALUs concatenated,
// start codes included) as a PES packet with PCR carried on the first TS
// packet of keyframes, splitting across as many 188-byte packets as
// needed.
func (m *Muxer) WriteVideoFrame(pts, dts uint64, isKeyframe bool, annexB []byte) []byte {
	var out []byte
	if isKeyframe {
		out = append(out, m.WriteHeader()...)
	} else {
		out = append(out, m.maybeResendTables()...)
	}
	pes := buildPESHeader(0xE0, pts, dts, len(annexB))
	payload := append(pes, annexB...)
	var pcr *uint64
	if isKeyframe {
		p := dts * 300 // 27MHz PCR base from 90kHz DTS, extension 0
		pcr = &p
	}
	out = append(out, m.packetize(PIDVideo, &m.videoCC, payload, true, pcr)...)
	return out
}

// WriteAudioFrame packetizes one ADTS-framed AAC access unit as a PES
// packet.
func (m *Muxer) WriteAudioFrame(pts uint64, adts []byte) []byte {
	out := m.maybeResendTables()
	pes := buildPESHeader(0xC0, pts, 0, len(adts))
	payload := append(pes, adts...)
	out = append(out, m.packetize(PIDAudio, &m.audioCC, payload, true, nil)...)
	return out
}

// packetize splits payload into 188-byte TS packets starting with a
// payload_unit_start_indicator-set packet (PES/PSI header included).
func (m *Muxer) packetize(pid uint16, cc *uint8, payload []byte, pusi bool, pcr *uint64) []byte {
	var out []byte
	first := true
	for len(payload) > 0 {
		pkt := make([]byte, PacketSize)
		pkt[0] = syncByte
		pusiBit := byte(0)
		if first && pusi {
			pusiBit = 0x40
		}
		pkt[1] = pusiBit | byte((pid>>8)&0x1F)
		pkt[2] = byte(pid & 0xFF)

		headerLen := 4
		hasAdaptation := first && pcr != nil
		afLen := 0
		if hasAdaptation {
			afLen = 7 // flags(1) + PCR(6); the length byte is counted below
			headerLen += 1 + afLen
		}
		avail := PacketSize - headerLen
		n := len(payload)
		if n > avail {
			n = avail
		}
		stuff := avail - n
		if stuff > 0 {
			if !hasAdaptation {
				hasAdaptation = true
				afLen = stuff - 1
				headerLen += 1 + afLen
				avail = PacketSize - headerLen
				n = len(payload)
				if n > avail {
					n = avail
				}
				stuff = avail - n
			} else {
				afLen += stuff
				headerLen += stuff
			}
		}

		afc := byte(0x01) // payload only
		if hasAdaptation {
			afc = 0x03 // adaptation field + payload
		}
		pkt[3] = afc<<4 | ((*cc)&0x0F)
		*cc = (*cc + 1) & 0x0F

		pos := 4
		if hasAdaptation {
			pkt[pos] = byte(afLen)
			pos++
			flagByte := byte(0)
			if first && pcr != nil {
				flagByte |= 0x10
			}
			pkt[pos] = flagByte
			pos++
			if first && pcr != nil {
				writePCR(pkt[pos:pos+6], *pcr)
				pos += 6
			}
			// remaining adaptation bytes are stuffing (0xFF)
			for pos < 4+1+afLen {
				pkt[pos] = 0xFF
				pos++
			}
		}
		copy(pkt[pos:], payload[:n])
		payload = payload[n:]
		out = append(out, pkt...)
		first = false
	}
	return out
}

func writePCR(dst []byte, pcr300 uint64) {
	base := pcr300 / 300
	ext := pcr300 % 300
	dst[0] = byte(base >> 25)
	dst[1] = byte(base >> 17)
	dst[2] = byte(base >> 9)
	dst[3] = byte(base >> 1)
	dst[4] = byte(base<<7) | 0x7E | byte(ext>>8)
	dst[5] = byte(ext)
}

func buildPESHeader(streamID byte, pts, dts uint64, payloadLen int) []byte {
	hasDTS := dts != 0 && dts != pts
	ptsDTSFlags := byte(0x80)
	pesHeaderDataLen := 5
	if hasDTS {
		ptsDTSFlags = 0xC0
		pesHeaderDataLen = 10
	}
	optLen := 3 + pesHeaderDataLen
	pktLen := payloadLen + optLen
	if pktLen > 0xFFFF {
		pktLen = 0 // unbounded length, permitted for video PES
	}
	hdr := make([]byte, 6+optLen)
	hdr[0], hdr[1], hdr[2] = 0x00, 0x00, 0x01
	hdr[3] = streamID
	binary.BigEndian.PutUint16(hdr[4:6], uint16(pktLen))
	hdr[6] = 0x80
	hdr[7] = ptsDTSFlags
	hdr[8] = byte(pesHeaderDataLen)
	writeTimestamp(hdr[9:14], ptsDTSFlags>>6, pts)
	if hasDTS {
		writeTimestamp(hdr[14:19], 0x01, dts)
	}
	return hdr
}

func writeTimestamp(dst []byte, marker byte, ts uint64) {
	ts &= 0x1FFFFFFFF // 33 bits
	dst[0] = (marker << 4) | byte((ts>>29)&0x0E) | 0x01
	dst[1] = byte(ts >> 22)
	dst[2] = byte((ts>>14)&0xFE) | 0x01
	dst[3] = byte(ts >> 7)
	dst[4] = byte((ts<<1)&0xFE) | 0x01
}

func (m *Muxer) packPAT() []byte {
	section := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_syntax_indicator|section_length=13
		0x00, 0x01, // transport_stream_id
		0xC1,       // version=0, current_next=1
		0x00, 0x00, // section_number, last_section_number
		0x00, 0x01, // program_number=1
		0xE0 | byte(PIDPMT>>8), byte(PIDPMT & 0xFF),
	}
	section = appendCRC(section)
	pkt := wrapPSI(PIDPAT, &m.patCC, section)
	return pkt
}

func (m *Muxer) packPMT() []byte {
	var streams []byte
	if m.hasVideo {
		st := byte(StreamTypeH264)
		if m.videoIsHEVC {
			st = StreamTypeH265
		}
		streams = append(streams, st, 0xE0|byte(PIDVideo>>8), byte(PIDVideo&0xFF), 0xF0, 0x00)
	}
	if m.hasAudio {
		streams = append(streams, StreamTypeAAC, 0xE0|byte(PIDAudio>>8), byte(PIDAudio&0xFF), 0xF0, 0x00)
	}
	pcrPID := uint16(PIDVideo)
	if !m.hasVideo {
		pcrPID = PIDAudio
	}
	sectionLen := 9 + 4 + len(streams) // program_info up to CRC, excluding table_id/section_length fields
	section := []byte{
		0x02,
		0xB0 | byte(sectionLen>>8), byte(sectionLen & 0xFF),
		0x00, 0x01, // program_number
		0xC1,
		0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID & 0xFF),
		0xF0, 0x00, // program_info_length = 0
	}
	section = append(section, streams...)
	section = appendCRC(section)
	return wrapPSI(PIDPMT, &m.pmtCC, section)
}

func wrapPSI(pid uint16, cc *uint8, section []byte) []byte {
	pkt := make([]byte, PacketSize)
	pkt[0] = syncByte
	pkt[1] = 0x40 | byte((pid>>8)&0x1F) // payload_unit_start_indicator
	pkt[2] = byte(pid & 0xFF)
	pkt[3] = 0x10 | ((*cc) & 0x0F)
	*cc = (*cc + 1) & 0x0F
	pkt[4] = 0x00 // pointer_field
	copy(pkt[5:], section)
	for i := 5 + len(section); i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// crc32MPEGTable is the CRC-32/MPEG-2 polynomial table used by PSI sections.
var crc32MPEGTable = func() [256]uint32 {
	var t [256]uint32
	for i := 0; i < 256; i++ {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = (c << 1) ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

func crc32MPEG(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crc32MPEGTable[byte(crc>>24)^b]
	}
	return crc
}

func appendCRC(section []byte) []byte {
	crc := crc32MPEG(section)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], crc)
	return append(section, b[:]...)
}

// ValidatePacket checks the sync byte and packet length invariants a
// demuxer must enforce before trusting a 188-byte slice.
func ValidatePacket(pkt []byte) error {
	if len(pkt) != PacketSize {
		return fmt.Errorf("mpegts: packet length %d != %d", len(pkt), PacketSize)
	}
	if pkt[0] != syncByte {
		return fmt.Errorf("mpegts: bad sync byte 0x%02X", pkt[0])
	}
	return nil
}

// PacketPID extracts the PID from a validated TS packet.
func PacketPID(pkt []byte) uint16 {
	return uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
}
