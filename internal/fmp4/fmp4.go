// Package fmp4 writes fragmented MP4 (ISO Base Media File Format) boxes:
// a single init segment (ftyp+moov) per rendition and one moof+mdat pair
// per segment thereafter, as required by DASH (and usable for fMP4-based
// HLS, though this server targets MPEG-TS HLS per spec). No repo in the
// retrieval pack writes ISOBMFF boxes, so this follows the published box
// layout directly; the box-builder style (explicit big-endian length
// prefixes computed from the body before writing, no DOM) mirrors the low-level,
// no-framework-dependency coding style the teacher uses for RTMP chunk
// headers and AMF0.
package fmp4

import (
	"encoding/binary"
)

// box writes a length-prefixed ISOBMFF box: 4-byte size (8 plus the body
// length) + 4-byte fourcc + body.
func box(fourcc string, body []byte) []byte {
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	copy(out[4:8], fourcc)
	copy(out[8:], body)
	return out
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// TrackConfig describes one video or audio track for init-segment
// generation.
type TrackConfig struct {
	TrackID    uint32
	Timescale  uint32
	IsVideo    bool
	Width      uint16 // video only
	Height     uint16 // video only
	AVCConfig  []byte // avcC record payload, video only (see internal/h264.BuildDecoderConfig)
	ASC        []byte // AudioSpecificConfig, audio only (see internal/aac.BuildAudioSpecificConfig)
	SampleRate uint32 // audio only
	Channels   uint16 // audio only
}

// BuildInitSegment builds the ftyp+moov boxes that precede every fragment
// for a rendition with the given tracks.
func BuildInitSegment(tracks []TrackConfig) []byte {
	ftyp := box("ftyp", append([]byte("isom"), append(u32(512), []byte("isomiso5dash")...)...))
	moov := buildMoov(tracks)
	var out []byte
	out = append(out, ftyp...)
	out = append(out, moov...)
	return out
}

func buildMoov(tracks []TrackConfig) []byte {
	mvhd := buildMVHD(uint32(len(tracks) + 1))
	var traks []byte
	for _, tc := range tracks {
		traks = append(traks, buildTrak(tc)...)
	}
	mvex := buildMVEX(tracks)
	body := append(append(mvhd, traks...), mvex...)
	return box("moov", body)
}

func buildMVHD(nextTrackID uint32) []byte {
	body := make([]byte, 0, 100)
	body = append(body, 0, 0, 0, 0) // version+flags
	body = append(body, u32(0)...)  // creation_time
	body = append(body, u32(0)...)  // modification_time
	body = append(body, u32(1000)...)
	body = append(body, u32(0)...) // duration (unknown, fragmented)
	body = append(body, 0x00, 0x01, 0x00, 0x00)
	body = append(body, 0x01, 0x00, 0x00, 0x00)
	body = append(body, make([]byte, 10)...)  // reserved
	body = append(body, identityMatrix()...)  // unity matrix
	body = append(body, make([]byte, 24)...)  // pre_defined
	body = append(body, u32(nextTrackID)...)
	return box("mvhd", body)
}

func identityMatrix() []byte {
	vals := []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	var out []byte
	for _, v := range vals {
		out = append(out, u32(v)...)
	}
	return out
}

func buildTrak(tc TrackConfig) []byte {
	tkhd := buildTKHD(tc)
	mdia := buildMDIA(tc)
	body := append(tkhd, mdia...)
	return box("trak", body)
}

func buildTKHD(tc TrackConfig) []byte {
	body := make([]byte, 0, 92)
	body = append(body, 0, 0, 0, 0x07) // version=0, flags=track_enabled|in_movie|in_preview
	body = append(body, u32(0)...)
	body = append(body, u32(0)...)
	body = append(body, u32(tc.TrackID)...)
	body = append(body, u32(0)...) // reserved
	body = append(body, u32(0)...) // duration
	body = append(body, make([]byte, 8)...)
	body = append(body, u16(0)...) // layer
	body = append(body, u16(0)...) // alternate_group
	if tc.IsVideo {
		body = append(body, u16(0)...) // volume
	} else {
		body = append(body, 0x01, 0x00) // volume=1.0
	}
	body = append(body, u16(0)...) // reserved
	body = append(body, identityMatrix()...)
	body = append(body, u16(tc.Width)...)
	body = append(body, u16(0)...)
	body = append(body, u16(tc.Height)...)
	body = append(body, u16(0)...)
	return box("tkhd", body)
}

func buildMDIA(tc TrackConfig) []byte {
	mdhd := buildMDHD(tc.Timescale)
	hdlr := buildHDLR(tc.IsVideo)
	minf := buildMINF(tc)
	return box("mdia", append(append(mdhd, hdlr...), minf...))
}

func buildMDHD(timescale uint32) []byte {
	body := make([]byte, 0, 24)
	body = append(body, 0, 0, 0, 0)
	body = append(body, u32(0)...)
	body = append(body, u32(0)...)
	body = append(body, u32(timescale)...)
	body = append(body, u32(0)...)
	body = append(body, 0x55, 0xC4, 0x00, 0x00) // language=und + pre_defined
	return box("mdhd", body)
}

func buildHDLR(isVideo bool) []byte {
	handlerType := "soun"
	name := "SoundHandler"
	if isVideo {
		handlerType = "vide"
		name = "VideoHandler"
	}
	body := make([]byte, 0, 32+len(name)+1)
	body = append(body, 0, 0, 0, 0)
	body = append(body, u32(0)...)
	body = append(body, []byte(handlerType)...)
	body = append(body, make([]byte, 12)...)
	body = append(body, []byte(name)...)
	body = append(body, 0x00)
	return box("hdlr", body)
}

func buildMINF(tc TrackConfig) []byte {
	var mhd []byte
	if tc.IsVideo {
		mhd = box("vmhd", []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0})
	} else {
		mhd = box("smhd", []byte{0, 0, 0, 0, 0, 0, 0, 0})
	}
	dinf := box("dinf", box("dref", append([]byte{0, 0, 0, 0, 0, 0, 0, 1}, box("url ", []byte{0, 0, 0, 1})...)))
	stbl := buildSTBL(tc)
	return box("minf", append(append(mhd, dinf...), stbl...))
}

func buildSTBL(tc TrackConfig) []byte {
	stsd := buildSTSD(tc)
	empty32 := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	stts := box("stts", empty32)
	stsc := box("stsc", empty32)
	stsz := box("stsz", append([]byte{0, 0, 0, 0}, empty32...))
	stco := box("stco", empty32)
	return box("stbl", append(append(append(append(stsd, stts...), stsc...), stsz...), stco...))
}

func buildSTSD(tc TrackConfig) []byte {
	var entry []byte
	if tc.IsVideo {
		entry = buildAVC1(tc)
	} else {
		entry = buildMP4A(tc)
	}
	body := append([]byte{0, 0, 0, 0}, u32(1)...)
	body = append(body, entry...)
	return box("stsd", body)
}

func buildAVC1(tc TrackConfig) []byte {
	body := make([]byte, 0, 86)
	body = append(body, make([]byte, 6)...)
	body = append(body, u16(1)...) // data_reference_index
	body = append(body, make([]byte, 16)...)
	body = append(body, u16(tc.Width)...)
	body = append(body, u16(tc.Height)...)
	body = append(body, u32(0x00480000)...) // horizresolution 72dpi
	body = append(body, u32(0x00480000)...) // vertresolution
	body = append(body, u32(0)...)           // reserved
	body = append(body, u16(1)...)           // frame_count
	body = append(body, make([]byte, 32)...) // compressorname
	body = append(body, u16(0x0018)...)      // depth
	body = append(body, 0xFF, 0xFF)          // pre_defined=-1
	body = append(body, box("avcC", tc.AVCConfig)...)
	return box("avc1", body)
}

func buildMP4A(tc TrackConfig) []byte {
	body := make([]byte, 0, 28)
	body = append(body, make([]byte, 6)...)
	body = append(body, u16(1)...) // data_reference_index
	body = append(body, u32(0)...)
	body = append(body, u32(0)...)
	body = append(body, u16(tc.Channels)...)
	body = append(body, u16(16)...) // samplesize
	body = append(body, u16(0)...)
	body = append(body, u16(0)...)
	body = append(body, u32(tc.SampleRate<<16)...)
	esds := buildESDS(tc.ASC)
	return box("mp4a", append(body, esds...))
}

func buildESDS(asc []byte) []byte {
	decSpecificInfo := descriptor(0x05, asc)
	decConfig := descriptor(0x04, append([]byte{0x40, 0x15, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, decSpecificInfo...))
	slConfig := descriptor(0x06, []byte{0x02})
	esDesc := descriptor(0x03, append(append([]byte{0x00, 0x00, 0x00}, decConfig...), slConfig...))
	return box("esds", append([]byte{0, 0, 0, 0}, esDesc...))
}

func descriptor(tag byte, payload []byte) []byte {
	out := []byte{tag, byte(len(payload))}
	return append(out, payload...)
}

func buildMVEX(tracks []TrackConfig) []byte {
	var trexes []byte
	for _, tc := range tracks {
		body := append([]byte{0, 0, 0, 0}, u32(tc.TrackID)...)
		body = append(body, u32(1)...) // default_sample_description_index
		body = append(body, u32(0)...) // default_sample_duration
		body = append(body, u32(0)...) // default_sample_size
		body = append(body, u32(0)...) // default_sample_flags
		trexes = append(trexes, box("trex", body)...)
	}
	return box("mvex", trexes)
}
