package fmp4

// Sample is one fMP4 sample (one access unit) within a fragment.
type Sample struct {
	Duration    uint32 // in the track's timescale
	Size        uint32
	IsSync      bool // keyframe, for video
	CompTimeOff int32
	Data        []byte
}

// BuildFragment builds a moof+mdat pair for one segment's worth of
// samples on a single track, numbered by sequenceNumber (monotonically
// increasing per DASH's $Number$ SegmentTemplate substitution) and
// anchored at baseMediaDecodeTime (the running DTS in the track's
// timescale, required for $Time$ addressing and for player continuity
// across segment boundaries).
func BuildFragment(trackID, sequenceNumber uint32, baseMediaDecodeTime uint64, samples []Sample) []byte {
	moof := buildMoof(trackID, sequenceNumber, baseMediaDecodeTime, samples)
	mdat := buildMdat(samples)
	out := make([]byte, 0, len(moof)+len(mdat))
	out = append(out, moof...)
	out = append(out, mdat...)
	return out
}

func buildMoof(trackID, seqNum uint32, baseDecodeTime uint64, samples []Sample) []byte {
	mfhd := box("mfhd", append([]byte{0, 0, 0, 0}, u32(seqNum)...))
	traf := buildTraf(trackID, baseDecodeTime, samples, moofHeaderLen(len(samples)))
	return box("moof", append(mfhd, traf...))
}

// moofHeaderLen precomputes the moof box size so trun's data_offset field
// (relative to the start of moof) can point past moof+mdat-header into
// the first sample byte, required for players that ignore mdat's own
// framing and trust trun exclusively.
func moofHeaderLen(numSamples int) uint32 {
	const mfhdLen = 16
	const moofBoxHeader = 8
	const trafBoxHeader = 8
	const tfhdLen = 8 + 8
	const tfdtLen = 8 + 12
	trunLen := 8 + 12 + uint32(numSamples)*16
	return moofBoxHeader + mfhdLen + trafBoxHeader + tfhdLen + tfdtLen + trunLen
}

func buildTraf(trackID uint32, baseDecodeTime uint64, samples []Sample, moofLen uint32) []byte {
	tfhd := buildTFHD(trackID)
	tfdt := buildTFDT(baseDecodeTime)
	trun := buildTrun(samples, moofLen+8) // +8 for mdat box header
	return box("traf", append(append(tfhd, tfdt...), trun...))
}

func buildTFHD(trackID uint32) []byte {
	// flags = default-base-is-moof (0x020000)
	body := []byte{0, 0x02, 0x00, 0x00}
	body = append(body, u32(trackID)...)
	return box("tfhd", body)
}

func buildTFDT(baseDecodeTime uint64) []byte {
	body := []byte{0x01, 0, 0, 0} // version=1 for 64-bit baseMediaDecodeTime
	body = append(body, u64(baseDecodeTime)...)
	return box("tfdt", body)
}

func buildTrun(samples []Sample, dataOffset uint32) []byte {
	// flags: data-offset-present | sample-duration-present |
	// sample-size-present | sample-flags-present |
	// sample-composition-time-offsets-present
	flags := []byte{0x00, 0x00, 0x0F, 0x01}
	body := flags
	body = append(body, u32(uint32(len(samples)))...)
	body = append(body, u32(dataOffset)...)
	for _, s := range samples {
		body = append(body, u32(s.Duration)...)
		body = append(body, u32(s.Size)...)
		body = append(body, sampleFlags(s.IsSync)...)
		body = append(body, u32(uint32(int32(s.CompTimeOff)))...)
	}
	return box("trun", body)
}

func sampleFlags(isSync bool) []byte {
	// is_leading=0, sample_depends_on=2(no)/1(yes non-sync), sample_is_non_sync_sample bit.
	if isSync {
		return []byte{0x02, 0x00, 0x00, 0x00}
	}
	return []byte{0x01, 0x01, 0x00, 0x00}
}

func buildMdat(samples []Sample) []byte {
	var total int
	for _, s := range samples {
		total += len(s.Data)
	}
	out := make([]byte, 8, 8+total)
	binary := uint32(8 + total)
	out[0] = byte(binary >> 24)
	out[1] = byte(binary >> 16)
	out[2] = byte(binary >> 8)
	out[3] = byte(binary)
	copy(out[4:8], "mdat")
	for _, s := range samples {
		out = append(out, s.Data...)
	}
	return out
}
