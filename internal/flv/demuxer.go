package flv

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Demuxer reads a standard FLV byte stream and yields Frames, skipping
// script-data (onMetaData) tags. It is used by the relay/bridge path when
// a downstream consumer hands back pre-muxed FLV (e.g. replaying a
// recorded file) and by tests that assert against recorded fixtures.
type Demuxer struct {
	r           io.Reader
	readHeader  bool
	prevTagSize uint32
}

// NewDemuxer constructs a Demuxer over r.
func NewDemuxer(r io.Reader) *Demuxer {
	return &Demuxer{r: r}
}

func (d *Demuxer) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Demuxer) ensureHeader() error {
	if d.readHeader {
		return nil
	}
	hdr, err := d.readFull(9)
	if err != nil {
		return fmt.Errorf("flv.header: %w", err)
	}
	if hdr[0] != 'F' || hdr[1] != 'L' || hdr[2] != 'V' {
		return fmt.Errorf("flv: bad signature %q", hdr[:3])
	}
	dataOffset := binary.BigEndian.Uint32(hdr[5:9])
	if dataOffset > 9 {
		if _, err := d.readFull(int(dataOffset - 9)); err != nil {
			return fmt.Errorf("flv.header.extra: %w", err)
		}
	}
	if _, err := d.readFull(4); err != nil { // PreviousTagSize0
		return fmt.Errorf("flv.header.prevsize0: %w", err)
	}
	d.readHeader = true
	return nil
}

// ReadFrame reads the next audio/video tag and returns its parsed Frame,
// skipping any script-data tags encountered along the way. It returns
// io.EOF when the stream is exhausted cleanly at a tag boundary.
func (d *Demuxer) ReadFrame() (*Frame, error) {
	if err := d.ensureHeader(); err != nil {
		return nil, err
	}
	for {
		hdr, err := d.readFull(11)
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				return nil, io.EOF
			}
			return nil, err
		}
		tagType := hdr[0]
		dataSize := int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
		timestamp := uint32(hdr[4])<<16 | uint32(hdr[5])<<8 | uint32(hdr[6]) | uint32(hdr[7])<<24

		payload, err := d.readFull(dataSize)
		if err != nil {
			return nil, fmt.Errorf("flv.tag.payload: %w", err)
		}
		if _, err := d.readFull(4); err != nil { // PreviousTagSize
			return nil, fmt.Errorf("flv.tag.prevsize: %w", err)
		}

		switch tagType {
		case TagTypeVideo:
			return ParseVideoTag(timestamp, payload)
		case TagTypeAudio:
			return ParseAudioTag(timestamp, payload)
		case TagTypeScript:
			continue // onMetaData and similar AMF0 tags carry no media payload
		default:
			return nil, fmt.Errorf("flv: unknown tag type %d", tagType)
		}
	}
}
