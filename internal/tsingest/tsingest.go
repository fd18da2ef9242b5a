// Ingest pipeline: buffer accumulation + sync-byte alignment, PES
// demultiplexing, SID-quirk remapping, Annex-B/ADTS -> SharedMessage
// rewriting, per spec §4.6.
package tsingest

import (
	"context"
	"io"
	"log/slog"

	"github.com/ethan/streamcore/internal/aac"
	"github.com/ethan/streamcore/internal/flv"
	"github.com/ethan/streamcore/internal/h264"
	"github.com/ethan/streamcore/internal/mpegts"
	"github.com/ethan/streamcore/internal/runtime"
	"github.com/ethan/streamcore/internal/source"
)

// Sink is the destination for fully rewritten SharedMessages, almost
// always an internal/source.Source's OnAudio/OnVideo/OnMetaData trio.
type Sink interface {
	OnMetaData(msg *source.SharedMessage)
	OnAudio(msg *source.SharedMessage)
	OnVideo(msg *source.SharedMessage)
}

// privateStream1StreamType is the PMT stream type some encoders misuse to carry
// AAC ("private-stream-1 carrying AAC"); spec §4.6 calls for rewriting
// it as common audio (stream type 0x0F) before demuxing proceeds.
const privateStream1StreamType = 0x06

// Ingester accumulates a raw byte stream (from UDP datagrams or an SRT
// socket), realigns to TS sync bytes, demuxes PES, and rewrites each
// access unit into a source.SharedMessage pushed through a per-publisher
// DedupQueue before reaching Sink.
type Ingester struct {
	sink   Sink
	logger *slog.Logger

	buf    []byte
	demux  *mpegts.Demuxer
	dedup  *DedupQueue

	videoSHSent bool
	audioSHSent bool
	sps, pps    [][]byte
}

// NewIngester constructs an Ingester that forwards rewritten messages to
// sink.
func NewIngester(sink Sink, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	ing := &Ingester{sink: sink, logger: logger, dedup: NewDedupQueue()}
	ing.demux = mpegts.NewDemuxer(ing.onPES)
	return ing
}

// Feed appends raw bytes (one UDP datagram, or a chunk read from an SRT
// socket) and consumes every complete 188-byte packet found after
// realigning to the 0x47 sync byte.
func (ing *Ingester) Feed(data []byte) {
	ing.buf = append(ing.buf, data...)
	ing.buf = alignToSyncByte(ing.buf)

	for len(ing.buf) >= mpegts.PacketSize {
		pkt := ing.buf[:mpegts.PacketSize]
		if err := ing.demux.Feed(pkt); err != nil {
			ing.logger.Warn("tsingest: dropping malformed TS packet", "error", err)
		}
		ing.buf = ing.buf[mpegts.PacketSize:]
		ing.buf = alignToSyncByte(ing.buf)
	}
}

// alignToSyncByte drops leading bytes until buf[0] is the TS sync byte
// (or buf is too short to contain a full packet), per spec §4.6's "align
// to the 0x47 sync byte" requirement.
func alignToSyncByte(buf []byte) []byte {
	for len(buf) >= mpegts.PacketSize && buf[0] != 0x47 {
		buf = buf[1:]
	}
	return buf
}

// RunUDP drives Feed from a net.PacketConn-shaped reader until ctx is
// canceled, yielding to the scheduler every few datagrams per spec §5's
// 10-20 unit-of-work policy.
func (ing *Ingester) RunUDP(ctx context.Context, conn io.Reader, yieldEvery int) error {
	buf := make([]byte, 64*1024)
	processed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := conn.Read(buf)
		if err != nil {
			return err
		}
		ing.Feed(buf[:n])
		processed++
		if yieldEvery > 0 && processed%yieldEvery == 0 {
			// cooperative yield point, matching internal/runtime's hot-loop
			// policy for UDP datagram processing.
			runtime.Yield()
		}
	}
}

func (ing *Ingester) onPES(pkt mpegts.PESPacket) {
	es, ok := ing.demux.Streams[pkt.PID]
	if !ok {
		return
	}
	streamType := es.StreamType
	if streamType == privateStream1StreamType {
		// SID quirk: private-stream-1 carrying AAC is rewritten as common
		// audio before further processing.
		streamType = mpegts.StreamTypeAAC
	}

	switch streamType {
	case mpegts.StreamTypeH264:
		ing.onVideo(pkt)
	case mpegts.StreamTypeAAC:
		ing.onAudio(pkt)
	}
}

func (ing *Ingester) onVideo(pkt mpegts.PESPacket) {
	nalus := h264.SplitAnnexB(pkt.Payload)
	var sps, pps [][]byte
	var frameNALUs [][]byte
	keyframe := false
	for _, n := range nalus {
		switch h264.NALUType(n) {
		case h264.NALUTypeSPS:
			sps = append(sps, n)
		case h264.NALUTypePPS:
			pps = append(pps, n)
		case h264.NALUTypeIFrame:
			keyframe = true
			frameNALUs = append(frameNALUs, n)
		default:
			frameNALUs = append(frameNALUs, n)
		}
	}

	if len(sps) > 0 {
		ing.sps = sps
	}
	if len(pps) > 0 {
		ing.pps = pps
	}

	if !ing.videoSHSent && len(ing.sps) > 0 && len(ing.pps) > 0 {
		cfgBytes := h264.BuildDecoderConfig(&h264.DecoderConfig{
			ProfileIndication:    ing.sps[0][1],
			ProfileCompatibility: ing.sps[0][2],
			LevelIndication:      ing.sps[0][3],
			SPS:                  ing.sps,
			PPS:                  ing.pps,
		})
		shFrame := &flv.Frame{
			IsVideo:    true,
			VideoCodec: flv.VideoCodecAVC,
			FrameType:  flv.FrameTypeKey,
			PacketType: flv.PacketTypeSequenceHeader,
			Timestamp:  uint32(pkt.DTS / 90),
			Payload:    cfgBytes,
		}
		ing.push(&source.SharedMessage{Type: source.MessageVideo, DTS: shFrame.Timestamp, Frame: shFrame})
		ing.videoSHSent = true
	}

	if len(frameNALUs) == 0 {
		return
	}
	ft := flv.FrameTypeInter
	if keyframe {
		ft = flv.FrameTypeKey
	}
	frame := &flv.Frame{
		IsVideo:    true,
		VideoCodec: flv.VideoCodecAVC,
		FrameType:  ft,
		PacketType: flv.PacketTypeRaw,
		Timestamp:  uint32(pkt.DTS / 90),
		Payload:    h264.AnnexBToAVCC(frameNALUs),
	}
	ing.push(&source.SharedMessage{Type: source.MessageVideo, DTS: frame.Timestamp, Frame: frame})
}

func (ing *Ingester) onAudio(pkt mpegts.PESPacket) {
	payload := pkt.Payload
	for len(payload) >= aac.ADTSHeaderLen {
		payloadLen, sampleRateIdx, chanCfg, err := aac.ParseADTSHeader(payload[:aac.ADTSHeaderLen])
		if err != nil || payloadLen < 0 || aac.ADTSHeaderLen+payloadLen > len(payload) {
			break
		}
		frameLen := aac.ADTSHeaderLen + payloadLen
		raw := payload[aac.ADTSHeaderLen:frameLen]

		if !ing.audioSHSent {
			ascCfg := &aac.AudioSpecificConfig{
				ObjectType:      2, // AAC-LC
				SampleRateIndex: sampleRateIdx,
				SampleRate:      aac.SampleRateTable[sampleRateIdx],
				ChannelConfig:   chanCfg,
			}
			shFrame := &flv.Frame{
				IsVideo:    false,
				AudioCodec: flv.AudioCodecAAC,
				PacketType: flv.PacketTypeSequenceHeader,
				Timestamp:  uint32(pkt.DTS / 90),
				Payload:    aac.BuildAudioSpecificConfig(ascCfg),
			}
			ing.push(&source.SharedMessage{Type: source.MessageAudio, DTS: shFrame.Timestamp, Frame: shFrame})
			ing.audioSHSent = true
		}

		frame := &flv.Frame{
			IsVideo:    false,
			AudioCodec: flv.AudioCodecAAC,
			PacketType: flv.PacketTypeRaw,
			Timestamp:  uint32(pkt.DTS / 90),
			Payload:    raw,
		}
		ing.push(&source.SharedMessage{Type: source.MessageAudio, DTS: frame.Timestamp, Frame: frame})
		payload = payload[frameLen:]
	}
}

// push runs msg through the per-publisher dedup queue and forwards
// whatever it releases to Sink.
func (ing *Ingester) push(msg *source.SharedMessage) {
	for _, out := range ing.dedup.Push(msg) {
		if out.IsVideo() {
			ing.sink.OnVideo(out)
		} else {
			ing.sink.OnAudio(out)
		}
	}
}

// Flush forces release of any messages still buffered in the dedup queue,
// called on stream teardown.
func (ing *Ingester) Flush() {
	for _, out := range ing.dedup.drainAll() {
		if out.IsVideo() {
			ing.sink.OnVideo(out)
		} else {
			ing.sink.OnAudio(out)
		}
	}
}
