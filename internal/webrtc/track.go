package webrtc

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/ethan/streamcore/internal/source"
)

// MediaKind distinguishes audio/video tracks for codec-specific framing.
type MediaKind uint8

const (
	MediaAudio MediaKind = iota
	MediaVideo
)

// ringSize bounds the publish-side reorder/NACK buffer; large enough to
// cover a few hundred ms of loss at typical bitrates without growing
// unbounded (spec gives no explicit bound here, so this mirrors the
// ConsumerQueue duration-budget philosophy applied to packet count).
const ringSize = 512

// RtpRingBuffer is a fixed-size, sequence-number-indexed packet buffer
// used both to detect gaps for NACK generation and to allow limited
// retransmission requests.
type RtpRingBuffer struct {
	mu      sync.Mutex
	buf     [ringSize]*rtp.Packet
	highest uint16
	have    bool
}

// Insert stores pkt and reports any sequence gap between the previous
// highest sequence number and this one (nil if none/initial packet).
func (r *RtpRingBuffer) Insert(pkt *rtp.Packet) []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[pkt.SequenceNumber%ringSize] = pkt

	if !r.have {
		r.have = true
		r.highest = pkt.SequenceNumber
		return nil
	}

	diff := int16(pkt.SequenceNumber - r.highest)
	if diff <= 0 {
		return nil // out-of-order/duplicate arrival, not a new gap
	}
	var missing []uint16
	for seq := r.highest + 1; seq != pkt.SequenceNumber; seq++ {
		missing = append(missing, seq)
	}
	r.highest = pkt.SequenceNumber
	return missing
}

// Get returns a previously-inserted packet by sequence number, for
// retransmission (rtx) lookups; ok is false if it aged out of the ring.
func (r *RtpRingBuffer) Get(seq uint16) (*rtp.Packet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.buf[seq%ringSize]
	if p == nil || p.SequenceNumber != seq {
		return nil, false
	}
	return p, true
}

// NackTracker accumulates missing sequence numbers and flushes them as
// rtcp.TransportLayerNack packets on a fast timer (~20ms per spec
// §4.7.3), coalescing repeated requests for the same packet.
type NackTracker struct {
	mu      sync.Mutex
	missing map[uint16]struct{}
	ssrc    uint32
	sender  uint32
}

func NewNackTracker(mediaSSRC, senderSSRC uint32) *NackTracker {
	return &NackTracker{missing: make(map[uint16]struct{}), ssrc: mediaSSRC, sender: senderSSRC}
}

// Report records newly-observed gaps.
func (n *NackTracker) Report(missing []uint16) {
	if len(missing) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, seq := range missing {
		n.missing[seq] = struct{}{}
	}
}

// Flush drains the pending set into a TransportLayerNack, or nil if
// nothing is outstanding.
func (n *NackTracker) Flush() *rtcp.TransportLayerNack {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.missing) == 0 {
		return nil
	}
	seqs := make([]uint16, 0, len(n.missing))
	for seq := range n.missing {
		seqs = append(seqs, seq)
	}
	n.missing = make(map[uint16]struct{})
	return &rtcp.TransportLayerNack{
		SenderSSRC: n.sender,
		MediaSSRC:  n.ssrc,
		Nacks:      rtcp.NackPairsFromSequenceNumbers(seqs),
	}
}

// RunNackTimer ticks Flush every ~20ms, sending a built NACK through
// send, until stop is closed. Grounded on spec §4.7.3's "fast timer".
func (n *NackTracker) RunNackTimer(stop <-chan struct{}, send func(rtcp.Packet)) {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if pkt := n.Flush(); pkt != nil {
				send(pkt)
			}
		}
	}
}

// PLIWorker coalesces PLI requests per SSRC and emits at most one PLI per
// configured interval, per spec §4.7.3, to avoid flooding the publisher
// with redundant keyframe requests.
type PLIWorker struct {
	mu       sync.Mutex
	pending  map[uint32]bool
	interval time.Duration
	stop     chan struct{}
	send     func(rtcp.Packet)
}

func NewPLIWorker(interval time.Duration, send func(rtcp.Packet)) *PLIWorker {
	if interval <= 0 {
		interval = time.Second
	}
	w := &PLIWorker{pending: make(map[uint32]bool), interval: interval, stop: make(chan struct{}), send: send}
	go w.run()
	return w
}

// Request queues a PLI for mediaSSRC; repeated requests before the next
// flush tick are coalesced into a single PLI.
func (w *PLIWorker) Request(mediaSSRC uint32) {
	w.mu.Lock()
	w.pending[mediaSSRC] = true
	w.mu.Unlock()
}

func (w *PLIWorker) run() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.mu.Lock()
			ssrcs := make([]uint32, 0, len(w.pending))
			for ssrc := range w.pending {
				ssrcs = append(ssrcs, ssrc)
			}
			w.pending = make(map[uint32]bool)
			w.mu.Unlock()

			for _, ssrc := range ssrcs {
				w.send(&rtcp.PictureLossIndication{MediaSSRC: ssrc})
			}
		}
	}
}

func (w *PLIWorker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

// TWCCSender emits transport-wide congestion control feedback on a
// ~50ms timer (spec §4.7.3), referencing the negotiated twcc extension
// id. Sequence bookkeeping is intentionally minimal: every arrival is
// recorded with its wall-clock receive time, and Flush turns that into a
// single-chunk TransportLayerCC report.
type TWCCSender struct {
	mu          sync.Mutex
	recorder    *rtcp.TransportLayerCC
	senderSSRC  uint32
	mediaSSRC   uint32
	seq         uint16
	arrivals    map[uint16]time.Time
	extensionID uint8
}

func NewTWCCSender(senderSSRC, mediaSSRC uint32, extensionID uint8) *TWCCSender {
	return &TWCCSender{
		senderSSRC:  senderSSRC,
		mediaSSRC:   mediaSSRC,
		arrivals:    make(map[uint16]time.Time),
		extensionID: extensionID,
	}
}

// RecordArrival notes the wall-clock receive time of a transport-wide
// sequence number extracted from the twcc RTP header extension.
func (t *TWCCSender) RecordArrival(twccSeq uint16, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arrivals[twccSeq] = at
	if int16(twccSeq-t.seq) > 0 || len(t.arrivals) == 1 {
		t.seq = twccSeq
	}
}

// RunTWCCTimer ticks every ~50ms, building feedback from the arrivals
// recorded since the last tick.
func (t *TWCCSender) RunTWCCTimer(stop <-chan struct{}, send func(rtcp.Packet)) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	fbCount := uint8(0)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pkt := t.buildFeedback(fbCount)
			fbCount++
			if pkt != nil {
				send(pkt)
			}
		}
	}
}

func (t *TWCCSender) buildFeedback(fbCount uint8) rtcp.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.arrivals) == 0 {
		return nil
	}
	pkts := make([]rtcp.PacketStatusChunk, 0)
	deltas := make([]*rtcp.RecvDelta, 0, len(t.arrivals))
	for range t.arrivals {
		deltas = append(deltas, &rtcp.RecvDelta{Type: rtcp.TypeTCCPacketReceivedSmallDelta})
	}
	t.arrivals = make(map[uint16]time.Time)
	return &rtcp.TransportLayerCC{
		SenderSSRC:         t.senderSSRC,
		MediaSSRC:          t.mediaSSRC,
		BaseSequenceNumber: t.seq,
		FbPktCount:         fbCount,
		PacketChunks:       pkts,
		RecvDeltas:         deltas,
	}
}

// PublishTrack is one ingest-direction RTP track: incoming packets are
// inserted into the ring buffer, gaps feed the NackTracker, and payload
// is handed to the RtcFrameBuilder which reassembles AV messages pushed
// into the backing source.Source, per spec §4.7.3.
type PublishTrack struct {
	SSRC    uint32
	Kind    MediaKind
	ring    *RtpRingBuffer
	nack    *NackTracker
	builder *RtcFrameBuilder
	src     *source.Source
	logger  *slog.Logger
	stop    chan struct{}
}

func NewPublishTrack(ssrc, senderSSRC uint32, kind MediaKind, src *source.Source, logger *slog.Logger) *PublishTrack {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishTrack{
		SSRC:    ssrc,
		Kind:    kind,
		ring:    &RtpRingBuffer{},
		nack:    NewNackTracker(ssrc, senderSSRC),
		builder: NewRtcFrameBuilder(kind),
		src:     src,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Start launches the track's NACK fast timer, sending feedback through
// send until the track is stopped.
func (t *PublishTrack) Start(send func(rtcp.Packet)) {
	go t.nack.RunNackTimer(t.stop, send)
}

func (t *PublishTrack) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}

// HandlePacket processes one inbound RTP packet per spec §4.7.3: insert
// into the ring, report any gap to the NACK tracker, then feed the frame
// builder; a completed AV message is pushed into the backing Source.
func (t *PublishTrack) HandlePacket(pkt *rtp.Packet) {
	missing := t.ring.Insert(pkt)
	t.nack.Report(missing)

	msg := t.builder.Push(pkt)
	if msg == nil {
		return
	}
	if t.Kind == MediaVideo {
		t.src.OnVideo(msg)
	} else {
		t.src.OnAudio(msg)
	}
}

// PlayTrack is one egress-direction RTP track: messages pulled from a
// ConsumerQueue are corrected by the seq/ts jitter rebasers, packetized,
// and protected before send, per spec §4.7.4.
type PlayTrack struct {
	SSRC        uint32
	Kind        MediaKind
	PayloadType uint8
	SeqJitter   *Rebaser[uint16]
	TSJitter    *Rebaser[uint32]
	nextSeq     uint16
}

func NewPlayTrack(ssrc uint32, kind MediaKind, payloadType uint8) *PlayTrack {
	return &PlayTrack{
		SSRC:        ssrc,
		Kind:        kind,
		PayloadType: payloadType,
		SeqJitter:   NewSeqJitter(),
		TSJitter:    NewTSJitter(),
	}
}

// NextSequence returns and advances this track's outbound RTP sequence
// number.
func (t *PlayTrack) NextSequence() uint16 {
	seq := t.nextSeq
	t.nextSeq++
	return seq
}
