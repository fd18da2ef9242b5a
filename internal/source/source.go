// Package source implements the protocol-agnostic live-source hub: one
// Source per published stream, fed by any ingest adapter (RTMP, SRT, TS,
// WebRTC) and fanned out to any number of consumers (play sessions, HLS,
// DASH, forwarders, a bridged sibling source).
package source

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ethan/streamcore/internal/errors"
)

// StreamBridge ingests messages into a sibling Source of a different
// protocol domain (RTMP→RTC, SRT→RTMP, etc.), per spec §4.2 step 6 and
// §9's "Bridge" re-architecture note: it holds no reference back to the
// Source that drives it, resolved instead at call time by whoever wired
// the two sources together, so the Source/Bridge pair never forms an
// ownership cycle.
type StreamBridge interface {
	Name() string
	OnMetaData(msg *SharedMessage)
	OnAudio(msg *SharedMessage)
	OnVideo(msg *SharedMessage)
	OnUnpublish()
}

// OriginHubChild is one collaborator fed by the OriginHub (HLS encoder,
// DASH controller, DVR writer, forward client, ...). Each child is
// isolated: spec §4.3 requires that one child's failure never stops the
// pipeline for others, so the OriginHub logs and continues rather than
// propagating a child's error.
type OriginHubChild interface {
	Name() string
	OnMetaData(msg *SharedMessage) error
	OnAudio(msg *SharedMessage) error
	OnVideo(msg *SharedMessage) error
	OnUnpublish()
}

// OriginHub couples a Source with its optional segmenters and
// forwarders, per spec §4.3. It is owned by the Source; children are
// registered and removed by configuration/reload, never by the Source
// itself, keeping the Source's own hot path free of reload concerns.
type OriginHub struct {
	mu       sync.RWMutex
	children map[string]OriginHubChild
	logger   *slog.Logger
}

// NewOriginHub constructs an empty hub.
func NewOriginHub(logger *slog.Logger) *OriginHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &OriginHub{children: make(map[string]OriginHubChild), logger: logger}
}

// Register adds or replaces a named child.
func (h *OriginHub) Register(child OriginHubChild) {
	if child == nil {
		return
	}
	h.mu.Lock()
	h.children[child.Name()] = child
	h.mu.Unlock()
}

// Unregister removes a named child (used by reload for e.g. "hls-only
// restart").
func (h *OriginHub) Unregister(name string) {
	h.mu.Lock()
	delete(h.children, name)
	h.mu.Unlock()
}

func (h *OriginHub) snapshot() []OriginHubChild {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]OriginHubChild, 0, len(h.children))
	for _, c := range h.children {
		out = append(out, c)
	}
	return out
}

func (h *OriginHub) dispatchMeta(msg *SharedMessage) {
	for _, c := range h.snapshot() {
		if err := c.OnMetaData(msg); err != nil {
			h.logger.Warn("origin hub child failed", "child", c.Name(), "error", err)
		}
	}
}

func (h *OriginHub) dispatchAudio(msg *SharedMessage) {
	for _, c := range h.snapshot() {
		if err := c.OnAudio(msg); err != nil {
			h.logger.Warn("origin hub child failed", "child", c.Name(), "error", err)
		}
	}
}

func (h *OriginHub) dispatchVideo(msg *SharedMessage) {
	for _, c := range h.snapshot() {
		if err := c.OnVideo(msg); err != nil {
			h.logger.Warn("origin hub child failed", "child", c.Name(), "error", err)
		}
	}
}

func (h *OriginHub) unpublish() {
	for _, c := range h.snapshot() {
		c.OnUnpublish()
	}
}

// Config bounds the per-Source policy knobs spec §4.2/§6 name: consumer
// queue duration budget, jitter mode, mix-correct toggle, and idle/die
// timers.
type Config struct {
	QueueDurationMS  int64
	JitterMode       JitterMode
	MixCorrect       bool
	PublisherIdle    time.Duration
	NoPublisherDie   time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueDurationMS <= 0 {
		c.QueueDurationMS = defaultQueueDurationMS
	}
	if c.PublisherIdle <= 0 {
		c.PublisherIdle = 30 * time.Second
	}
	if c.NoPublisherDie <= 0 {
		c.NoPublisherDie = 60 * time.Second
	}
	return c
}

// Source is the per-stream hub described in spec §3/§4.2: it holds the
// Format, SequenceHeaderCache, GopCache, MixQueue, the set of
// ConsumerQueues (a Source does not own its consumers' lifetimes, hence
// "weak membership": a play session that disconnects unregisters
// itself), and the OriginHub.
type Source struct {
	Key    string
	logger *slog.Logger
	cfg    Config

	mu        sync.RWMutex
	publisher bool

	format   Format
	seqCache SequenceHeaderCache
	gop      GopCache
	mix      *MixQueue
	hub      *OriginHub

	consumersMu sync.RWMutex
	consumers   map[*ConsumerQueue]struct{}

	bridgesMu sync.RWMutex
	bridges   []StreamBridge

	lastActivity time.Time
}

// New constructs a Source for key, ready to accept a publisher or
// subscribers.
func New(key string, cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Source{
		Key:          key,
		logger:       logger,
		cfg:          cfg,
		mix:          NewMixQueue(cfg.MixCorrect),
		hub:          NewOriginHub(logger),
		consumers:    make(map[*ConsumerQueue]struct{}),
		lastActivity: time.Now(),
	}
}

// Hub returns the OriginHub so callers can register segmenters/forwarders.
func (s *Source) Hub() *OriginHub { return s.hub }

// AddBridge registers a StreamBridge fed alongside the OriginHub's
// children.
func (s *Source) AddBridge(b StreamBridge) {
	if b == nil {
		return
	}
	s.bridgesMu.Lock()
	s.bridges = append(s.bridges, b)
	s.bridgesMu.Unlock()
}

func (s *Source) bridgeSnapshot() []StreamBridge {
	s.bridgesMu.RLock()
	defer s.bridgesMu.RUnlock()
	out := make([]StreamBridge, len(s.bridges))
	copy(out, s.bridges)
	return out
}

// CanPublish reports whether a new publisher may claim this Source.
func (s *Source) CanPublish() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.publisher
}

// OnPublish claims the Source for a new publisher, resetting cached
// sequence headers/GOP per spec §3 ("each new publisher clears the
// current pair").
func (s *Source) OnPublish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisher {
		return errors.NewBusyError("source.publish", nil)
	}
	s.publisher = true
	s.seqCache.Reset()
	s.gop.Clear()
	s.mix = NewMixQueue(s.cfg.MixCorrect)
	s.lastActivity = time.Now()
	return nil
}

// OnUnpublish releases the publisher claim and notifies the OriginHub
// and all bridges.
func (s *Source) OnUnpublish() {
	s.mu.Lock()
	s.publisher = false
	s.mu.Unlock()

	s.hub.unpublish()
	for _, b := range s.bridgeSnapshot() {
		b.OnUnpublish()
	}
}

// IsPublishing reports whether a publisher currently holds this Source.
func (s *Source) IsPublishing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisher
}

// OnMetaData ingests an onMetaData-equivalent message.
func (s *Source) OnMetaData(msg *SharedMessage) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.seqCache.SetMetadata(msg)
	s.fanout(msg)
	s.hub.dispatchMeta(msg)
	for _, b := range s.bridgeSnapshot() {
		b.OnMetaData(msg)
	}
}

// OnAudio ingests an audio message, per the pipeline in spec §4.2.
func (s *Source) OnAudio(msg *SharedMessage) {
	s.ingest(msg, false)
}

// OnVideo ingests a video message, per the pipeline in spec §4.2.
func (s *Source) OnVideo(msg *SharedMessage) {
	s.ingest(msg, true)
}

func (s *Source) ingest(msg *SharedMessage, isVideo bool) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	s.lastActivity = time.Now()
	if msg.IsSequenceHeader() {
		if isVideo {
			s.format.UpdateFromVideoSH(msg.Frame)
			s.seqCache.SetVideoSH(msg)
		} else {
			s.format.UpdateFromAudioSH(msg.Frame)
			s.seqCache.SetAudioSH(msg)
		}
	}
	released := s.mix.Push(msg)
	s.mu.Unlock()

	for _, out := range released {
		s.gop.Append(out)
		s.fanout(out)
		if out.IsVideo() {
			s.hub.dispatchVideo(out)
		} else {
			s.hub.dispatchAudio(out)
		}
		for _, b := range s.bridgeSnapshot() {
			if out.IsVideo() {
				b.OnVideo(out)
			} else {
				b.OnAudio(out)
			}
		}
	}
}

// fanout enqueues msg into every currently-registered ConsumerQueue.
func (s *Source) fanout(msg *SharedMessage) {
	s.consumersMu.RLock()
	defer s.consumersMu.RUnlock()
	for c := range s.consumers {
		c.Enqueue(msg)
	}
}

// CreateConsumer builds a new ConsumerQueue registered against this
// Source; the caller owns its lifetime and must call RemoveConsumer on
// teardown ("weak membership" per spec §3).
func (s *Source) CreateConsumer() *ConsumerQueue {
	c := NewConsumerQueue(s.cfg.QueueDurationMS, s.cfg.JitterMode)
	s.consumersMu.Lock()
	s.consumers[c] = struct{}{}
	s.consumersMu.Unlock()
	return c
}

// RemoveConsumer unregisters and closes c.
func (s *Source) RemoveConsumer(c *ConsumerQueue) {
	s.consumersMu.Lock()
	delete(s.consumers, c)
	s.consumersMu.Unlock()
	c.Close()
}

// ConsumerCount reports the number of currently registered consumers.
func (s *Source) ConsumerCount() int {
	s.consumersMu.RLock()
	defer s.consumersMu.RUnlock()
	return len(s.consumers)
}

// ConsumerDumps implements the subscriber bootstrap from spec §4.2:
// always dump metadata (if any), then video-sh, then audio-sh, then the
// cached GOP in order — the critical invariant that every consumer sees
// the active sequence-header triple before any live message.
func (s *Source) ConsumerDumps(c *ConsumerQueue, dumpSH, dumpMeta, dumpGop bool) {
	metadata, videoSH, audioSH := s.seqCache.Snapshot()

	if dumpMeta && metadata != nil {
		c.Enqueue(metadata)
	}
	if dumpSH {
		if videoSH != nil {
			c.Enqueue(videoSH)
		}
		if audioSH != nil {
			c.Enqueue(audioSH)
		}
	}
	if dumpGop {
		for _, m := range s.gop.Snapshot() {
			c.Enqueue(m)
		}
	}
}

// Format returns a copy of the current codec/parameter descriptor.
func (s *Source) Format() Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format
}

// IdleFor reports how long this Source has gone without ingest
// activity, used by the manager's die-timer sweep.
func (s *Source) IdleFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActivity)
}

// ShouldDispose reports whether this Source has had no publisher and no
// consumers for longer than the configured die timeout, per spec §4.2's
// publish idle/die timers.
func (s *Source) ShouldDispose() bool {
	if s.IsPublishing() || s.ConsumerCount() > 0 {
		return false
	}
	return s.IdleFor() > s.cfg.NoPublisherDie
}
