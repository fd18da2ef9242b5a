// Package config holds the typed, in-memory configuration tree consumed
// by every subsystem (listeners, source manager, segmenters, WebRTC,
// hooks, circuit breaker). Per spec.md §1, parsing a config file's
// *grammar* is out of scope; the embedding CLI is responsible for
// populating a Tree (from flags, env vars, or any file format it
// chooses) and handing it to the rest of the process. applyDefaults and
// Validate follow the shape of internal/rtmp/server.Config.applyDefaults,
// generalized to the whole process instead of just the RTMP listener.
package config

import (
	"fmt"
	"time"
)

// Listen holds one protocol listener's bind address, mirroring
// internal/rtmp/server.Config.ListenAddr generalized across protocols.
type Listen struct {
	RTMPAddr string
	HTTPAddr string
	SRTAddr  string
	TSAddr   string // MPEG-TS-over-UDP ingest
	RTCAddr  string // WebRTC UDP media port
}

// HLS holds the per-vhost HLS segmenter knobs from spec §4.4.
type HLS struct {
	Enabled         bool
	FragmentSeconds float64
	WindowSize      int
	CleanupOnExpire bool
	OutputDir       string
	NotifyTimeout   time.Duration
}

// DASH holds the per-vhost DASH controller knobs from spec §4.5.
type DASH struct {
	Enabled         bool
	FragmentSeconds float64
	WindowSize      int
	CleanupOnExpire bool
	OutputDir       string
}

// DVR holds recording knobs consumed by the adapted media.Recorder.
type DVR struct {
	Enabled bool
	Dir     string
}

// Forward holds one relay destination, generalizing
// internal/rtmp/relay.DestinationManager's flag-driven URL list.
type Forward struct {
	URL string
}

// SourceTuning holds internal/source.Config's policy knobs at the vhost
// level (spec §3/§4.2).
type SourceTuning struct {
	QueueDurationMS int64
	MixCorrect      bool
	PublisherIdle   time.Duration
	NoPublisherDie  time.Duration
}

// Vhost holds all per-virtual-host configuration, the unit the reload
// dispatcher (§4.11) diffs and fires narrow change events against.
type Vhost struct {
	Name     string
	Disabled bool
	Play     SourceTuning
	HLS      HLS
	DASH     DASH
	DVR      DVR
	Forward  []Forward
}

// Hooks holds outbound hook client configuration (spec §6).
type Hooks struct {
	Timeout     time.Duration
	Concurrency int
	StdioFormat string
	Scripts     map[string]string // event_type -> script path
	Webhooks    map[string]string // event_type -> URL
}

// Breaker holds the circuit breaker's water-level thresholds (spec §4.9).
type Breaker struct {
	HighPercent     float64
	HighPulse       int
	CriticalPercent float64
	CriticalPulse   int
	DyingPercent    float64
	DyingPulse      int
}

// SRT holds the SRT listener's passphrase/key-length knobs (spec §6).
type SRT struct {
	Passphrase string
	PBKeyLen   int
}

// Tree is the root configuration object. A Dispatcher diffs two Trees
// directive-by-directive (internal/reload).
type Tree struct {
	Listen  Listen
	Vhosts  map[string]*Vhost
	Hooks   Hooks
	Breaker Breaker
	SRT     SRT
	PIDFile string
	LogLevel string
}

// New returns a Tree with every field defaulted, the entry point an
// embedding CLI calls before overlaying flags/env.
func New() *Tree {
	t := &Tree{Vhosts: make(map[string]*Vhost)}
	t.ApplyDefaults()
	return t
}

// ApplyDefaults fills zero-valued fields with the server's defaults,
// mirroring internal/rtmp/server.Config.applyDefaults field-by-field.
func (t *Tree) ApplyDefaults() {
	if t.Listen.RTMPAddr == "" {
		t.Listen.RTMPAddr = ":1935"
	}
	if t.Listen.HTTPAddr == "" {
		t.Listen.HTTPAddr = ":8080"
	}
	if t.Listen.SRTAddr == "" {
		t.Listen.SRTAddr = ":10080"
	}
	if t.Listen.TSAddr == "" {
		t.Listen.TSAddr = ":10000"
	}
	if t.Listen.RTCAddr == "" {
		t.Listen.RTCAddr = ":8000"
	}
	if t.LogLevel == "" {
		t.LogLevel = "info"
	}
	if t.Hooks.Timeout == 0 {
		t.Hooks.Timeout = 30 * time.Second
	}
	if t.Hooks.Concurrency == 0 {
		t.Hooks.Concurrency = 10
	}
	if t.Breaker.HighPercent == 0 {
		t.Breaker.HighPercent = 80
	}
	if t.Breaker.HighPulse == 0 {
		t.Breaker.HighPulse = 2
	}
	if t.Breaker.CriticalPercent == 0 {
		t.Breaker.CriticalPercent = 90
	}
	if t.Breaker.CriticalPulse == 0 {
		t.Breaker.CriticalPulse = 3
	}
	if t.Breaker.DyingPercent == 0 {
		t.Breaker.DyingPercent = 97
	}
	if t.Breaker.DyingPulse == 0 {
		t.Breaker.DyingPulse = 5
	}
	if t.SRT.PBKeyLen == 0 {
		t.SRT.PBKeyLen = 16
	}
	if t.Vhosts == nil {
		t.Vhosts = make(map[string]*Vhost)
	}
	for _, v := range t.Vhosts {
		v.applyDefaults()
	}
}

func (v *Vhost) applyDefaults() {
	if v.Play.QueueDurationMS == 0 {
		v.Play.QueueDurationMS = 10_000
	}
	if v.Play.PublisherIdle == 0 {
		v.Play.PublisherIdle = 30 * time.Second
	}
	if v.Play.NoPublisherDie == 0 {
		v.Play.NoPublisherDie = 60 * time.Second
	}
	if v.HLS.FragmentSeconds == 0 {
		v.HLS.FragmentSeconds = 10
	}
	if v.HLS.WindowSize == 0 {
		v.HLS.WindowSize = 5
	}
	if v.HLS.NotifyTimeout == 0 {
		v.HLS.NotifyTimeout = 10 * time.Second
	}
	if v.DASH.FragmentSeconds == 0 {
		v.DASH.FragmentSeconds = 10
	}
	if v.DASH.WindowSize == 0 {
		v.DASH.WindowSize = 5
	}
}

// Validate reports a ConfigError-class problem (spec §7's "Configuration"
// error kind): invalid values fail the whole load/reload rather than
// applying partially.
func (t *Tree) Validate() error {
	if t.SRT.PBKeyLen != 0 && t.SRT.PBKeyLen != 16 && t.SRT.PBKeyLen != 24 && t.SRT.PBKeyLen != 32 {
		return fmt.Errorf("config: srt pbkeylen must be one of 0,16,24,32, got %d", t.SRT.PBKeyLen)
	}
	if t.Breaker.HighPercent <= 0 || t.Breaker.HighPercent > 100 {
		return fmt.Errorf("config: breaker high-water percent out of range: %v", t.Breaker.HighPercent)
	}
	for name, v := range t.Vhosts {
		if v.Name == "" {
			v.Name = name
		}
		if v.HLS.FragmentSeconds <= 0 {
			return fmt.Errorf("config: vhost %s: hls fragment-seconds must be positive", name)
		}
		if v.DASH.FragmentSeconds <= 0 {
			return fmt.Errorf("config: vhost %s: dash fragment-seconds must be positive", name)
		}
	}
	return nil
}

// Clone produces a deep-enough copy for the reload dispatcher to diff the
// old tree against a freshly loaded one without aliasing mutable maps.
func (t *Tree) Clone() *Tree {
	c := *t
	c.Vhosts = make(map[string]*Vhost, len(t.Vhosts))
	for k, v := range t.Vhosts {
		vv := *v
		vv.Forward = append([]Forward(nil), v.Forward...)
		c.Vhosts[k] = &vv
	}
	c.Hooks.Scripts = cloneStringMap(t.Hooks.Scripts)
	c.Hooks.Webhooks = cloneStringMap(t.Hooks.Webhooks)
	return &c
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
