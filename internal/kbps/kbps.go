// Package kbps implements the exponentially-averaged byte-rate sampler
// described in spec §4.8: a Kbps tracks bytes in/out for one connection
// or aggregate, exposing 1-sample, 30-second, and 5-minute averages, and
// survives its underlying socket being swapped out from under it.
package kbps

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// window is one exponential-moving-average accumulator over a fixed
// sampling period, grounded on the same "accumulate, sample on a
// ticker" idiom as internal/rtmp/server.MediaLogger.statsLoop and
// gtfodev-camsRelay/pkg/relay.CameraRelay.statsLoop, generalized from a
// periodic counter dump into a continuously-queryable rate.
type window struct {
	period   time.Duration
	rateBps  float64
	lastSeen time.Time
}

func (w *window) sample(deltaBytes uint64, now time.Time) {
	if w.lastSeen.IsZero() {
		w.lastSeen = now
		return
	}
	elapsed := now.Sub(w.lastSeen)
	if elapsed <= 0 {
		return
	}
	instantaneous := float64(deltaBytes) / elapsed.Seconds()
	alpha := 1 - math.Exp(-elapsed.Seconds()/w.period.Seconds())
	w.rateBps = w.rateBps + alpha*(instantaneous-w.rateBps)
	w.lastSeen = now
}

// NetworkDelta is the reusable byte-source abstraction from spec §4.8:
// it may be detached from one socket and re-attached to a fresh one.
// Kbps treats each re-attach as a fresh delta source while preserving
// cumulative totals, so a reconnecting subscriber's bandwidth history
// survives the underlying net.Conn being replaced.
type NetworkDelta struct {
	mu       sync.Mutex
	recvBase uint64
	sendBase uint64
	attached bool
}

// Attach resets the delta's baseline so the next Observe call treats
// currentRecv/currentSend as the zero point for this attachment.
func (d *NetworkDelta) Attach(currentRecv, currentSend uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recvBase = currentRecv
	d.sendBase = currentSend
	d.attached = true
}

// Detach marks the delta as unattached; subsequent Observe calls are
// ignored until the next Attach.
func (d *NetworkDelta) Detach() {
	d.mu.Lock()
	d.attached = false
	d.mu.Unlock()
}

// Delta returns (recvDelta, sendDelta, ok) since the last Attach/Delta
// call for the given absolute counters, advancing the internal base so
// repeated calls report only the incremental change.
func (d *NetworkDelta) Delta(currentRecv, currentSend uint64) (uint64, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attached {
		return 0, 0, false
	}
	recvDelta := currentRecv - d.recvBase
	sendDelta := currentSend - d.sendBase
	d.recvBase = currentRecv
	d.sendBase = currentSend
	return recvDelta, sendDelta, true
}

// Kbps accumulates cumulative totals across however many NetworkDeltas
// are attached to it over its lifetime, and maintains three EMA windows
// per direction.
type Kbps struct {
	mu sync.Mutex

	cumRecv atomic.Uint64
	cumSend atomic.Uint64

	recv1s, recv30s, recv5m window
	send1s, send30s, send5m window
}

// New constructs a Kbps with the spec's three sampling periods.
func New() *Kbps {
	return &Kbps{
		recv1s:  window{period: time.Second},
		recv30s: window{period: 30 * time.Second},
		recv5m:  window{period: 5 * time.Minute},
		send1s:  window{period: time.Second},
		send30s: window{period: 30 * time.Second},
		send5m:  window{period: 5 * time.Minute},
	}
}

// Observe feeds one sample's worth of deltas (as produced by a
// NetworkDelta.Delta call) into the sampler, updating cumulative totals
// and all six EMA windows.
func (k *Kbps) Observe(recvDelta, sendDelta uint64, now time.Time) {
	k.cumRecv.Add(recvDelta)
	k.cumSend.Add(sendDelta)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.recv1s.sample(recvDelta, now)
	k.recv30s.sample(recvDelta, now)
	k.recv5m.sample(recvDelta, now)
	k.send1s.sample(sendDelta, now)
	k.send30s.sample(sendDelta, now)
	k.send5m.sample(sendDelta, now)
}

// CumulativeRecv/CumulativeSend return the total bytes observed across
// every attachment this Kbps has ever had.
func (k *Kbps) CumulativeRecv() uint64 { return k.cumRecv.Load() }
func (k *Kbps) CumulativeSend() uint64 { return k.cumSend.Load() }

// Rates reports the current (1s, 30s, 5m) bytes-per-second averages for
// one direction.
type Rates struct {
	Sample, ThirtySecond, FiveMinute float64
}

// RecvRates returns the current receive-direction EMA triple, in bytes
// per second.
func (k *Kbps) RecvRates() Rates {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Rates{k.recv1s.rateBps, k.recv30s.rateBps, k.recv5m.rateBps}
}

// SendRates returns the current send-direction EMA triple, in bytes per
// second.
func (k *Kbps) SendRates() Rates {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Rates{k.send1s.rateBps, k.send30s.rateBps, k.send5m.rateBps}
}
