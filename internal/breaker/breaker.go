// Package breaker implements the CPU water-level circuit breaker and the
// single-worker async call queue described in spec §4.9/§4.10: a 1-second
// CPU sampler drives three debounced water-levels (high, critical,
// dying) the rest of the system queries for admission control, and a
// FIFO worker offloads slow side-effect calls (hook deliveries, DVR
// writes) off the ingest path.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Level is one of the three configured water-levels.
type Level int

const (
	LevelHigh Level = iota
	LevelCritical
	LevelDying
)

// LevelConfig is a (threshold%, pulse-count) pair: a level engages once
// CPU usage has stayed above Threshold for Pulse consecutive 1-second
// samples, per spec §4.9, and it drains the same way as CPU normalizes.
type LevelConfig struct {
	Threshold float64 // percent, 0-100
	Pulse     int     // consecutive seconds required to engage
}

// Config bundles the three level thresholds.
type Config struct {
	High     LevelConfig
	Critical LevelConfig
	Dying    LevelConfig
}

// levelState tracks one level's consecutive-seconds-over-threshold
// counter and current engaged/drained state.
type levelState struct {
	cfg     LevelConfig
	run     int
	engaged bool
}

func (s *levelState) observe(cpuPercent float64) {
	if cpuPercent > s.cfg.Threshold {
		s.run++
	} else {
		s.run = 0
		s.engaged = false
		return
	}
	if s.run >= s.cfg.Pulse {
		s.engaged = true
	}
}

// Breaker samples CPU usage on a 1-second gate (golang.org/x/time/rate
// used here as a pulse debounce rather than its usual token-bucket
// throughput role — it still does exactly what's needed: gate how often
// the sample is allowed to flip level state) and exposes the three
// water-levels for admission-control decisions.
type Breaker struct {
	mu       sync.RWMutex
	limiter  *rate.Limiter
	high     levelState
	critical levelState
	dying    levelState
	logger   *slog.Logger

	sampleFn func() float64
}

// New constructs a Breaker from cfg. sampleFn supplies the current CPU
// percentage (0-100); production callers wire this to a platform CPU
// reader, tests inject a fixed sequence.
func New(cfg Config, sampleFn func() float64, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		high:     levelState{cfg: cfg.High},
		critical: levelState{cfg: cfg.Critical},
		dying:    levelState{cfg: cfg.Dying},
		logger:   logger,
		sampleFn: sampleFn,
	}
}

// Tick samples CPU usage once, advancing all three level states. Callers
// run this on a 1-second ticker (see spec §4.9); tests call it directly
// per simulated second.
func (b *Breaker) Tick() {
	cpu := b.sampleFn()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.high.observe(cpu)
	b.critical.observe(cpu)
	b.dying.observe(cpu)
}

// HybridHighWaterLevel reports whether the "high" level is engaged.
func (b *Breaker) HybridHighWaterLevel() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.high.engaged
}

// HybridCriticalWaterLevel reports whether the "critical" level is
// engaged.
func (b *Breaker) HybridCriticalWaterLevel() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.critical.engaged
}

// HybridDyingWaterLevel reports whether the "dying" level is engaged.
func (b *Breaker) HybridDyingWaterLevel() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dying.engaged
}

// Run drives Tick on a 1-second interval until stop is closed, rate
// limited by the internal debounce gate so ticker-driven samples are
// taken at most once per second. Direct Tick calls bypass the gate.
func (b *Breaker) Run(stop <-chan struct{}) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if b.limiter.Allow() {
				b.Tick()
			}
		}
	}
}
