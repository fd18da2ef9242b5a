// Package reload implements the config-diff dispatcher from spec §4.11:
// it parses a new config into a parallel tree, diffs it against the
// currently-applied tree directive-by-directive, and fires narrowly
// scoped change notifications so unrelated subsystems are never
// restarted. It is modeled directly on
// internal/rtmp/server/hooks.HookManager's register-by-event-type /
// trigger dispatch shape, repurposed from "fire an HTTP hook" to "fire a
// Go callback on a config change".
package reload

import (
	"log/slog"
	"sync"
)

// ChangeType enumerates the directive-scoped events spec §4.11 names.
type ChangeType string

const (
	ChangeListen         ChangeType = "listen_changed"
	ChangePithyPrint     ChangeType = "pithy_print_changed"
	ChangeVhostAdded     ChangeType = "vhost_added"
	ChangeVhostRemoved   ChangeType = "vhost_removed"
	ChangeVhostPlay      ChangeType = "vhost_play_changed"
	ChangeVhostForward   ChangeType = "vhost_forward_changed"
	ChangeVhostHLS       ChangeType = "vhost_hls_changed"
	ChangeVhostDASH      ChangeType = "vhost_dash_changed"
	ChangeVhostDVR       ChangeType = "vhost_dvr_changed"
	ChangeVhostTranscode ChangeType = "vhost_transcode_changed"
	ChangeIngestAdded    ChangeType = "ingest_added"
	ChangeIngestRemoved  ChangeType = "ingest_removed"
	ChangeIngestUpdated  ChangeType = "ingest_updated"
)

// Change describes one narrowly scoped notification: the kind of
// change, the vhost it applies to (empty for global directives like
// listen), and an opaque correlation id shared by every Change produced
// from the same Apply call.
type Change struct {
	Type          ChangeType
	Vhost         string
	CorrelationID string
}

// Handler is invoked for each Change a subscriber registered interest
// in. Handlers are expected to be fast; slow work should be offloaded
// (e.g. via internal/breaker.AsyncWorker).
type Handler func(Change)

// State tracks the outcome of the most recent Apply call, per spec §7's
// "reload state register (states: init, success, error) plus a
// correlation id".
type State string

const (
	StateInit    State = "init"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Dispatcher owns the currently-applied directive tree and the set of
// handlers registered per ChangeType.
type Dispatcher struct {
	mu       sync.RWMutex
	current  Tree
	handlers map[ChangeType][]Handler
	logger   *slog.Logger

	lastState State
	lastCorr  string
	lastErr   error
}

// NewDispatcher constructs a Dispatcher seeded with the initial tree.
func NewDispatcher(initial Tree, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		current:   initial,
		handlers:  make(map[ChangeType][]Handler),
		logger:    logger,
		lastState: StateInit,
	}
}

// On registers handler for changeType.
func (d *Dispatcher) On(changeType ChangeType, handler Handler) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	d.handlers[changeType] = append(d.handlers[changeType], handler)
	d.mu.Unlock()
}

// State returns the outcome of the most recently applied reload and its
// correlation id.
func (d *Dispatcher) State() (State, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastState, d.lastCorr, d.lastErr
}

// Apply diffs newTree against the currently-applied tree, fires a
// Change per detected directive difference, and — on success — makes
// newTree the new current tree. On validation failure the previous
// config is retained, per spec §7's "load fails; reload retains previous
// config".
func (d *Dispatcher) Apply(newTree Tree, correlationID string) error {
	if err := newTree.Validate(); err != nil {
		d.mu.Lock()
		d.lastState = StateError
		d.lastCorr = correlationID
		d.lastErr = err
		d.mu.Unlock()
		d.logger.Warn("reload validation failed, retaining previous config", "correlation_id", correlationID, "error", err)
		return err
	}

	d.mu.Lock()
	old := d.current
	changes := Diff(old, newTree)
	d.current = newTree
	d.lastState = StateSuccess
	d.lastCorr = correlationID
	d.lastErr = nil
	d.mu.Unlock()

	for i := range changes {
		changes[i].CorrelationID = correlationID
	}
	d.fire(changes)
	return nil
}

func (d *Dispatcher) fire(changes []Change) {
	for _, c := range changes {
		d.mu.RLock()
		hs := append([]Handler(nil), d.handlers[c.Type]...)
		d.mu.RUnlock()
		for _, h := range hs {
			h(c)
		}
	}
}

// Current returns the currently-applied tree.
func (d *Dispatcher) Current() Tree {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}
