// Hook manager implementation, generalized from the teacher's
// internal/rtmp/server/hooks.HookManager so HLS/DASH/SRT can fire the
// same register-by-event-type / trigger dispatch shape as RTMP does.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager manages hook registration and execution.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *slog.Logger
	config    Config
}

// NewManager creates a new hook manager.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := time.ParseDuration(config.Timeout); err != nil {
		logger.Warn("invalid hook timeout, using default", "timeout", config.Timeout, "error", err)
	}

	manager := &Manager{
		hooks:  make(map[EventType][]Hook),
		logger: logger,
		config: config,
		pool:   newExecutionPool(config.Concurrency, logger),
	}

	if config.StdioFormat != "" {
		manager.EnableStdioOutput(config.StdioFormat)
	}

	return manager
}

// RegisterHook registers a hook for the specified event type.
func (hm *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.hooks[eventType] = append(hm.hooks[eventType], hook)
	hm.logger.Info("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())

	return nil
}

// UnregisterHook removes a hook by ID from the specified event type.
func (hm *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hooks := hm.hooks[eventType]
	for i, hook := range hooks {
		if hook.ID() == hookID {
			hm.hooks[eventType] = append(hooks[:i], hooks[i+1:]...)
			hm.logger.Info("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}

	return false
}

// TriggerEvent executes all registered hooks for the given event
// asynchronously and returns immediately ("fire and forget" per spec
// §4.4); callers that need an authoritative gate decision should use
// TriggerAuthoritative instead.
func (hm *Manager) TriggerEvent(ctx context.Context, event Event) {
	if hm == nil {
		return
	}

	hooks := hm.snapshot(event.Type)
	if len(hooks) == 0 {
		return
	}

	hm.logger.Debug("triggering event", "event_type", event.Type, "hook_count", len(hooks), "event", event.String())

	for _, hook := range hooks {
		hm.pool.execute(ctx, hook, event)
	}
}

// TriggerAuthoritative runs every hook for event synchronously and
// returns false if any hook fails, per spec §7's authoritative-gate
// error kind (on_publish/on_play/on_connect/on_dvr refuse the session on
// failure rather than merely logging).
func (hm *Manager) TriggerAuthoritative(ctx context.Context, event Event) bool {
	if hm == nil {
		return true
	}
	for _, hook := range hm.snapshot(event.Type) {
		if err := hook.Execute(ctx, event); err != nil {
			hm.logger.Warn("authoritative hook refused session", "event_type", event.Type, "hook_id", hook.ID(), "error", err)
			return false
		}
	}
	return true
}

func (hm *Manager) snapshot(t EventType) []Hook {
	hm.mu.RLock()
	out := make([]Hook, len(hm.hooks[t]))
	copy(out, hm.hooks[t])
	stdio := hm.stdioHook
	hm.mu.RUnlock()

	if stdio != nil {
		out = append(out, stdio)
	}
	return out
}

// EnableStdioOutput enables structured output to stdout/stderr.
func (hm *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.stdioHook = NewStdioHook("stdio", format)
	hm.logger.Info("stdio output enabled", "format", format)

	return nil
}

// DisableStdioOutput disables structured output.
func (hm *Manager) DisableStdioOutput() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.stdioHook = nil
	hm.logger.Info("stdio output disabled")
}

// Stats returns statistics about registered hooks.
func (hm *Manager) Stats() map[string]interface{} {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	hooksByType := make(map[string]int)
	totalHooks := 0
	for eventType, hooks := range hm.hooks {
		hooksByType[string(eventType)] = len(hooks)
		totalHooks += len(hooks)
	}

	return map[string]interface{}{
		"event_types":   len(hm.hooks),
		"total_hooks":   totalHooks,
		"hooks_by_type": hooksByType,
		"stdio_enabled": hm.stdioHook != nil,
		"pool_size":     hm.pool.size,
		"pool_active":   hm.pool.active,
	}
}

// Close shuts down the hook manager and waits for pending executions.
func (hm *Manager) Close() error {
	if hm.pool != nil {
		hm.pool.close()
	}
	hm.logger.Info("hook manager closed")
	return nil
}

// executionPool manages concurrent hook execution, generalized unchanged
// from the teacher's internal/rtmp/server/hooks.executionPool;
// internal/breaker's AsyncWorker follows the same bounded worker-slot
// shape with its own implementation.
type executionPool struct {
	workers chan struct{}
	size    int
	active  int
	mu      sync.Mutex
	logger  *slog.Logger
}

func newExecutionPool(size int, logger *slog.Logger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{
		workers: make(chan struct{}, size),
		size:    size,
		logger:  logger,
	}
}

func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event) {
	go func() {
		ep.workers <- struct{}{}
		defer func() { <-ep.workers }()

		ep.mu.Lock()
		ep.active++
		ep.mu.Unlock()
		defer func() {
			ep.mu.Lock()
			ep.active--
			ep.mu.Unlock()
		}()

		start := time.Now()
		err := hook.Execute(ctx, event)
		duration := time.Since(start)

		if err != nil {
			ep.logger.Error("hook execution failed", "hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "duration_ms", duration.Milliseconds(), "error", err)
		} else {
			ep.logger.Debug("hook executed successfully", "hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "duration_ms", duration.Milliseconds())
		}
	}()
}

func (ep *executionPool) close() {
	for i := 0; i < cap(ep.workers); i++ {
		ep.workers <- struct{}{}
	}
}
