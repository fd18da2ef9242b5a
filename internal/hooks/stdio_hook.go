// StdioHook implementation, kept near-verbatim from the teacher's
// internal/rtmp/server/hooks.StdioHook with the same STREAMCORE_ prefix
// generalization as ShellHook.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// StdioHook outputs event data to stdout/stderr in various formats.
type StdioHook struct {
	id     string
	format string // "json" or "env"
	output *os.File
}

// NewStdioHook creates a new stdio hook.
func NewStdioHook(id, format string) *StdioHook {
	return &StdioHook{id: id, format: format, output: os.Stderr}
}

// SetOutput sets the output destination (default: stderr).
func (h *StdioHook) SetOutput(output *os.File) *StdioHook {
	h.output = output
	return h
}

// Execute outputs the event data in the configured format.
func (h *StdioHook) Execute(ctx context.Context, event Event) error {
	switch h.format {
	case "json":
		return h.outputJSON(event)
	case "env":
		return h.outputEnv(event)
	default:
		return fmt.Errorf("stdio hook %s: unsupported format: %s", h.id, h.format)
	}
}

// Type returns the hook type.
func (h *StdioHook) Type() string { return "stdio" }

// ID returns the hook ID.
func (h *StdioHook) ID() string { return h.id }

func (h *StdioHook) outputJSON(event Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stdio hook %s: failed to marshal JSON: %w", h.id, err)
	}
	_, err = fmt.Fprintf(h.output, "STREAMCORE_EVENT: %s\n", string(jsonData))
	if err != nil {
		return fmt.Errorf("stdio hook %s: failed to write JSON: %w", h.id, err)
	}
	return nil
}

func (h *StdioHook) outputEnv(event Event) error {
	lines := []string{
		"# streamcore event: " + string(event.Type),
		fmt.Sprintf("STREAMCORE_EVENT_TYPE=%s", string(event.Type)),
		fmt.Sprintf("STREAMCORE_TIMESTAMP=%d", event.Timestamp),
	}

	if event.ConnID != "" {
		lines = append(lines, "STREAMCORE_CONN_ID="+event.ConnID)
	}
	if event.StreamKey != "" {
		lines = append(lines, "STREAMCORE_STREAM_KEY="+event.StreamKey)
	}
	for key, value := range event.Data {
		lines = append(lines, fmt.Sprintf("STREAMCORE_%s=%v", strings.ToUpper(key), value))
	}
	lines = append(lines, "")

	for _, line := range lines {
		if _, err := fmt.Fprintln(h.output, line); err != nil {
			return fmt.Errorf("stdio hook %s: failed to write env line: %w", h.id, err)
		}
	}
	return nil
}
