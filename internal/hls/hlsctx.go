package hls

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CtxManager implements the "HLS stream context" virtualization from
// spec §4.4/§8.5: the first playlist request for a stream mints an
// opaque short token; the server rewrites every .ts URI in the served
// M3U8 to carry it, and subsequent segment requests are attributed back
// to the same context for statistics until it goes idle for
// 2*hls_window and is evicted.
type CtxManager struct {
	mu       sync.Mutex
	contexts map[string]*hlsCtx
	window   time.Duration
}

type hlsCtx struct {
	token      string
	stream     string
	lastActive time.Time
}

// NewCtxManager constructs a manager whose idle-eviction threshold is
// 2*window, per spec §4.4.
func NewCtxManager(window time.Duration) *CtxManager {
	return &CtxManager{contexts: make(map[string]*hlsCtx), window: window}
}

// Issue mints a fresh token for stream, used on the first playlist
// request.
func (m *CtxManager) Issue(stream string) string {
	token := strings.ToUpper(uuid.NewString()[:8])
	m.mu.Lock()
	m.contexts[token] = &hlsCtx{token: token, stream: stream, lastActive: time.Now()}
	m.mu.Unlock()
	return token
}

// Touch marks token as recently active (a playlist or segment request
// attributed to it), returning false if token is unknown.
func (m *CtxManager) Touch(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[token]
	if !ok {
		return false
	}
	c.lastActive = time.Now()
	return true
}

// RewritePlaylist rewrites every .ts URI line in playlist to carry
// ?hls_ctx=token, per spec §8.5.
func RewritePlaylist(playlist, token string) string {
	lines := strings.Split(playlist, "\n")
	for i, line := range lines {
		if strings.HasSuffix(line, ".ts") {
			lines[i] = line + "?hls_ctx=" + token
		}
	}
	return strings.Join(lines, "\n")
}

// Sweep evicts every context whose last request is older than
// 2*window, invoking onEvict (wired by the caller to fire the on_stop
// hook and remove stats) for each one.
func (m *CtxManager) Sweep(onEvict func(stream, token string)) {
	deadline := 2 * m.window
	m.mu.Lock()
	var evicted []*hlsCtx
	for token, c := range m.contexts {
		if time.Since(c.lastActive) > deadline {
			evicted = append(evicted, c)
			delete(m.contexts, token)
		}
	}
	m.mu.Unlock()

	for _, c := range evicted {
		if onEvict != nil {
			onEvict(c.stream, c.token)
		}
	}
}

// Count reports the number of live contexts, for diagnostics.
func (m *CtxManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}
