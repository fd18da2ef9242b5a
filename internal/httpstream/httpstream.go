// Package httpstream serves live and on-demand media over plain HTTP:
// progressive HTTP-FLV straight off a stream's internal/source.Source,
// and static HLS (.m3u8/.ts) and DASH (.mpd/.m4s) playback of whatever
// internal/hls and internal/dash have most recently written to disk.
// Grounded on the teacher's internal/rtmp/server request/response shape
// (one handler per request, registry lookup by "app/stream" key) but
// reimplemented over net/http via gin, the router the rest of the
// retrieval corpus's HTTP-facing services (e.g. the voice-ai backend)
// reach for.
package httpstream

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ethan/streamcore/internal/hls"
	"github.com/ethan/streamcore/internal/source"
)

// DirLookup resolves the on-disk roots a Segmenter for key=("app/stream")
// writes HLS/DASH output under, so the HTTP layer never needs to know
// how segmenters are wired up by the caller.
type DirLookup interface {
	HLSDir(key string) (string, bool)
	DASHDir(key string) (string, bool)
}

// StaticDirLookup is the simplest DirLookup: every stream's HLS/DASH
// output lives under the same two root directories (the Segmenter
// itself namespaces files within them by stream key).
type StaticDirLookup struct {
	HLSRoot  string
	DASHRoot string
}

func (l StaticDirLookup) HLSDir(string) (string, bool)  { return l.HLSRoot, l.HLSRoot != "" }
func (l StaticDirLookup) DASHDir(string) (string, bool) { return l.DASHRoot, l.DASHRoot != "" }

// Config bounds the server's playback policy knobs.
type Config struct {
	// QueueDurationMS bounds the per-subscriber backlog before the
	// overflow/shrink policy engages, mirroring source.Config.
	QueueDurationMS int64
	// HLSWindow is the Segmenter's advertised window, used only to size
	// the CtxManager's idle-eviction deadline (2x window).
	HLSWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueDurationMS <= 0 {
		c.QueueDurationMS = 3000
	}
	if c.HLSWindow <= 0 {
		c.HLSWindow = 10 * time.Second
	}
	return c
}

// Server wires the live FLV handler and the static HLS/DASH handlers
// over one gin.Engine.
type Server struct {
	cfg    Config
	rtc    *source.Manager
	dirs   DirLookup
	hlsCtx *hls.CtxManager
	logger *slog.Logger
}

// NewServer builds a Server fed by rtc (for live HTTP-FLV) and dirs (for
// HLS/DASH static output).
func NewServer(rtc *source.Manager, dirs DirLookup, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Server{
		cfg:    cfg,
		rtc:    rtc,
		dirs:   dirs,
		hlsCtx: hls.NewCtxManager(cfg.HLSWindow),
		logger: logger,
	}
}

// Router builds the gin.Engine routing every HTTP-FLV/HLS/DASH path
// this package serves, keyed by app/stream under the standard live-HTTP
// layout ("/{app}/{stream}.flv", "/{app}/{stream}.m3u8", ...).
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// gin's router (like the teacher's RTMP dispatch) matches one param
	// per path segment, so the file extension/segment-number split that
	// tells HTTP-FLV, HLS, and DASH requests apart happens inside
	// handleFile rather than in the route table.
	r.GET("/:app/:file", s.handleFile)

	return r
}

// SweepHLSContexts evicts idle hls_ctx tokens, firing onEvict for each
// one (wired by the caller to the on_stop hook and stats teardown). Run
// this on a ticker alongside source.Manager.RunSweeper.
func (s *Server) SweepHLSContexts(onEvict func(stream, token string)) {
	s.hlsCtx.Sweep(onEvict)
}

func streamKey(app, stream string) string { return app + "/" + stream }
