package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethan/streamcore/internal/dash"
	"github.com/ethan/streamcore/internal/hls"
	"github.com/ethan/streamcore/internal/source"
)

// splitKey breaks a Source's "app/stream" key into its two parts the same
// way internal/httpstream.streamKey joins them, since the Segmenter types
// index files by stream name alone while the HTTP layer serves them back
// out nested under the app directory.
func splitKey(key string) (app, stream string) {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// registerSegmenters wires an HLS and a DASH segmenter into s's OriginHub,
// per spec §4.3: every Source gets both children regardless of which
// protocol published it (RTMP, SRT, WebRTC), so a single publish fans out
// to every egress surface. Both segmenters write into the app-level
// subdirectory of the configured output root, matching the layout
// internal/httpstream serves back out over HTTP.
func registerSegmenters(s *source.Source, cfg *cliConfig, log *slog.Logger) {
	app, stream := splitKey(s.Key)

	hlsDir := filepath.Join(cfg.hlsOutputDir, app)
	if err := os.MkdirAll(hlsDir, 0755); err != nil {
		log.Error("hls: create output dir failed", "stream", s.Key, "dir", hlsDir, "error", err)
	} else {
		hlsSeg := hls.New(stream, hls.Config{OutputDir: hlsDir})
		hlsSeg.OnHookReap(func(seg hls.Segment) {
			log.Debug("hls segment reaped", "stream", s.Key, "seq", seg.SequenceNumber, "uri", seg.URI)
		})
		s.Hub().Register(hlsSeg)
	}

	dashDir := filepath.Join(cfg.dashOutputDir, app)
	if err := os.MkdirAll(dashDir, 0755); err != nil {
		log.Error("dash: create output dir failed", "stream", s.Key, "dir", dashDir, "error", err)
	} else {
		s.Hub().Register(dash.New(stream, dash.Config{OutputDir: dashDir}))
	}
}
