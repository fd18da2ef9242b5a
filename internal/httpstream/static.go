package httpstream

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/ethan/streamcore/internal/hls"
)

// serveHLSPlaylist reads the current M3U8 off disk, mints an hls_ctx
// token on a request that doesn't carry one yet, and rewrites every
// segment URI to carry it, per spec §4.4/§8.5.
func (s *Server) serveHLSPlaylist(c *gin.Context, app, stream string) {
	key := streamKey(app, stream)
	dir, ok := s.dirs.HLSDir(key)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	path := filepath.Join(dir, key+".m3u8")
	raw, err := os.ReadFile(path)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	token := c.Query("hls_ctx")
	if token == "" || !s.hlsCtx.Touch(token) {
		token = s.hlsCtx.Issue(key)
	}

	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "no-cache")
	c.String(http.StatusOK, "%s", hls.RewritePlaylist(string(raw), token))
}

// serveHLSSegment streams one .ts segment and, when it carries an
// hls_ctx query parameter, attributes the request to that context.
func (s *Server) serveHLSSegment(c *gin.Context, app, stream, file string) {
	key := streamKey(app, stream)
	dir, ok := s.dirs.HLSDir(key)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	if token := c.Query("hls_ctx"); token != "" {
		s.hlsCtx.Touch(token)
	}
	c.Header("Content-Type", "video/mp2t")
	c.File(filepath.Join(dir, app, file))
}

// serveDASHManifest serves the MPD as-is; DASH has no per-session
// virtualization equivalent to hls_ctx in this implementation.
func (s *Server) serveDASHManifest(c *gin.Context, app, stream string) {
	key := streamKey(app, stream)
	dir, ok := s.dirs.DASHDir(key)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Content-Type", "application/dash+xml")
	c.Header("Cache-Control", "no-cache")
	c.File(filepath.Join(dir, key+".mpd"))
}

// serveDASHFile serves an init.mp4 or .m4s fragment.
func (s *Server) serveDASHFile(c *gin.Context, app, stream, file string) {
	key := streamKey(app, stream)
	dir, ok := s.dirs.DASHDir(key)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Content-Type", "video/mp4")
	c.File(filepath.Join(dir, app, file))
}
