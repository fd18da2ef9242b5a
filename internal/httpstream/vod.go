package httpstream

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	hlsSegmentRe  = regexp.MustCompile(`^(.+)-(\d+)\.ts$`)
	dashInitRe    = regexp.MustCompile(`^(.+)-init\.mp4$`)
	dashFragRe    = regexp.MustCompile(`^(.+)-[va]-(\d+)\.m4s$`)
)

// handleFile is the single entry point gin routes every "/:app/:file"
// request through; it classifies the request by file extension the same
// way internal/webrtc.Classify sniffs a UDP datagram's first bytes,
// since gin's router cannot itself express "two path params fused into
// one segment".
func (s *Server) handleFile(c *gin.Context) {
	app := c.Param("app")
	file := c.Param("file")

	switch {
	case strings.HasSuffix(file, ".flv"):
		stream := strings.TrimSuffix(file, ".flv")
		s.serveLive(c, app, stream)
	case strings.HasSuffix(file, ".m3u8"):
		stream := strings.TrimSuffix(file, ".m3u8")
		s.serveHLSPlaylist(c, app, stream)
	case hlsSegmentRe.MatchString(file):
		m := hlsSegmentRe.FindStringSubmatch(file)
		s.serveHLSSegment(c, app, m[1], file)
	case dashInitRe.MatchString(file):
		m := dashInitRe.FindStringSubmatch(file)
		s.serveDASHFile(c, app, m[1], file)
	case dashFragRe.MatchString(file):
		m := dashFragRe.FindStringSubmatch(file)
		s.serveDASHFile(c, app, m[1], file)
	case strings.HasSuffix(file, ".mpd"):
		stream := strings.TrimSuffix(file, ".mpd")
		s.serveDASHManifest(c, app, stream)
	default:
		c.Status(http.StatusNotFound)
	}
}

func (s *Server) serveLive(c *gin.Context, app, stream string) {
	key := streamKey(app, stream)
	src := s.rtc.Fetch(key)
	if src == nil || !src.IsPublishing() {
		c.Status(http.StatusNotFound)
		return
	}
	s.handleFLVStream(c, src)
}
