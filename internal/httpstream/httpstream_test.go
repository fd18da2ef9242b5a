package httpstream

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ethan/streamcore/internal/source"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, hlsRoot string) *Server {
	t.Helper()
	mgr := source.NewManager(source.Config{}, nil)
	dirs := StaticDirLookup{HLSRoot: hlsRoot, DASHRoot: hlsRoot}
	return NewServer(mgr, dirs, Config{HLSWindow: 2 * time.Second}, nil)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestServeHLSPlaylistMintsHlsCtxAndRewritesSegmentURIs(t *testing.T) {
	root := t.TempDir()
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:2.000,\nlive-00001.ts\n#EXTINF:2.000,\nlive-00002.ts\n"
	writeFile(t, filepath.Join(root, "app/live.m3u8"), playlist)

	s := newTestServer(t, root)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/app/live.m3u8")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Fatalf("unexpected content-type: %q", ct)
	}
	text := string(body)
	if !strings.Contains(text, "hls_ctx=") {
		t.Fatalf("expected rewritten playlist to carry hls_ctx query param, got:\n%s", text)
	}
	if !strings.Contains(text, "live-00001.ts?hls_ctx=") || !strings.Contains(text, "live-00002.ts?hls_ctx=") {
		t.Fatalf("expected every segment URI rewritten with hls_ctx, got:\n%s", text)
	}
}

func TestServeHLSSegmentServesFileFromDisk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app/live-00001.ts"), "fake-ts-bytes")

	s := newTestServer(t, root)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/app/live-00001.ts")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "fake-ts-bytes" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestServeDASHManifestAndFragments(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app/live.mpd"), "<MPD/>")
	writeFile(t, filepath.Join(root, "app/live-init.mp4"), "init-bytes")
	writeFile(t, filepath.Join(root, "app/live-v-1.m4s"), "frag-bytes")

	s := newTestServer(t, root)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	for _, path := range []string{"/app/live.mpd", "/app/live-init.mp4", "/app/live-v-1.m4s"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestServeLiveReturns404WhenStreamNotPublishing(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, root)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/app/missing.flv")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unpublished stream, got %d", resp.StatusCode)
	}
}

func TestHandleFileReturns404ForUnrecognizedExtension(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, root)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/app/something.bin")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unrecognized extension, got %d", resp.StatusCode)
	}
}
