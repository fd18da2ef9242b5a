// Package srt implements the MPEG-TS-over-SRT adapter from spec §4.6/§6:
// streamid parsing, passphrase/key-length validation, and a Socket
// interface boundary standing in for a concrete SRT library binding (no
// Go SRT library appears anywhere in the retrieval pack — see
// DESIGN.md's Open Question resolution). The TS demultiplexing itself is
// delegated to internal/tsingest.Ingester, shared verbatim with the
// MPEG-TS-over-UDP adapter.
package srt

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethan/streamcore/internal/errors"
	"github.com/ethan/streamcore/internal/tsingest"
	"github.com/rs/zerolog"
)

// Mode distinguishes the two roles an SRT streamid can request.
type Mode string

const (
	ModePublish Mode = "publish"
	ModeRequest Mode = "request"
)

// StreamID is the parsed form of an SRT streamid in the
// `#!::r=<app>/<stream>,m={publish|request}[,h=<vhost>][,...]` format
// spec §6 names.
type StreamID struct {
	App    string
	Stream string
	Mode   Mode
	Vhost  string
	Extra  map[string]string
}

// ParseStreamID decodes raw per spec §6. Unknown key=value pairs are
// preserved in Extra rather than rejected, since new SRT clients may add
// fields this server does not yet interpret.
func ParseStreamID(raw string) (*StreamID, error) {
	const prefix = "#!::"
	if !strings.HasPrefix(raw, prefix) {
		return nil, errors.NewProtocolError("srt.parse_streamid", fmt.Errorf("missing %q prefix", prefix))
	}
	body := raw[len(prefix):]

	sid := &StreamID{Extra: make(map[string]string)}
	for _, field := range strings.Split(body, ",") {
		if field == "" {
			continue
		}
		parts := strings.SplitN(field, "=", 2)
		if len(parts) != 2 {
			return nil, errors.NewProtocolError("srt.parse_streamid", fmt.Errorf("malformed field %q", field))
		}
		key, value := parts[0], parts[1]
		switch key {
		case "r":
			appStream := strings.SplitN(value, "/", 2)
			if len(appStream) != 2 {
				return nil, errors.NewProtocolError("srt.parse_streamid", fmt.Errorf("malformed r=%q, expected app/stream", value))
			}
			sid.App, sid.Stream = appStream[0], appStream[1]
		case "m":
			switch Mode(value) {
			case ModePublish, ModeRequest:
				sid.Mode = Mode(value)
			default:
				return nil, errors.NewProtocolError("srt.parse_streamid", fmt.Errorf("unknown mode %q", value))
			}
		case "h":
			sid.Vhost = value
		default:
			sid.Extra[key] = value
		}
	}

	if sid.App == "" || sid.Stream == "" {
		return nil, errors.NewProtocolError("srt.parse_streamid", fmt.Errorf("streamid %q missing r=app/stream", raw))
	}
	if sid.Mode == "" {
		return nil, errors.NewProtocolError("srt.parse_streamid", fmt.Errorf("streamid %q missing m=publish|request", raw))
	}
	return sid, nil
}

// Key returns the vhost/app/stream key used to look up the LiveSource.
func (s *StreamID) Key() string {
	if s.Vhost != "" {
		return s.Vhost + "/" + s.App + "/" + s.Stream
	}
	return s.App + "/" + s.Stream
}

// ValidatePBKeyLen enforces spec §6's encryption key length enumeration:
// pbkeylen ∈ {0, 16, 24, 32} (0 meaning no encryption).
func ValidatePBKeyLen(n int) error {
	switch n {
	case 0, 16, 24, 32:
		return nil
	default:
		return errors.NewConfigError("srt.pbkeylen", fmt.Errorf("pbkeylen must be one of 0,16,24,32, got %d", n))
	}
}

// Socket is the minimal surface this adapter needs from an SRT
// connection: read raw TS bytes, know its streamid, and close. A real
// binding (srtgo, gosrt, or a cgo wrapper over libsrt) satisfies this
// without this package needing to depend on one directly.
type Socket interface {
	StreamID() string
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Listener accepts Sockets and drives each one through a fresh
// tsingest.Ingester keyed by the socket's parsed streamid, mirroring
// internal/listen's "accept, then hand off to a protocol handler"
// pattern but specialized to the SRT/TS boundary.
type Listener struct {
	accept func(ctx context.Context) (Socket, error)
	lookup func(key string) tsingest.Sink
	log    zerolog.Logger
}

// NewListener constructs a Listener. accept is supplied by the concrete
// SRT binding; lookup resolves a parsed StreamID's Key() to the
// ingest-side Sink (normally an internal/source.Source adapter).
//
// A second logger, zerolog, is used for this lower-level packet-plumbing
// path rather than the ambient slog logger, matching
// gtfodev-camsRelay's own split between structured application logging
// and a terser per-packet logger.
func NewListener(accept func(ctx context.Context) (Socket, error), lookup func(key string) tsingest.Sink, log zerolog.Logger) *Listener {
	return &Listener{accept: accept, lookup: lookup, log: log}
}

// Serve accepts sockets until ctx is canceled, spawning one goroutine per
// connection.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		sock, err := l.accept(ctx)
		if err != nil {
			return err
		}
		go l.handle(ctx, sock)
	}
}

func (l *Listener) handle(ctx context.Context, sock Socket) {
	defer sock.Close()

	sid, err := ParseStreamID(sock.StreamID())
	if err != nil {
		l.log.Warn().Err(err).Str("streamid", sock.StreamID()).Msg("srt: rejecting connection with bad streamid")
		return
	}

	sink := l.lookup(sid.Key())
	if sink == nil {
		l.log.Warn().Str("key", sid.Key()).Msg("srt: no sink for stream")
		return
	}

	ing := tsingest.NewIngester(sink, nil)
	for {
		buf, err := sock.Read(ctx)
		if err != nil {
			l.log.Debug().Err(err).Str("key", sid.Key()).Msg("srt: socket closed")
			ing.Flush()
			return
		}
		ing.Feed(buf)
	}
}
