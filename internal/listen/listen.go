// Package listen provides the protocol-agnostic accept loops that front
// every ingest/egress surface (RTMP/HTTP TCP listeners, RTP/RTCP/STUN UDP
// sockets, SRT-over-UDP). Each loop spawns one runtime.Coroutine per
// accepted connection/session and hands it to a caller-supplied Handler,
// mirroring the accept-loop shape in the teacher's rtmp/server.Server.
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	rerrors "github.com/ethan/streamcore/internal/errors"
	"github.com/ethan/streamcore/internal/runtime"
)

// Handler processes one accepted stream-oriented connection. It must
// return when ctx is cancelled.
type Handler func(ctx context.Context, conn net.Conn) error

// PacketHandler processes one datagram read from a PacketConn. addr is the
// sender; buf is valid only until the handler returns (implementations that
// need to retain it must copy).
type PacketHandler func(ctx context.Context, buf []byte, addr net.Addr) error

// TCPListener accepts stream connections and dispatches each to Handler on
// its own coroutine, tracking live connections for graceful Stop.
type TCPListener struct {
	log     *slog.Logger
	handler Handler

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]*runtime.Coroutine
	closing bool
	wg      sync.WaitGroup
}

// NewTCP constructs a listener bound later by Start.
func NewTCP(log *slog.Logger, h Handler) *TCPListener {
	return &TCPListener{
		log:     log,
		handler: h,
		conns:   make(map[net.Conn]*runtime.Coroutine),
	}
}

// Start binds addr and launches the accept loop.
func (t *TCPListener) Start(ctx context.Context, network, addr string) error {
	t.mu.Lock()
	if t.ln != nil {
		t.mu.Unlock()
		return errors.New("listen: already started")
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		t.mu.Unlock()
		return rerrors.NewTransportError("listen.tcp", fmt.Errorf("listen %s: %w", addr, err))
	}
	t.ln = ln
	t.mu.Unlock()

	t.log.Info("tcp listener started", "addr", ln.Addr().String())
	t.wg.Add(1)
	go t.acceptLoop(ctx)
	return nil
}

func (t *TCPListener) acceptLoop(ctx context.Context) {
	defer t.wg.Done()
	n := 0
	for {
		t.mu.Lock()
		ln := t.ln
		t.mu.Unlock()
		if ln == nil {
			return
		}
		raw, err := ln.Accept()
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			t.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Warn("accept error", "error", err)
			return
		}
		n++
		runtime.YieldEvery(n, 16)

		co := runtime.Spawn(ctx, "conn:"+raw.RemoteAddr().String(), func(cctx context.Context) error {
			defer func() {
				_ = raw.Close()
				t.mu.Lock()
				delete(t.conns, raw)
				t.mu.Unlock()
			}()
			return t.handler(cctx, raw)
		})
		t.mu.Lock()
		t.conns[raw] = co
		t.mu.Unlock()
	}
}

// Stop closes the listener, interrupts every tracked connection coroutine,
// and waits for the accept loop to exit. It does not wait for handler
// coroutines to finish; callers that need that should track their own
// per-connection WaitGroup inside Handler.
func (t *TCPListener) Stop() error {
	t.mu.Lock()
	if t.ln == nil {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	ln := t.ln
	t.ln = nil
	conns := make([]*runtime.Coroutine, 0, len(t.conns))
	for _, co := range t.conns {
		conns = append(conns, co)
	}
	t.mu.Unlock()

	_ = ln.Close()
	for _, co := range conns {
		co.Interrupt()
	}
	t.wg.Wait()
	return nil
}

// Addr returns the bound address, or nil if not started.
func (t *TCPListener) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

// ActiveConns reports the number of live accepted connections.
func (t *TCPListener) ActiveConns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// UDPSession runs a single read loop over a bound net.PacketConn, invoking
// handler per datagram. It is used for RTP/RTCP/STUN demux on WebRTC
// sockets and for the raw MPEG-TS-over-UDP ingest path, both of which bind
// one socket and classify/dispatch datagrams inline rather than accepting
// new connections per peer.
type UDPSession struct {
	log     *slog.Logger
	handler PacketHandler

	mu   sync.Mutex
	pc   net.PacketConn
	done chan struct{}
}

// NewUDP constructs a packet session bound later by Start.
func NewUDP(log *slog.Logger, h PacketHandler) *UDPSession {
	return &UDPSession{log: log, handler: h}
}

// Start binds addr (network is "udp" or "udp4"/"udp6") and launches the
// receive loop. Passing addr == "" binds an ephemeral port, used for
// outbound-only or per-session relay sockets.
func (u *UDPSession) Start(ctx context.Context, network, addr string) (net.Addr, error) {
	u.mu.Lock()
	if u.pc != nil {
		u.mu.Unlock()
		return nil, errors.New("listen: udp session already started")
	}
	pc, err := net.ListenPacket(network, addr)
	if err != nil {
		u.mu.Unlock()
		return nil, rerrors.NewTransportError("listen.udp", fmt.Errorf("listen %s: %w", addr, err))
	}
	u.pc = pc
	u.done = make(chan struct{})
	u.mu.Unlock()

	go u.recvLoop(ctx)
	return pc.LocalAddr(), nil
}

func (u *UDPSession) recvLoop(ctx context.Context) {
	defer close(u.done)
	buf := make([]byte, 65535)
	n := 0
	for {
		u.mu.Lock()
		pc := u.pc
		u.mu.Unlock()
		if pc == nil {
			return
		}
		nr, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return
		}
		n++
		runtime.YieldEvery(n, 16)
		if herr := u.handler(ctx, buf[:nr], addr); herr != nil {
			u.log.Debug("udp handler error", "error", herr, "peer", addr)
		}
	}
}

// WriteTo sends b to addr over the bound socket.
func (u *UDPSession) WriteTo(b []byte, addr net.Addr) (int, error) {
	u.mu.Lock()
	pc := u.pc
	u.mu.Unlock()
	if pc == nil {
		return 0, errors.New("listen: udp session not started")
	}
	return pc.WriteTo(b, addr)
}

// Stop closes the socket and waits for the receive loop to exit.
func (u *UDPSession) Stop() error {
	u.mu.Lock()
	pc := u.pc
	done := u.done
	u.pc = nil
	u.mu.Unlock()
	if pc == nil {
		return nil
	}
	_ = pc.Close()
	if done != nil {
		<-done
	}
	return nil
}

// LocalAddr returns the bound local address, or nil if not started.
func (u *UDPSession) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.pc == nil {
		return nil
	}
	return u.pc.LocalAddr()
}
