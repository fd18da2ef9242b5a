package listen

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/ethan/streamcore/internal/logger"
)

func testLogger() *slog.Logger {
	logger.Init()
	return logger.Logger()
}

func TestTCPListenerEchoesAndStops(t *testing.T) {
	echoed := make(chan string, 1)
	tl := NewTCP(testLogger(), func(ctx context.Context, c net.Conn) error {
		r := bufio.NewReader(c)
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		echoed <- line
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tl.Start(ctx, "tcp", "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn, err := net.Dial("tcp", tl.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case line := <-echoed:
		if line != "hello\n" {
			t.Fatalf("unexpected line %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}

	if n := tl.ActiveConns(); n != 1 {
		t.Fatalf("expected 1 active conn, got %d", n)
	}
	if err := tl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestUDPSessionRoundTrip(t *testing.T) {
	received := make(chan string, 1)
	us := NewUDP(testLogger(), func(ctx context.Context, buf []byte, addr net.Addr) error {
		received <- string(buf)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	laddr, err := us.Start(ctx, "udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer us.Stop()

	conn, err := net.Dial("udp", laddr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "ping" {
			t.Fatalf("unexpected payload %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestTCPListenerDoubleStartErrors(t *testing.T) {
	tl := NewTCP(testLogger(), func(ctx context.Context, c net.Conn) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tl.Start(ctx, "tcp", "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tl.Stop()
	if err := tl.Start(ctx, "tcp", "127.0.0.1:0"); err == nil {
		t.Fatal("expected error on second Start")
	}
}
