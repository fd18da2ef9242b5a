package relay

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethan/streamcore/internal/rtmp/chunk"
)

// fakeClient is an in-memory RTMPClient used to exercise Destination/DestinationManager
// without a real network connection.
type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	publishErr error
	sendErr    error
	audio      [][]byte
	video      [][]byte
	closed     bool
}

func (f *fakeClient) Connect() error { return f.connectErr }
func (f *fakeClient) Publish() error { return f.publishErr }

func (f *fakeClient) SendAudio(timestamp uint32, payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, payload)
	return nil
}

func (f *fakeClient) SendVideo(timestamp uint32, payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, payload)
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func factoryFor(clients map[string]*fakeClient) RTMPClientFactory {
	return func(url string) (RTMPClient, error) {
		c := &fakeClient{}
		clients[url] = c
		return c, nil
	}
}

func TestDestinationConnectAndSendMessage(t *testing.T) {
	clients := make(map[string]*fakeClient)
	dest, err := NewDestination("rtmp://dest.example/live/key", testLogger(), factoryFor(clients))
	if err != nil {
		t.Fatalf("NewDestination: %v", err)
	}
	if dest.GetStatus() != StatusDisconnected {
		t.Fatalf("expected initial status disconnected, got %v", dest.GetStatus())
	}

	if err := dest.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if dest.GetStatus() != StatusConnected {
		t.Fatalf("expected status connected, got %v", dest.GetStatus())
	}

	if err := dest.SendMessage(&chunk.Message{TypeID: 9, Timestamp: 42, Payload: []byte("video-frame")}); err != nil {
		t.Fatalf("SendMessage video: %v", err)
	}
	if err := dest.SendMessage(&chunk.Message{TypeID: 8, Timestamp: 43, Payload: []byte("audio-frame")}); err != nil {
		t.Fatalf("SendMessage audio: %v", err)
	}

	c := clients["rtmp://dest.example/live/key"]
	if len(c.video) != 1 || string(c.video[0]) != "video-frame" {
		t.Fatalf("video not relayed: %+v", c.video)
	}
	if len(c.audio) != 1 || string(c.audio[0]) != "audio-frame" {
		t.Fatalf("audio not relayed: %+v", c.audio)
	}

	metrics := dest.GetMetrics()
	if metrics.MessagesSent != 2 {
		t.Fatalf("expected 2 messages sent, got %d", metrics.MessagesSent)
	}
	if metrics.BytesSent != uint64(len("video-frame")+len("audio-frame")) {
		t.Fatalf("unexpected bytes sent: %d", metrics.BytesSent)
	}
}

func TestDestinationSendWhileDisconnectedDropsMessage(t *testing.T) {
	clients := make(map[string]*fakeClient)
	dest, err := NewDestination("rtmp://dest.example/live/key", testLogger(), factoryFor(clients))
	if err != nil {
		t.Fatalf("NewDestination: %v", err)
	}

	if err := dest.SendMessage(&chunk.Message{TypeID: 9, Payload: []byte("x")}); err == nil {
		t.Fatal("expected error sending to a disconnected destination")
	}
	if dest.GetMetrics().MessagesDropped != 1 {
		t.Fatalf("expected one dropped message, got %d", dest.GetMetrics().MessagesDropped)
	}
}

func TestDestinationRejectsNonRTMPScheme(t *testing.T) {
	if _, err := NewDestination("http://dest.example/live/key", testLogger(), factoryFor(map[string]*fakeClient{})); err == nil {
		t.Fatal("expected scheme validation error")
	}
}

func TestDestinationManagerRelaysToAllConnected(t *testing.T) {
	clients := make(map[string]*fakeClient)
	dm, err := NewDestinationManager(
		[]string{"rtmp://a.example/live/k", "rtmp://b.example/live/k"},
		testLogger(), factoryFor(clients),
	)
	if err != nil {
		t.Fatalf("NewDestinationManager: %v", err)
	}
	if dm.GetDestinationCount() != 2 {
		t.Fatalf("expected 2 destinations, got %d", dm.GetDestinationCount())
	}

	dm.RelayMessage(&chunk.Message{TypeID: 9, Payload: []byte("frame")})

	for url, c := range clients {
		if len(c.video) != 1 {
			t.Fatalf("destination %s did not receive relayed video frame", url)
		}
	}

	status := dm.GetStatus()
	for url, s := range status {
		if s != StatusConnected {
			t.Fatalf("destination %s expected connected, got %v", url, s)
		}
	}
}

func TestDestinationManagerSkipsNonMediaMessages(t *testing.T) {
	clients := make(map[string]*fakeClient)
	dm, err := NewDestinationManager([]string{"rtmp://a.example/live/k"}, testLogger(), factoryFor(clients))
	if err != nil {
		t.Fatalf("NewDestinationManager: %v", err)
	}

	dm.RelayMessage(&chunk.Message{TypeID: 20, Payload: []byte("amf0-cmd")})

	c := clients["rtmp://a.example/live/k"]
	if len(c.audio) != 0 || len(c.video) != 0 {
		t.Fatalf("non-media message should not be relayed, got audio=%v video=%v", c.audio, c.video)
	}
}

func TestDestinationManagerDuplicateURLRejected(t *testing.T) {
	clients := make(map[string]*fakeClient)
	dm, err := NewDestinationManager([]string{"rtmp://a.example/live/k"}, testLogger(), factoryFor(clients))
	if err != nil {
		t.Fatalf("NewDestinationManager: %v", err)
	}
	if err := dm.AddDestination("rtmp://a.example/live/k"); err == nil {
		t.Fatal("expected duplicate destination error")
	}
}

func TestDestinationManagerCloseDisconnectsAll(t *testing.T) {
	clients := make(map[string]*fakeClient)
	dm, err := NewDestinationManager(
		[]string{"rtmp://a.example/live/k", "rtmp://b.example/live/k"},
		testLogger(), factoryFor(clients),
	)
	if err != nil {
		t.Fatalf("NewDestinationManager: %v", err)
	}

	if err := dm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if dm.GetDestinationCount() != 0 {
		t.Fatalf("expected 0 destinations after close, got %d", dm.GetDestinationCount())
	}
	for url, c := range clients {
		if !c.closed {
			t.Fatalf("destination %s client was not closed", url)
		}
	}
}

func TestDestinationManagerContinuesAfterOneDestinationFailsToConnect(t *testing.T) {
	clients := make(map[string]*fakeClient)
	failingFactory := func(url string) (RTMPClient, error) {
		c := &fakeClient{}
		if url == "rtmp://bad.example/live/k" {
			c.connectErr = fmt.Errorf("connection refused")
		}
		clients[url] = c
		return c, nil
	}

	dm, err := NewDestinationManager(
		[]string{"rtmp://bad.example/live/k", "rtmp://good.example/live/k"},
		testLogger(), failingFactory,
	)
	if err != nil {
		t.Fatalf("NewDestinationManager: %v", err)
	}
	if dm.GetDestinationCount() != 2 {
		t.Fatalf("expected both destinations registered despite one connect failure, got %d", dm.GetDestinationCount())
	}

	status := dm.GetStatus()
	if status["rtmp://bad.example/live/k"] != StatusError {
		t.Fatalf("expected bad destination status error, got %v", status["rtmp://bad.example/live/k"])
	}
	if status["rtmp://good.example/live/k"] != StatusConnected {
		t.Fatalf("expected good destination status connected, got %v", status["rtmp://good.example/live/k"])
	}
}
