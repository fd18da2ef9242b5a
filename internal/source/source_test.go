package source

import (
	"testing"

	"github.com/ethan/streamcore/internal/flv"
)

func videoSHMsg() *SharedMessage {
	return &SharedMessage{
		Type: MessageVideo,
		Frame: &flv.Frame{
			IsVideo:    true,
			PacketType: flv.PacketTypeSequenceHeader,
		},
	}
}

func audioSHMsg() *SharedMessage {
	return &SharedMessage{
		Type: MessageAudio,
		Frame: &flv.Frame{
			PacketType: flv.PacketTypeSequenceHeader,
		},
	}
}

func TestSource_ConsumerBootstrap_ReceivesActiveTripleThenGOP(t *testing.T) {
	s := New("live/stream", Config{}, nil)
	if err := s.OnPublish(); err != nil {
		t.Fatalf("OnPublish: %v", err)
	}

	s.OnMetaData(&SharedMessage{Type: MessageMetadata, Metadata: map[string]any{"width": 1280}})
	s.OnVideo(videoSHMsg())
	s.OnAudio(audioSHMsg())
	s.OnVideo(keyFrameMsg(0))

	c := s.CreateConsumer()
	defer s.RemoveConsumer(c)
	s.ConsumerDumps(c, true, true, true)

	first, ok := c.TryDequeue()
	if !ok || first.Type != MessageMetadata {
		t.Fatalf("expected metadata first, got %+v ok=%v", first, ok)
	}
	second, ok := c.TryDequeue()
	if !ok || !second.IsVideo() || !second.IsSequenceHeader() {
		t.Fatalf("expected video SH second, got %+v ok=%v", second, ok)
	}
	third, ok := c.TryDequeue()
	if !ok || !third.IsAudio() || !third.IsSequenceHeader() {
		t.Fatalf("expected audio SH third, got %+v ok=%v", third, ok)
	}
	fourth, ok := c.TryDequeue()
	if !ok || !fourth.IsKeyFrame() {
		t.Fatalf("expected cached keyframe fourth, got %+v ok=%v", fourth, ok)
	}
}

func TestSource_CannotPublishTwice(t *testing.T) {
	s := New("live/stream", Config{}, nil)
	if err := s.OnPublish(); err != nil {
		t.Fatalf("first OnPublish: %v", err)
	}
	if s.CanPublish() {
		t.Fatalf("expected CanPublish=false while a publisher holds the source")
	}
	if err := s.OnPublish(); err == nil {
		t.Fatalf("expected second OnPublish to be rejected as busy")
	}
}

func TestSource_OnUnpublishReleasesClaim(t *testing.T) {
	s := New("live/stream", Config{}, nil)
	_ = s.OnPublish()
	s.OnUnpublish()
	if !s.CanPublish() {
		t.Fatalf("expected CanPublish=true after unpublish")
	}
}

type fakeBridge struct {
	name     string
	audio    int
	video    int
	unpubbed bool
}

func (b *fakeBridge) Name() string             { return b.name }
func (b *fakeBridge) OnMetaData(*SharedMessage) {}
func (b *fakeBridge) OnAudio(*SharedMessage)    { b.audio++ }
func (b *fakeBridge) OnVideo(*SharedMessage)    { b.video++ }
func (b *fakeBridge) OnUnpublish()              { b.unpubbed = true }

func TestSource_ForwardsToRegisteredBridge(t *testing.T) {
	s := New("live/stream", Config{}, nil)
	fb := &fakeBridge{name: "rtc"}
	s.AddBridge(fb)
	_ = s.OnPublish()
	s.OnVideo(keyFrameMsg(0))
	s.OnAudio(&SharedMessage{Type: MessageAudio, DTS: 5})
	s.OnUnpublish()

	if fb.video != 1 || fb.audio != 1 {
		t.Fatalf("expected bridge to observe 1 video + 1 audio, got video=%d audio=%d", fb.video, fb.audio)
	}
	if !fb.unpubbed {
		t.Fatalf("expected bridge to observe unpublish")
	}
}
