package tsingest

import (
	"testing"

	"github.com/ethan/streamcore/internal/source"
)

type fakeSink struct {
	video []*source.SharedMessage
	audio []*source.SharedMessage
}

func (f *fakeSink) OnMetaData(msg *source.SharedMessage) {}
func (f *fakeSink) OnAudio(msg *source.SharedMessage)    { f.audio = append(f.audio, msg) }
func (f *fakeSink) OnVideo(msg *source.SharedMessage)    { f.video = append(f.video, msg) }

func TestAlignToSyncByte(t *testing.T) {
	buf := append([]byte{0x00, 0x01, 0x02}, make([]byte, 188)...)
	buf[3] = 0x47
	aligned := alignToSyncByte(buf)
	if len(aligned) == 0 || aligned[0] != 0x47 {
		t.Fatalf("expected alignment to sync byte, got len=%d first=%v", len(aligned), aligned[:1])
	}
}

func TestDedupQueueReleasesOnTwoAndTwo(t *testing.T) {
	q := NewDedupQueue()
	var released []*source.SharedMessage

	push := func(isVideo bool, dts uint32) {
		msg := &source.SharedMessage{DTS: dts}
		if isVideo {
			msg.Type = source.MessageVideo
		} else {
			msg.Type = source.MessageAudio
		}
		released = append(released, q.Push(msg)...)
	}

	push(true, 100)
	push(false, 100)
	push(true, 200)
	push(false, 200)

	if len(released) != 4 {
		t.Fatalf("expected release once 2V/2A reached, got %d", len(released))
	}
	for i := 1; i < len(released); i++ {
		if released[i].DTS < released[i-1].DTS {
			t.Errorf("expected non-decreasing DTS order, got %v", released)
		}
	}
}

func TestDedupQueueCollisionBump(t *testing.T) {
	q := NewDedupQueue()
	first := &source.SharedMessage{Type: source.MessageVideo, DTS: 50}
	second := &source.SharedMessage{Type: source.MessageVideo, DTS: 50}

	q.Push(first)
	q.Push(second)

	if second.DTS != 51 {
		t.Errorf("expected colliding DTS bumped to 51, got %d", second.DTS)
	}
}

func TestNewIngesterInitializesDemuxer(t *testing.T) {
	sink := &fakeSink{}
	ing := NewIngester(sink, nil)
	if ing.demux == nil {
		t.Fatal("expected demuxer initialized")
	}
}
