package httpstream

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ethan/streamcore/internal/amf"
	"github.com/ethan/streamcore/internal/flv"
	"github.com/ethan/streamcore/internal/source"
)

// handleFLVStream drains src's live messages into w as a progressive FLV
// byte stream, blocking until the client disconnects or the consumer
// queue is closed. Grounded on the teacher's server.Stream.BroadcastMessage
// fan-out, but pull-based: this goroutine is the one "subscriber loop"
// spec §5 assigns per play session, here driven by gin's request
// goroutine instead of a dedicated coroutine.
func (s *Server) handleFLVStream(c *gin.Context, src *source.Source) {
	w := c.Writer
	w.Header().Set("Content-Type", "video/x-flv")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	format := src.Format()
	mux := flv.NewMuxer(w, format.AudioCodec != 0, format.VideoCodec != 0)

	consumer := src.CreateConsumer()
	defer src.RemoveConsumer(consumer)
	src.ConsumerDumps(consumer, true, true, true)

	flusher, canFlush := w.(http.Flusher)
	ctxDone := c.Request.Context().Done()

	for {
		msg, ok := pumpOne(consumer, ctxDone)
		if !ok {
			return
		}
		if err := writeFLVMessage(mux, msg); err != nil {
			s.logger.Debug("http-flv write failed", "stream", src.Key, "error", err)
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// pumpOne blocks on the consumer queue until a message arrives, the
// queue closes, or the request context is cancelled (client disconnect).
func pumpOne(consumer *source.ConsumerQueue, done <-chan struct{}) (*source.SharedMessage, bool) {
	type result struct {
		msg *source.SharedMessage
		ok  bool
	}
	out := make(chan result, 1)
	go func() {
		msg, ok := consumer.Dequeue()
		out <- result{msg, ok}
	}()
	select {
	case r := <-out:
		return r.msg, r.ok
	case <-done:
		consumer.Close()
		return nil, false
	}
}

func writeFLVMessage(mux *flv.Muxer, msg *source.SharedMessage) error {
	switch msg.Type {
	case source.MessageMetadata:
		payload, err := amf.EncodeAll("onMetaData", msg.Metadata)
		if err != nil {
			return err
		}
		return mux.WriteMetaData(payload, msg.DTS)
	case source.MessageVideo, source.MessageAudio:
		if msg.Frame == nil {
			return nil
		}
		frame := *msg.Frame
		frame.Timestamp = msg.DTS
		return mux.WriteFrame(&frame)
	default:
		return nil
	}
}
