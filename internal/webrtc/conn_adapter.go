package webrtc

import (
	"net"
	"time"
)

// dtlsConnAdapter satisfies net.Conn over one Session's UDP 5-tuple so
// pion/dtls can run its handshake state machine against the shared
// listener socket the same way it would against a dedicated net.Conn —
// this is the concrete realization of spec §4.1's netfd abstraction for
// the DTLS boundary specifically.
type dtlsConnAdapter struct {
	sess *Session
	buf  []byte
}

func (c *dtlsConnAdapter) Read(p []byte) (int, error) {
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}
	buf, ok := <-c.sess.dtlsRecv
	if !ok {
		return 0, net.ErrClosed
	}
	n := copy(p, buf)
	if n < len(buf) {
		c.buf = buf[n:]
	}
	return n, nil
}

func (c *dtlsConnAdapter) Write(p []byte) (int, error) {
	if err := c.sess.send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *dtlsConnAdapter) Close() error {
	c.sess.mu.Lock()
	ch := c.sess.dtlsRecv
	c.sess.dtlsRecv = nil
	c.sess.mu.Unlock()
	if ch != nil {
		close(ch)
	}
	return nil
}

func (c *dtlsConnAdapter) LocalAddr() net.Addr  { return nil }
func (c *dtlsConnAdapter) RemoteAddr() net.Addr { return c.sess.PeerAddr() }
func (c *dtlsConnAdapter) SetDeadline(time.Time) error      { return nil }
func (c *dtlsConnAdapter) SetReadDeadline(time.Time) error   { return nil }
func (c *dtlsConnAdapter) SetWriteDeadline(time.Time) error  { return nil }
