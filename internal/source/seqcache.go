package source

import "sync"

// SequenceHeaderCache holds the current and previous metadata/video-sh/
// audio-sh triple, per spec §3: every new publisher clears the current
// pair, and every consumer must receive exactly the active triple before
// any ordinary AV message.
type SequenceHeaderCache struct {
	mu sync.RWMutex

	metadata *SharedMessage
	videoSH  *SharedMessage
	audioSH  *SharedMessage

	prevMetadata *SharedMessage
	prevVideoSH  *SharedMessage
	prevAudioSH  *SharedMessage
}

// Reset clears the current triple on a new publish, preserving the prior
// publish's triple as "previous" only for diagnostic purposes (the spec
// does not require replaying it to consumers).
func (c *SequenceHeaderCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prevMetadata, c.prevVideoSH, c.prevAudioSH = c.metadata, c.videoSH, c.audioSH
	c.metadata, c.videoSH, c.audioSH = nil, nil, nil
}

// SetMetadata stores the current onMetaData-equivalent message.
func (c *SequenceHeaderCache) SetMetadata(m *SharedMessage) {
	c.mu.Lock()
	c.metadata = m
	c.mu.Unlock()
}

// SetVideoSH stores the current video sequence header.
func (c *SequenceHeaderCache) SetVideoSH(m *SharedMessage) {
	c.mu.Lock()
	c.videoSH = m
	c.mu.Unlock()
}

// SetAudioSH stores the current audio sequence header.
func (c *SequenceHeaderCache) SetAudioSH(m *SharedMessage) {
	c.mu.Lock()
	c.audioSH = m
	c.mu.Unlock()
}

// Snapshot returns the current (metadata, videoSH, audioSH) triple,
// any of which may be nil, for a newly subscribing consumer.
func (c *SequenceHeaderCache) Snapshot() (metadata, videoSH, audioSH *SharedMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata, c.videoSH, c.audioSH
}
