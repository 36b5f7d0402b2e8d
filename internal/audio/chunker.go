package audio

import "math"

// ChunkSize returns the chunk length in bytes for 16-bit mono PCM at
// the given rate, never less than one sample.
func ChunkSize(sampleRate, chunkMS int) int {
	samples := int(math.Round(float64(sampleRate) * float64(chunkMS) / 1000.0))
	size := samples * 2
	if size < 2 {
		size = 2
	}
	return size
}

// Chunker accumulates PCM bytes and emits fixed-size chunks through a
// sink. Push emits every complete chunk as soon as it is available;
// Flush emits whatever remains, possibly empty, marked as the final
// chunk. Not safe for concurrent use; the capture path owns it.
type Chunker struct {
	chunkBytes int
	sink       func(chunk []byte, last bool)

	buf       []byte
	audioSent bool
}

// NewChunker creates a chunker emitting chunkBytes-sized pieces to sink.
func NewChunker(chunkBytes int, sink func(chunk []byte, last bool)) *Chunker {
	if chunkBytes < 2 {
		chunkBytes = 2
	}
	return &Chunker{
		chunkBytes: chunkBytes,
		sink:       sink,
	}
}

// Push appends captured bytes and emits complete chunks.
func (c *Chunker) Push(p []byte) {
	if len(p) == 0 {
		return
	}
	c.buf = append(c.buf, p...)
	for len(c.buf) >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.buf[:c.chunkBytes])
		c.buf = c.buf[c.chunkBytes:]
		c.sink(chunk, false)
		c.audioSent = true
	}
}

// Flush emits the remaining buffered bytes as the final chunk. The
// final chunk may be empty; the recognizer still needs the completion
// marker it carries.
func (c *Chunker) Flush() {
	rest := c.buf
	c.buf = nil
	c.sink(rest, true)
}

// AudioSent reports whether at least one complete chunk was emitted.
func (c *Chunker) AudioSent() bool {
	return c.audioSent
}

// Buffered returns the number of bytes waiting for the next chunk.
func (c *Chunker) Buffered() int {
	return len(c.buf)
}

// Reset clears buffered bytes and the sent flag for a new recording.
func (c *Chunker) Reset() {
	c.buf = nil
	c.audioSent = false
}
