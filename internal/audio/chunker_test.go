package audio

import (
	"bytes"
	"testing"
)

type sinkRecorder struct {
	chunks [][]byte
	lasts  []bool
}

func (s *sinkRecorder) accept(chunk []byte, last bool) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.chunks = append(s.chunks, cp)
	s.lasts = append(s.lasts, last)
}

func TestChunkSize(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		chunkMS    int
		want       int
	}{
		{name: "16k at 200ms", sampleRate: 16000, chunkMS: 200, want: 6400},
		{name: "16k at 100ms", sampleRate: 16000, chunkMS: 100, want: 3200},
		{name: "8k at 200ms", sampleRate: 8000, chunkMS: 200, want: 3200},
		{name: "floor at one sample", sampleRate: 16000, chunkMS: 0, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChunkSize(tt.sampleRate, tt.chunkMS); got != tt.want {
				t.Errorf("ChunkSize(%d, %d) = %d, want %d", tt.sampleRate, tt.chunkMS, got, tt.want)
			}
		})
	}
}

func TestChunkerEmitsExactChunks(t *testing.T) {
	var rec sinkRecorder
	c := NewChunker(10, rec.accept)

	data := make([]byte, 35)
	for i := range data {
		data[i] = byte(i)
	}
	c.Push(data[:7])
	c.Push(data[7:23])
	c.Push(data[23:])

	if len(rec.chunks) != 3 {
		t.Fatalf("expected 3 complete chunks, got %d", len(rec.chunks))
	}
	for i, chunk := range rec.chunks {
		if len(chunk) != 10 {
			t.Errorf("chunk %d has %d bytes", i, len(chunk))
		}
		if rec.lasts[i] {
			t.Errorf("chunk %d marked last", i)
		}
	}
	if !bytes.Equal(rec.chunks[0], data[0:10]) || !bytes.Equal(rec.chunks[2], data[20:30]) {
		t.Error("chunk boundaries do not preserve byte order")
	}
	if c.Buffered() != 5 {
		t.Errorf("buffered: got %d, want 5", c.Buffered())
	}

	c.Flush()
	if len(rec.chunks) != 4 || !rec.lasts[3] {
		t.Fatal("flush did not emit a final chunk")
	}
	if !bytes.Equal(rec.chunks[3], data[30:]) {
		t.Errorf("final chunk: %v", rec.chunks[3])
	}
}

func TestChunkerFlushEmitsEmptyFinalChunk(t *testing.T) {
	var rec sinkRecorder
	c := NewChunker(10, rec.accept)

	c.Flush()
	if len(rec.chunks) != 1 {
		t.Fatalf("expected exactly one chunk, got %d", len(rec.chunks))
	}
	if len(rec.chunks[0]) != 0 || !rec.lasts[0] {
		t.Error("flush on empty buffer must still deliver the completion chunk")
	}
}

func TestChunkerAudioSent(t *testing.T) {
	var rec sinkRecorder
	c := NewChunker(10, rec.accept)

	if c.AudioSent() {
		t.Error("AudioSent true before any chunk")
	}
	c.Push(make([]byte, 9))
	if c.AudioSent() {
		t.Error("AudioSent true before a complete chunk")
	}
	c.Push(make([]byte, 1))
	if !c.AudioSent() {
		t.Error("AudioSent false after a complete chunk")
	}

	c.Reset()
	if c.AudioSent() || c.Buffered() != 0 {
		t.Error("reset did not clear chunker state")
	}
}

func TestChunkerMinimumSize(t *testing.T) {
	var rec sinkRecorder
	c := NewChunker(0, rec.accept)
	c.Push([]byte{1, 2})
	if len(rec.chunks) != 1 || len(rec.chunks[0]) != 2 {
		t.Fatalf("chunk size floor broken: %v", rec.chunks)
	}
}
