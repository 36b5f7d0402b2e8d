package audio

import (
	"encoding/binary"
	"fmt"
)

// WAVData holds decoded PCM from a WAV file. Samples are interleaved
// when the file has more than one channel.
type WAVData struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Duration returns the audio length in seconds.
func (w *WAVData) Duration() float64 {
	if w.SampleRate <= 0 || w.Channels <= 0 {
		return 0
	}
	return float64(len(w.Samples)/w.Channels) / float64(w.SampleRate)
}

// DecodeWAV parses a 16-bit PCM WAV file. It walks the RIFF chunk list
// rather than assuming a fixed 44-byte header, so files with extra
// chunks (LIST, fact) decode too.
func DecodeWAV(data []byte) (*WAVData, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("wav: file too short (%d bytes)", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: not a RIFF/WAVE file")
	}

	var (
		haveFmt    bool
		format     uint16
		channels   uint16
		sampleRate uint32
		bits       uint16
		pcm        []byte
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, fmt.Errorf("wav: chunk %q overruns file", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too short (%d bytes)", size)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			sampleRate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size + size%2
		if pcm != nil && haveFmt {
			break
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("wav: missing fmt chunk")
	}
	if pcm == nil {
		return nil, fmt.Errorf("wav: missing data chunk")
	}
	if format != 1 {
		return nil, fmt.Errorf("wav: unsupported format %d, want PCM", format)
	}
	if bits != 16 {
		return nil, fmt.Errorf("wav: unsupported bit depth %d, want 16", bits)
	}
	if channels == 0 || sampleRate == 0 {
		return nil, fmt.Errorf("wav: invalid fmt chunk (channels=%d rate=%d)", channels, sampleRate)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	return &WAVData{
		SampleRate: int(sampleRate),
		Channels:   int(channels),
		Samples:    samples,
	}, nil
}

// EncodeWAV writes 16-bit mono PCM as a minimal WAV file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: sample rate must be positive, got %d", sampleRate)
	}

	dataSize := len(samples) * 2
	out := make([]byte, 0, 44+dataSize)
	le := binary.LittleEndian

	u32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		out = append(out, b[:]...)
	}
	u16 := func(v uint16) {
		var b [2]byte
		le.PutUint16(b[:], v)
		out = append(out, b[:]...)
	}

	out = append(out, "RIFF"...)
	u32(uint32(36 + dataSize))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	u32(16)
	u16(1) // PCM
	u16(1) // mono
	u32(uint32(sampleRate))
	u32(uint32(sampleRate * 2))
	u16(2)
	u16(16)
	out = append(out, "data"...)
	u32(uint32(dataSize))
	for _, s := range samples {
		u16(uint16(s))
	}
	return out, nil
}
