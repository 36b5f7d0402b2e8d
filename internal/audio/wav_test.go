package audio

import (
	"encoding/binary"
	"testing"
)

func TestWAVEncodeDecodeRoundTrip(t *testing.T) {
	samples := sineInt16(1600, 440, 16000)
	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	decoded, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if decoded.SampleRate != 16000 || decoded.Channels != 1 {
		t.Errorf("format: rate=%d channels=%d", decoded.SampleRate, decoded.Channels)
	}
	if len(decoded.Samples) != len(samples) {
		t.Fatalf("sample count: got %d, want %d", len(decoded.Samples), len(samples))
	}
	for i := range samples {
		if decoded.Samples[i] != samples[i] {
			t.Fatalf("sample %d differs", i)
		}
	}
	if got := decoded.Duration(); got < 0.099 || got > 0.101 {
		t.Errorf("duration: got %f, want 0.1", got)
	}
}

func TestDecodeWAVSkipsExtraChunks(t *testing.T) {
	base, err := EncodeWAV([]int16{1, 2, 3}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	// Insert a LIST chunk between fmt and data.
	list := make([]byte, 8+6)
	copy(list, "LIST")
	binary.LittleEndian.PutUint32(list[4:], 6)
	withList := append([]byte{}, base[:36]...)
	withList = append(withList, list...)
	withList = append(withList, base[36:]...)
	binary.LittleEndian.PutUint32(withList[4:], uint32(len(withList)-8))

	decoded, err := DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV with LIST chunk: %v", err)
	}
	if len(decoded.Samples) != 3 || decoded.Samples[2] != 3 {
		t.Errorf("samples: %v", decoded.Samples)
	}
}

func TestDecodeWAVRejectsMalformed(t *testing.T) {
	valid, _ := EncodeWAV([]int16{1}, 16000)

	notRIFF := append([]byte{}, valid...)
	copy(notRIFF, "JUNK")

	notPCM := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(notPCM[20:], 3) // IEEE float

	eightBit := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(eightBit[34:], 8)

	truncatedChunk := append([]byte{}, valid[:20]...)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "too short", data: []byte("RIFF")},
		{name: "wrong magic", data: notRIFF},
		{name: "non-PCM format", data: notPCM},
		{name: "8-bit depth", data: eightBit},
		{name: "chunk overruns file", data: truncatedChunk},
		{name: "no data chunk", data: valid[:36]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeWAV(tt.data); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}
