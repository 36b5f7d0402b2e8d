package audio

import (
	"encoding/binary"
	"math"
)

// Resampler converts a stream of 16-bit samples between rates using
// linear interpolation. It keeps a short tail of input so that a long
// signal split into arbitrary pieces produces the same output as the
// whole signal processed at once. When the rates are equal it passes
// input through untouched.
type Resampler struct {
	inRate  int
	outRate int
	step    float64
	pos     float64
	tail    []int16
}

// NewResampler creates a streaming resampler from inRate to outRate.
func NewResampler(inRate, outRate int) *Resampler {
	step := 1.0
	if outRate > 0 {
		step = float64(inRate) / float64(outRate)
	}
	return &Resampler{
		inRate:  inRate,
		outRate: outRate,
		step:    step,
	}
}

// Process resamples one block of input. Output per call may be empty
// when the input is too short to produce a sample at the current
// position; the samples appear on a later call.
func (r *Resampler) Process(input []int16) []int16 {
	if len(input) == 0 {
		return nil
	}
	if r.inRate == r.outRate {
		return input
	}

	merged := append(r.tail, input...)
	var out []int16
	for {
		i0 := int(r.pos)
		i1 := i0 + 1
		if i1 >= len(merged) {
			break
		}
		frac := r.pos - float64(i0)
		v := float64(merged[i0])*(1.0-frac) + float64(merged[i1])*frac
		out = append(out, clampInt16(math.Round(v)))
		r.pos += r.step
	}

	// Keep one sample before the current position so the next block can
	// interpolate across the boundary.
	keepFrom := int(r.pos) - 1
	if keepFrom < 0 {
		keepFrom = 0
	}
	r.tail = append(r.tail[:0], merged[keepFrom:]...)
	r.pos -= float64(keepFrom)
	return out
}

// Reset discards carried state. Use between independent recordings.
func (r *Resampler) Reset() {
	r.pos = 0
	r.tail = r.tail[:0]
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// DownmixAndResample converts raw little-endian 16-bit PCM from the
// capture device into mono at the resampler's output rate. An odd
// trailing byte is dropped. Multi-channel input is downmixed by
// integer mean across each frame. The resampler carries interpolation
// state between calls; pass the same instance for the whole capture.
func DownmixAndResample(raw []byte, inChannels int, res *Resampler) []byte {
	raw = raw[:len(raw)/2*2]
	if len(raw) == 0 {
		return nil
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	if inChannels > 1 {
		mono := make([]int16, 0, len(samples)/inChannels+1)
		for i := 0; i < len(samples); i += inChannels {
			end := i + inChannels
			if end > len(samples) {
				end = len(samples)
			}
			sum := 0
			for _, s := range samples[i:end] {
				sum += int(s)
			}
			mono = append(mono, int16(sum/(end-i)))
		}
		samples = mono
	}

	if res != nil {
		samples = res.Process(samples)
	}

	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
