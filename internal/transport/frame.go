package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// WebSocket frame opcodes
const (
	opContinuation = 0x0
	opText         = 0x1
	opBinary       = 0x2
	opClose        = 0x8
	opPing         = 0x9
	opPong         = 0xA
)

// maxFramePayload bounds the declared payload length of a single frame.
// Server responses are small JSON bodies; a larger declaration means a
// corrupt or hostile stream and is terminal for the connection.
const maxFramePayload = 16 << 20

// frame is one reassembled message: control frames come through as-is,
// fragmented data frames arrive already joined under the initiating opcode.
type frame struct {
	opcode  byte
	payload []byte
}

// buildFrame encodes a single unfragmented frame. Client-to-server frames
// must be masked; a fresh random 4-byte key is drawn per frame.
func buildFrame(payload []byte, opcode byte, mask bool) []byte {
	out := make([]byte, 0, 14+len(payload))
	out = append(out, 0x80|opcode&0x0F) // FIN always set

	n := len(payload)
	maskBit := byte(0x00)
	if mask {
		maskBit = 0x80
	}
	switch {
	case n < 126:
		out = append(out, maskBit|byte(n))
	case n < 1<<16:
		out = append(out, maskBit|126)
		out = binary.BigEndian.AppendUint16(out, uint16(n))
	default:
		out = append(out, maskBit|127)
		out = binary.BigEndian.AppendUint64(out, uint64(n))
	}

	if !mask {
		return append(out, payload...)
	}

	var key [4]byte
	rand.Read(key[:]) //nolint:errcheck // crypto/rand.Read never fails
	out = append(out, key[:]...)
	start := len(out)
	out = append(out, payload...)
	for i := range payload {
		out[start+i] ^= key[i%4]
	}
	return out
}

// frameReader incrementally extracts complete frames from a raw byte
// stream. It keeps at most one fragmented message in flight, keyed by the
// opcode of its first fragment.
type frameReader struct {
	buf        []byte
	fragActive bool
	fragOpcode byte
	fragParts  []byte
}

// newFrameReader seeds the reader with any bytes that arrived after the
// handshake header terminator.
func newFrameReader(initial []byte) *frameReader {
	r := &frameReader{}
	if len(initial) > 0 {
		r.buf = append(r.buf, initial...)
	}
	return r
}

// Feed appends raw socket bytes to the reassembly buffer.
func (r *frameReader) Feed(data []byte) {
	if len(data) > 0 {
		r.buf = append(r.buf, data...)
	}
}

// PopAll extracts every complete frame currently buffered, in arrival
// order. A protocol violation (orphan continuation frame, oversized
// declared length) is terminal for the connection.
func (r *frameReader) PopAll() ([]frame, error) {
	var out []frame
	for {
		f, ok, err := r.popOnce()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, f)
	}
}

// popOnce tries to extract a single frame. Returns ok=false when the
// buffer does not yet hold a complete frame; a complete non-final fragment
// is consumed into the fragment buffer and also reports ok=false.
func (r *frameReader) popOnce() (frame, bool, error) {
	if len(r.buf) < 2 {
		return frame{}, false, nil
	}

	fin := r.buf[0]&0x80 != 0
	opcode := r.buf[0] & 0x0F
	masked := r.buf[1]&0x80 != 0
	length := uint64(r.buf[1] & 0x7F)
	idx := 2

	switch length {
	case 126:
		if len(r.buf) < idx+2 {
			return frame{}, false, nil
		}
		length = uint64(binary.BigEndian.Uint16(r.buf[idx : idx+2]))
		idx += 2
	case 127:
		if len(r.buf) < idx+8 {
			return frame{}, false, nil
		}
		length = binary.BigEndian.Uint64(r.buf[idx : idx+8])
		idx += 8
	}

	if length > maxFramePayload {
		return frame{}, false, fmt.Errorf("frame payload of %d bytes exceeds %d byte limit", length, maxFramePayload)
	}

	var maskKey [4]byte
	if masked {
		// Servers normally do not mask, but decode must still support it.
		if len(r.buf) < idx+4 {
			return frame{}, false, nil
		}
		copy(maskKey[:], r.buf[idx:idx+4])
		idx += 4
	}

	total := uint64(idx) + length
	if uint64(len(r.buf)) < total {
		return frame{}, false, nil
	}

	payload := make([]byte, length)
	copy(payload, r.buf[idx:total])
	r.buf = r.buf[total:]

	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	if opcode == opContinuation {
		if !r.fragActive {
			return frame{}, false, fmt.Errorf("unexpected continuation frame")
		}
		r.fragParts = append(r.fragParts, payload...)
		if !fin {
			return frame{}, false, nil
		}
		f := frame{opcode: r.fragOpcode, payload: r.fragParts}
		r.fragActive = false
		r.fragParts = nil
		return f, true, nil
	}

	if !fin {
		r.fragActive = true
		r.fragOpcode = opcode
		r.fragParts = append([]byte(nil), payload...)
		return frame{}, false, nil
	}

	return frame{opcode: opcode, payload: payload}, true, nil
}
