package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"strings"
	"testing"
)

func TestBuildFullClientRequest(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		useGzip bool
	}{
		{name: "plain json", json: `{"request":{"model_name":"bigmodel"}}`, useGzip: false},
		{name: "gzip json", json: `{"request":{"model_name":"bigmodel"}}`, useGzip: true},
		{name: "empty payload", json: "", useGzip: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := BuildFullClientRequest(tt.json, tt.useGzip)

			if len(frame) < HeaderSize+4 {
				t.Fatalf("frame too short: %d bytes", len(frame))
			}
			if frame[0] != (Version<<4 | HeaderSize4B) {
				t.Errorf("bad header byte 0: 0x%02x", frame[0])
			}
			if frame[1] != (MsgFullClientRequest<<4 | FlagNoSequence) {
				t.Errorf("bad header byte 1: 0x%02x", frame[1])
			}
			wantComp := byte(CompressionNone)
			if tt.useGzip {
				wantComp = CompressionGzip
			}
			if frame[2] != (SerializationJSON<<4 | wantComp) {
				t.Errorf("bad header byte 2: 0x%02x", frame[2])
			}
			if frame[3] != 0x00 {
				t.Errorf("reserved byte must be zero, got 0x%02x", frame[3])
			}

			payloadLen := binary.BigEndian.Uint32(frame[4:8])
			payload := frame[8:]
			if int(payloadLen) != len(payload) {
				t.Fatalf("length prefix %d != payload size %d", payloadLen, len(payload))
			}

			got := payload
			if tt.useGzip {
				zr, err := gzip.NewReader(bytes.NewReader(payload))
				if err != nil {
					t.Fatalf("payload not gzip: %v", err)
				}
				got, err = io.ReadAll(zr)
				if err != nil {
					t.Fatalf("gunzip failed: %v", err)
				}
			}
			if string(got) != tt.json {
				t.Errorf("payload round-trip mismatch: got %q, want %q", got, tt.json)
			}
		})
	}
}

func TestBuildAudioOnlyRequest(t *testing.T) {
	tests := []struct {
		name      string
		pcm       []byte
		last      bool
		useGzip   bool
		wantFlags byte
	}{
		{name: "regular chunk", pcm: []byte{1, 2, 3, 4}, last: false, wantFlags: FlagNoSequence},
		{name: "last chunk", pcm: []byte{1, 2}, last: true, wantFlags: FlagLastNoSequence},
		{name: "empty last chunk", pcm: nil, last: true, wantFlags: FlagLastNoSequence},
		{name: "gzip chunk", pcm: bytes.Repeat([]byte{0x7f}, 640), last: false, useGzip: true, wantFlags: FlagNoSequence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := BuildAudioOnlyRequest(tt.pcm, tt.last, tt.useGzip)

			if frame[1] != (MsgAudioOnlyRequest<<4 | tt.wantFlags) {
				t.Errorf("bad type/flags byte: 0x%02x", frame[1])
			}
			if frame[2]>>4 != SerializationNone {
				t.Errorf("audio frames must use no serialization, got 0x%x", frame[2]>>4)
			}

			payloadLen := binary.BigEndian.Uint32(frame[4:8])
			payload := frame[8:]
			if int(payloadLen) != len(payload) {
				t.Fatalf("length prefix %d != payload size %d", payloadLen, len(payload))
			}
			if !tt.useGzip && !bytes.Equal(payload, tt.pcm) {
				t.Errorf("payload mismatch: got %v, want %v", payload, tt.pcm)
			}
		})
	}
}

func TestParseServerMessageResponse(t *testing.T) {
	body := `{"result":{"text":"hello"}}`

	tests := []struct {
		name    string
		seq     int32
		flags   byte
		useGzip bool
	}{
		{name: "plain response", seq: 1, flags: FlagNoSequence},
		{name: "negative sequence", seq: -3, flags: FlagNoSequence},
		{name: "completion marker", seq: 5, flags: FlagLastWithSequence},
		{name: "gzip response", seq: 2, flags: FlagNoSequence, useGzip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := buildServerResponse(t, tt.seq, tt.flags, body, tt.useGzip)
			msg := ParseServerMessage(frame)

			if msg.Kind != KindResponse {
				t.Fatalf("expected KindResponse, got %v", msg.Kind)
			}
			if msg.Sequence != tt.seq {
				t.Errorf("sequence: got %d, want %d", msg.Sequence, tt.seq)
			}
			if msg.JSONText != body {
				t.Errorf("json: got %q, want %q", msg.JSONText, body)
			}
			if msg.IsLastPackage() != (tt.flags == FlagLastWithSequence) {
				t.Errorf("IsLastPackage: got %v", msg.IsLastPackage())
			}
		})
	}
}

func TestParseServerMessageError(t *testing.T) {
	errMsg := "invalid access key"
	frame := make([]byte, 0, 12+len(errMsg))
	frame = append(frame, Version<<4|HeaderSize4B, MsgErrorResponse<<4|FlagNoSequence, SerializationJSON<<4|CompressionNone, 0x00)
	frame = binary.BigEndian.AppendUint32(frame, 45000001)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(errMsg)))
	frame = append(frame, errMsg...)

	msg := ParseServerMessage(frame)
	if msg.Kind != KindError {
		t.Fatalf("expected KindError, got %v", msg.Kind)
	}
	if msg.ErrorCode != 45000001 {
		t.Errorf("code: got %d, want 45000001", msg.ErrorCode)
	}
	if msg.ErrorMsg != errMsg {
		t.Errorf("message: got %q, want %q", msg.ErrorMsg, errMsg)
	}
}

func TestParseServerMessageUnknown(t *testing.T) {
	validResponse := buildServerResponse(t, 1, FlagNoSequence, "{}", false)

	badVersion := append([]byte(nil), validResponse...)
	badVersion[0] = 0x21 // version 2

	badHeaderSize := append([]byte(nil), validResponse...)
	badHeaderSize[0] = 0x12 // header size 2 words

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short header", data: []byte{0x11, 0x91}},
		{name: "wrong version nibble", data: badVersion},
		{name: "wrong header size nibble", data: badHeaderSize},
		{name: "response truncated before sequence", data: validResponse[:6]},
		{name: "unknown message type", data: []byte{0x11, 0x51, 0x10, 0x00, 0, 0, 0, 0}},
		{name: "error truncated before code", data: []byte{0x11, 0xF1, 0x10, 0x00, 0, 0}},
		{name: "corrupt gzip payload", data: corruptGzipResponse(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ParseServerMessage(tt.data)
			if msg.Kind != KindUnknown {
				t.Errorf("expected KindUnknown, got %v (%s)", msg.Kind, msg)
			}
		})
	}
}

func TestParseServerMessageInvalidUTF8(t *testing.T) {
	body := string([]byte{0xff, 0xfe, 'o', 'k'})
	frame := buildServerResponse(t, 0, FlagNoSequence, body, false)

	msg := ParseServerMessage(frame)
	if msg.Kind != KindResponse {
		t.Fatalf("expected KindResponse, got %v", msg.Kind)
	}
	if !strings.Contains(msg.JSONText, "ok") {
		t.Errorf("valid tail lost: %q", msg.JSONText)
	}
	if !strings.Contains(msg.JSONText, "�") {
		t.Errorf("invalid bytes should be replaced, got %q", msg.JSONText)
	}
}

func TestParseServerMessageTruncatedPayload(t *testing.T) {
	// Declared length longer than the available bytes must not panic.
	frame := buildServerResponse(t, 0, FlagNoSequence, "hello", false)
	binary.BigEndian.PutUint32(frame[8:12], 9999)

	msg := ParseServerMessage(frame)
	if msg.Kind != KindResponse {
		t.Fatalf("expected KindResponse, got %v", msg.Kind)
	}
	if msg.JSONText != "hello" {
		t.Errorf("got %q, want clamped payload %q", msg.JSONText, "hello")
	}
}

func buildServerResponse(t *testing.T, seq int32, flags byte, body string, useGzip bool) []byte {
	t.Helper()

	payload := []byte(body)
	comp := byte(CompressionNone)
	if useGzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			t.Fatalf("gzip write: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
		payload = buf.Bytes()
		comp = CompressionGzip
	}

	frame := make([]byte, 0, 12+len(payload))
	frame = append(frame, Version<<4|HeaderSize4B, MsgFullServerResponse<<4|flags, SerializationJSON<<4|comp, 0x00)
	frame = binary.BigEndian.AppendUint32(frame, uint32(seq))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	return append(frame, payload...)
}

func corruptGzipResponse(t *testing.T) []byte {
	t.Helper()
	frame := make([]byte, 0, 16)
	frame = append(frame, Version<<4|HeaderSize4B, MsgFullServerResponse<<4|FlagNoSequence, SerializationJSON<<4|CompressionGzip, 0x00)
	frame = binary.BigEndian.AppendUint32(frame, 0)
	frame = binary.BigEndian.AppendUint32(frame, 4)
	return append(frame, 0xde, 0xad, 0xbe, 0xef)
}
