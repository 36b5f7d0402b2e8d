package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Protocol constants
const (
	// Fixed header fields
	Version      = 0b0001
	HeaderSize4B = 0b0001 // header size in 4-byte words
	HeaderSize   = 4      // bytes

	// Message types
	MsgFullClientRequest  = 0b0001
	MsgAudioOnlyRequest   = 0b0010
	MsgFullServerResponse = 0b1001
	MsgErrorResponse      = 0b1111

	// Flags
	FlagNoSequence       = 0b0000
	FlagLastNoSequence   = 0b0010
	FlagLastWithSequence = 0b0011 // server-side completion marker

	// Serialization methods
	SerializationNone = 0b0000
	SerializationJSON = 0b0001

	// Compression methods
	CompressionNone = 0b0000
	CompressionGzip = 0b0001
)

// MessageKind identifies the decoded variant of a server message
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindResponse
	KindError
)

// ServerMessage represents a decoded server frame.
// Malformed input never produces an error: the message degrades to
// KindUnknown and the caller ignores it.
type ServerMessage struct {
	Kind        MessageKind
	MessageType int
	Flags       int
	Compression int
	Sequence    int32  // KindResponse only; opaque routing metadata
	JSONText    string // KindResponse only
	ErrorCode   uint32 // KindError only
	ErrorMsg    string // KindError only
}

// IsLastPackage reports whether the frame carries the server-side
// completion marker.
func (m ServerMessage) IsLastPackage() bool {
	return m.Flags == FlagLastWithSequence
}

// buildHeader packs the fixed 4-byte protocol header.
// Layout: [version|header_size][type|flags][serialization|compression][reserved]
func buildHeader(messageType, flags, serialization, compression int) [HeaderSize]byte {
	return [HeaderSize]byte{
		byte((Version&0xF)<<4 | (HeaderSize4B & 0xF)),
		byte((messageType&0xF)<<4 | (flags & 0xF)),
		byte((serialization&0xF)<<4 | (compression & 0xF)),
		0x00,
	}
}

// BuildFullClientRequest encodes the session-opening JSON request frame.
func BuildFullClientRequest(jsonText string, useGzip bool) []byte {
	payload := gzipIf([]byte(jsonText), useGzip)
	header := buildHeader(MsgFullClientRequest, FlagNoSequence, SerializationJSON, compressionNibble(useGzip))

	out := make([]byte, 0, HeaderSize+4+len(payload))
	out = append(out, header[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

// BuildAudioOnlyRequest encodes a PCM audio frame. The final frame of a
// session carries the last-with-no-sequence flag and may be empty.
func BuildAudioOnlyRequest(pcm []byte, last bool, useGzip bool) []byte {
	flags := FlagNoSequence
	if last {
		flags = FlagLastNoSequence
	}
	payload := gzipIf(pcm, useGzip)
	header := buildHeader(MsgAudioOnlyRequest, flags, SerializationNone, compressionNibble(useGzip))

	out := make([]byte, 0, HeaderSize+4+len(payload))
	out = append(out, header[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

// ParseServerMessage decodes one complete server frame. The transport
// guarantees frame completeness before decode; anything truncated or
// unrecognized here comes back as KindUnknown rather than an error.
func ParseServerMessage(data []byte) ServerMessage {
	if len(data) < HeaderSize {
		return ServerMessage{Kind: KindUnknown, MessageType: -1}
	}

	version := int(data[0]>>4) & 0xF
	headerSize4 := int(data[0]) & 0xF
	if version != Version || headerSize4 != HeaderSize4B {
		return ServerMessage{Kind: KindUnknown, MessageType: -1}
	}

	messageType := int(data[1]>>4) & 0xF
	flags := int(data[1]) & 0xF
	compression := int(data[2]) & 0xF
	isGzip := compression == CompressionGzip

	unknown := ServerMessage{
		Kind:        KindUnknown,
		MessageType: messageType,
		Flags:       flags,
		Compression: compression,
	}

	switch messageType {
	case MsgFullServerResponse:
		// int32 sequence + uint32 payload length follow the header.
		if len(data) < 12 {
			return unknown
		}
		seq := int32(binary.BigEndian.Uint32(data[4:8]))
		payloadSize := binary.BigEndian.Uint32(data[8:12])
		payload, ok := gunzipIf(sliceBounded(data, 12, payloadSize), isGzip)
		if !ok {
			return unknown
		}
		return ServerMessage{
			Kind:        KindResponse,
			MessageType: messageType,
			Flags:       flags,
			Compression: compression,
			Sequence:    seq,
			JSONText:    decodeUTF8Lossy(payload),
		}

	case MsgErrorResponse:
		// uint32 error code + uint32 message length follow the header.
		if len(data) < 12 {
			return unknown
		}
		code := binary.BigEndian.Uint32(data[4:8])
		msgSize := binary.BigEndian.Uint32(data[8:12])
		return ServerMessage{
			Kind:        KindError,
			MessageType: messageType,
			Flags:       flags,
			Compression: compression,
			ErrorCode:   code,
			ErrorMsg:    decodeUTF8Lossy(sliceBounded(data, 12, msgSize)),
		}
	}

	return unknown
}

// sliceBounded returns data[off:off+n] clamped to the available bytes.
func sliceBounded(data []byte, off int, n uint32) []byte {
	if off >= len(data) {
		return nil
	}
	end := off + int(n)
	if end > len(data) || end < off {
		end = len(data)
	}
	return data[off:end]
}

func compressionNibble(useGzip bool) int {
	if useGzip {
		return CompressionGzip
	}
	return CompressionNone
}

func gzipIf(data []byte, enable bool) []byte {
	if !enable {
		return data
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(data) //nolint:errcheck // writes to bytes.Buffer cannot fail
	zw.Close()     //nolint:errcheck
	return buf.Bytes()
}

func gunzipIf(data []byte, enable bool) ([]byte, bool) {
	if !enable {
		return data, true
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, false
	}
	return out, true
}

// decodeUTF8Lossy converts bytes to a string, replacing invalid
// sequences with U+FFFD instead of failing.
func decodeUTF8Lossy(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var sb strings.Builder
	sb.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		sb.WriteRune(r)
		data = data[size:]
	}
	return sb.String()
}

// String returns a human-readable representation of the message
func (m ServerMessage) String() string {
	switch m.Kind {
	case KindResponse:
		return fmt.Sprintf("ServerMessage{Response, Seq:%d, Flags:0b%04b, JSONLen:%d}", m.Sequence, m.Flags, len(m.JSONText))
	case KindError:
		return fmt.Sprintf("ServerMessage{Error, Code:%d, Msg:%q}", m.ErrorCode, m.ErrorMsg)
	default:
		return fmt.Sprintf("ServerMessage{Unknown, Type:0b%04b, Flags:0b%04b}", m.MessageType, m.Flags)
	}
}
