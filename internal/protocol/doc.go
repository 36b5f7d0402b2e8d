// Package protocol implements the binary recognition protocol frames.
// It builds client request frames (JSON full-request and raw PCM audio-only)
// and parses server response/error frames, including the fixed 4-byte header,
// big-endian length prefixes, and optional gzip payload compression.
package protocol
