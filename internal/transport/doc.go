// Package transport provides a minimal full-duplex framed-message channel
// over TCP or TLS. It performs the HTTP upgrade handshake, masks and frames
// outbound messages, reassembles fragmented inbound frames, and answers
// keep-alive probes. A single goroutine owns the live socket; callers
// interact through a non-blocking command queue.
package transport
