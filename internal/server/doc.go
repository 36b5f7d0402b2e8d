// Package server exposes the local HTTP status API: health, live
// session state, transcript history, dictation stats, sanitized
// configuration and Prometheus metrics.
package server
