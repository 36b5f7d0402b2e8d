// Package metrics defines the Prometheus metrics exported by the
// engine. A single Metrics value is shared by the transport, the
// session engine and the HTTP API.
package metrics
