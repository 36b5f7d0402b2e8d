// Package session owns the recognition session lifecycle: it builds
// the initial request, feeds captured audio through the chunker to the
// transport, merges the server's partial and definite transcript
// fragments into a committed text ledger, and finalizes or cancels the
// session. All state mutation happens on the engine's own event
// goroutine; external callers and transport callbacks only post events.
package session
