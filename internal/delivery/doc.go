// Package delivery pushes a finalized transcript into the user's
// focused application. The clipboard is always populated; on top of
// that a ranked chain of keystroke-injection backends can type the
// text directly or trigger a paste shortcut. Injection commands run on
// a single worker goroutine so overlapping deliveries never interleave
// keystrokes.
package delivery
