package session

import (
	"fmt"
	"sync"
	"unicode"
)

// StatsSnapshot is the running totals view exposed to callers.
type StatsSnapshot struct {
	TotalSeconds float64 `json:"total_seconds"`
	TotalChars   int     `json:"total_chars"`
	Speed        int     `json:"speed_chars_per_min"`
	DurationText string  `json:"duration_text"`
}

// Stats accumulates dictation totals across sessions and derives the
// chars-per-minute speed of the session in flight. When the current
// session has no elapsed time yet, the last known speed is carried
// forward instead of dividing by zero.
type Stats struct {
	mu           sync.RWMutex
	totalSeconds float64
	totalChars   int
	lastSpeed    int

	// Live view of the in-flight session, refreshed by Observe.
	sessionChars   int
	sessionElapsed float64
}

// NewStats creates an empty stats accumulator.
func NewStats() *Stats {
	return &Stats{}
}

// countChars counts non-whitespace runes, the unit all totals use.
func countChars(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Observe updates the live view from the current session's text and
// elapsed seconds.
func (s *Stats) Observe(sessionText string, elapsedSeconds float64) {
	s.mu.Lock()
	s.sessionChars = countChars(sessionText)
	s.sessionElapsed = elapsedSeconds
	s.mu.Unlock()
}

// ResetSpeed clears the carried-forward speed at session start.
func (s *Stats) ResetSpeed() {
	s.mu.Lock()
	s.lastSpeed = 0
	s.sessionChars = 0
	s.sessionElapsed = 0
	s.mu.Unlock()
}

// Finalize rolls a finished session into the running totals. Cancelled
// or empty sessions contribute nothing and reset the speed.
func (s *Stats) Finalize(sessionText string, elapsedSeconds float64, cancelled bool) {
	chars := countChars(sessionText)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cancelled && chars > 0 && elapsedSeconds > 0 {
		s.lastSpeed = int(float64(chars) / (elapsedSeconds / 60.0))
	} else {
		s.lastSpeed = 0
	}
	if !cancelled && chars > 0 {
		if elapsedSeconds > 0 {
			s.totalSeconds += elapsedSeconds
		}
		s.totalChars += chars
	}
	s.sessionChars = 0
	s.sessionElapsed = 0
}

// Snapshot returns the current totals including the in-flight session.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalElapsed := s.totalSeconds + s.sessionElapsed
	totalSeconds := int(totalElapsed)
	duration := fmt.Sprintf("%02d:%02d", totalSeconds/60, totalSeconds%60)

	speed := s.lastSpeed
	if s.sessionElapsed > 0 {
		speed = int(float64(s.sessionChars) / (s.sessionElapsed / 60.0))
	}

	return StatsSnapshot{
		TotalSeconds: totalElapsed,
		TotalChars:   s.totalChars + s.sessionChars,
		Speed:        speed,
		DurationText: duration,
	}
}
