package session

import "sync"

// HistoryEntry is one transcript row. Partial marks a row still being
// revised by a live session; finalized rows never change again.
type HistoryEntry struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	Partial   bool   `json:"partial"`
}

// HistorySink receives row-level change notifications, typically a UI
// projection. Calls arrive serialized from the engine goroutine.
type HistorySink interface {
	RowInserted(index int, entry HistoryEntry)
	RowUpdated(index int, entry HistoryEntry)
	RowRemoved(index int)
}

// History is the transcript row store. Rows are ordered newest first.
// Safe for concurrent reads; only the engine writes.
type History struct {
	mu   sync.RWMutex
	rows []HistoryEntry
	sink HistorySink
}

// NewHistory creates a history store. sink may be nil.
func NewHistory(sink HistorySink) *History {
	return &History{sink: sink}
}

// Insert prepends a row and returns its index (always 0).
func (h *History) Insert(entry HistoryEntry) int {
	h.mu.Lock()
	h.rows = append([]HistoryEntry{entry}, h.rows...)
	h.mu.Unlock()
	if h.sink != nil {
		h.sink.RowInserted(0, entry)
	}
	return 0
}

// Update replaces the row at index. Out-of-range indexes are ignored.
func (h *History) Update(index int, entry HistoryEntry) {
	h.mu.Lock()
	if index < 0 || index >= len(h.rows) {
		h.mu.Unlock()
		return
	}
	h.rows[index] = entry
	h.mu.Unlock()
	if h.sink != nil {
		h.sink.RowUpdated(index, entry)
	}
}

// Remove deletes the row at index. Out-of-range indexes are ignored.
func (h *History) Remove(index int) {
	h.mu.Lock()
	if index < 0 || index >= len(h.rows) {
		h.mu.Unlock()
		return
	}
	h.rows = append(h.rows[:index], h.rows[index+1:]...)
	h.mu.Unlock()
	if h.sink != nil {
		h.sink.RowRemoved(index)
	}
}

// Clear drops all rows.
func (h *History) Clear() {
	h.mu.Lock()
	n := len(h.rows)
	h.rows = nil
	h.mu.Unlock()
	if h.sink != nil {
		for i := n - 1; i >= 0; i-- {
			h.sink.RowRemoved(i)
		}
	}
}

// Entries returns a snapshot of all rows, newest first.
func (h *History) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]HistoryEntry, len(h.rows))
	copy(out, h.rows)
	return out
}

// Len returns the row count.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rows)
}

// At returns the row at index.
func (h *History) At(index int) (HistoryEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if index < 0 || index >= len(h.rows) {
		return HistoryEntry{}, false
	}
	return h.rows[index], true
}
