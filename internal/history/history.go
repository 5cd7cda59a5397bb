// Package history keeps the most recent researches of an interactive session.
// Nothing is persisted.
package history

import (
	"sync"
	"time"

	"research-agent/internal/models"
)

const DefaultSize = 20

type Stats struct {
	Total       int
	Failed      int
	AverageTime time.Duration
}

// History is a bounded, newest-last list of entries. It is safe for concurrent use.
type History struct {
	mu      sync.Mutex
	size    int
	entries []models.HistoryEntry
	total   int
	failed  int
	elapsed time.Duration
}

func New(size int) *History {
	if size <= 0 {
		size = DefaultSize
	}
	return &History{size: size}
}

// Add records one research. Stats cover every research added, including the
// ones already evicted from the list.
func (h *History) Add(e models.HistoryEntry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, e)
	if len(h.entries) > h.size {
		h.entries = append([]models.HistoryEntry(nil), h.entries[len(h.entries)-h.size:]...)
	}
	h.total++
	h.elapsed += e.Duration
	if e.Failed {
		h.failed++
	}
}

// Entries returns a copy, oldest first.
func (h *History) Entries() []models.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.HistoryEntry(nil), h.entries...)
}

func (h *History) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{Total: h.total, Failed: h.failed}
	if h.total > 0 {
		s.AverageTime = h.elapsed / time.Duration(h.total)
	}
	return s
}

// FromAnswer builds the entry for a completed research.
func FromAnswer(a *models.Answer) models.HistoryEntry {
	return models.HistoryEntry{
		Question: a.Question,
		Answer:   a.Text,
		Sources:  append([]models.SourceID(nil), a.Sources...),
		Duration: a.Duration,
		At:       a.CreatedAt,
	}
}
