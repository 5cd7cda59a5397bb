package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"research-agent/internal/models"
)

func TestHistory_BoundedNewestLast(t *testing.T) {
	h := New(3)
	for i := 1; i <= 5; i++ {
		h.Add(models.HistoryEntry{Question: fmt.Sprintf("q%d", i), Duration: time.Duration(i) * time.Second})
	}

	entries := h.Entries()
	assert.Len(t, entries, 3)
	assert.Equal(t, "q3", entries[0].Question)
	assert.Equal(t, "q5", entries[2].Question)
	assert.False(t, entries[0].At.IsZero())

	s := h.Stats()
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 3*time.Second, s.AverageTime)
}

func TestHistory_Stats(t *testing.T) {
	h := New(0)
	assert.Equal(t, Stats{}, h.Stats())

	h.Add(models.HistoryEntry{Question: "a", Duration: 2 * time.Second})
	h.Add(models.HistoryEntry{Question: "b", Duration: 4 * time.Second, Failed: true})

	assert.Equal(t, Stats{Total: 2, Failed: 1, AverageTime: 3 * time.Second}, h.Stats())
}

func TestHistory_EntriesIsACopy(t *testing.T) {
	h := New(2)
	h.Add(models.HistoryEntry{Question: "a"})
	entries := h.Entries()
	entries[0].Question = "changed"
	assert.Equal(t, "a", h.Entries()[0].Question)
}

func TestHistory_ConcurrentAdd(t *testing.T) {
	h := New(10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Add(models.HistoryEntry{Duration: time.Second})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, h.Stats().Total)
	assert.Len(t, h.Entries(), 10)
}

func TestFromAnswer(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := FromAnswer(&models.Answer{
		Question:  "best budget laptop",
		Text:      "Acer",
		Sources:   []models.SourceID{models.SourceGoogle},
		Duration:  time.Second,
		CreatedAt: at,
	})
	assert.Equal(t, "best budget laptop", e.Question)
	assert.Equal(t, []models.SourceID{models.SourceGoogle}, e.Sources)
	assert.Equal(t, at, e.At)
}
