package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"research-agent/internal/history"
	"research-agent/internal/models"
)

func printAnswer(w io.Writer, a *models.Answer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.TrimSpace(a.Text))
	fmt.Fprintln(w)

	names := make([]string, 0, len(a.Sources))
	for _, s := range a.Sources {
		names = append(names, s.Title())
	}
	if len(names) == 0 {
		names = append(names, "none")
	}
	fmt.Fprintf(w, "Sources: %s\n", strings.Join(names, ", "))

	if len(a.Unavailable) > 0 {
		missing := make([]string, 0, len(a.Unavailable))
		for _, s := range a.Unavailable {
			missing = append(missing, s.Title())
		}
		fmt.Fprintf(w, "Unavailable: %s\n", strings.Join(missing, ", "))
	}
	for _, u := range a.SelectedURLs {
		fmt.Fprintf(w, "  read: %s\n", u)
	}
	fmt.Fprintf(w, "Completed in %s\n", a.Duration.Round(100*time.Millisecond))
}

func printHistory(w io.Writer, entries []models.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No researches yet.")
		return
	}
	for i, e := range entries {
		status := fmt.Sprintf("%d sources", len(e.Sources))
		if e.Failed {
			status = "failed"
		}
		fmt.Fprintf(w, "%2d. %s (%s, %s)\n", i+1, e.Question, status, e.Duration.Round(100*time.Millisecond))
	}
}

func printStats(w io.Writer, s history.Stats) {
	fmt.Fprintf(w, "Total researches: %d\n", s.Total)
	if s.Failed > 0 {
		fmt.Fprintf(w, "Failed: %d\n", s.Failed)
	}
	fmt.Fprintf(w, "Average time: %s\n", s.AverageTime.Round(100*time.Millisecond))
}
