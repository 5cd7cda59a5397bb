package models

import "time"

// SelectionReason distinguishes why a selection came back empty. All empty
// reasons degrade the pipeline the same way.
type SelectionReason string

const (
	SelectionSelected              SelectionReason = "selected"
	SelectionNoRelevant            SelectionReason = "no_relevant"
	SelectionNoCandidates          SelectionReason = "no_candidates"
	SelectionCapabilityUnavailable SelectionReason = "capability_unavailable"
)

// SelectionDecision is at most MaxSelectedURLs discussion URLs, in relevance order.
type SelectionDecision struct {
	URLs   []string        `json:"urls"`
	Reason SelectionReason `json:"reason"`
}

func (d SelectionDecision) Empty() bool {
	return len(d.URLs) == 0
}

// AnalysisResult is one source's distilled text. Available is false when Text is
// the unavailable placeholder.
type AnalysisResult struct {
	Source    SourceID `json:"source"`
	Text      string   `json:"text"`
	Available bool     `json:"available"`
}

// Answer is the synthesized response plus provenance.
type Answer struct {
	RequestID    string           `json:"requestId"`
	Question     string           `json:"question"`
	Text         string           `json:"text"`
	Sources      []SourceID       `json:"sources"`
	Unavailable  []SourceID       `json:"unavailableSources"`
	SelectedURLs []string         `json:"selectedUrls"`
	Selection    SelectionReason  `json:"selectionReason"`
	Analyses     []AnalysisResult `json:"analyses"`
	Duration     time.Duration    `json:"duration"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// HistoryEntry is one completed research kept by the interactive front end.
type HistoryEntry struct {
	Question string        `json:"question"`
	Answer   string        `json:"answer"`
	Sources  []SourceID    `json:"sources"`
	Duration time.Duration `json:"duration"`
	Failed   bool          `json:"failed"`
	At       time.Time     `json:"at"`
}
