package researchquestion

type Input struct {
	Question string `json:"question"`
}

// Output is written back to the process instance as job variables.
type Output struct {
	Answer             string   `json:"answer"`
	Sources            []string `json:"sources"`
	UnavailableSources []string `json:"unavailableSources"`
	SelectedURLs       []string `json:"selectedUrls"`
	SelectionReason    string   `json:"selectionReason"`
	RequestID          string   `json:"requestId"`
	DurationMs         int64    `json:"durationMs"`
}
