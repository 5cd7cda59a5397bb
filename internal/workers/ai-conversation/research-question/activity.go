package researchquestion

import (
	"research-agent/internal/common/errors"
	"research-agent/pkg/registry"
)

// Activity describes the research-question job type for process modellers.
func (h *Handler) Activity() (registry.Activity, error) {
	in, err := registry.SchemaMap(inputSchemaJSON)
	if err != nil {
		return registry.Activity{}, err
	}
	out, err := registry.SchemaMap(outputSchemaJSON)
	if err != nil {
		return registry.Activity{}, err
	}
	return registry.Activity{
		ID:           "ai-conversation." + TaskType,
		DisplayName:  "Research Question",
		Description:  "Answers a question from Google, Bing and Reddit and synthesizes the findings",
		Category:     "ai-conversation",
		TaskType:     TaskType,
		InputSchema:  in,
		OutputSchema: out,
		ErrorCodes: []string{
			errors.BPMNErrorMapping[errors.ErrCodeInvalidQuery],
			errors.BPMNErrorMapping[errors.ErrCodeResearchFailed],
			errors.BPMNErrorMapping[errors.ErrCodeTimeout],
		},
		Timeout:      h.config.Timeout.String(),
		Retries:      h.config.MaxRetries,
		Tags:         []string{"research", "llm", "brightdata"},
	}, nil
}
