package researchquestion

import "research-agent/internal/common/validation"

const inputSchemaJSON = `{
	"type": "object",
	"required": ["question"],
	"properties": {
		"question": {"type": "string", "minLength": 1, "maxLength": 2000}
	}
}`

const outputSchemaJSON = `{
	"type": "object",
	"required": ["answer", "sources", "unavailableSources", "requestId"],
	"properties": {
		"answer": {"type": "string"},
		"sources": {"type": "array", "items": {"type": "string"}},
		"unavailableSources": {"type": "array", "items": {"type": "string"}},
		"selectedUrls": {"type": "array", "items": {"type": "string"}},
		"selectionReason": {"type": "string"},
		"requestId": {"type": "string"},
		"durationMs": {"type": "integer"}
	}
}`

var inputSchema = validation.MustCompile(inputSchemaJSON)
