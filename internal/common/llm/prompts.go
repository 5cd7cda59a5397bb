package llm

import (
	"fmt"
	"strings"

	"research-agent/internal/models"
)

const summarizeSystem = "You are a research analyst. Extract the facts, opinions and recommendations " +
	"from one information source that help answer the user's question. Be concise and specific. " +
	"Do not invent information that is not in the source."

const synthesizeSystem = "You are a research assistant. Combine several source analyses into one " +
	"clear, well-organized answer. Prefer points confirmed by multiple sources, note disagreements, " +
	"and say plainly when the available information is insufficient."

const selectSystem = "You select online discussion threads worth reading in full. " +
	"Reply with a JSON object of the form {\"selected_urls\": [\"...\"]} listing at most 3 URLs " +
	"copied exactly from the list, most relevant first. Reply {\"selected_urls\": []} if none are relevant."

func summarizePrompt(question, sourceText string) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("User Question: %s", question))
	parts = append(parts, "\nSource Data:")
	parts = append(parts, sourceText)
	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Keep only what is relevant to the question")
	parts = append(parts, "- Mention concrete names, numbers and links where the source gives them")
	parts = append(parts, "- If nothing in the source is relevant, say so in one sentence")
	return strings.Join(parts, "\n")
}

func synthesizePrompt(question string, analyses []models.AnalysisResult) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("User Question: %s", question))
	for _, a := range analyses {
		parts = append(parts, fmt.Sprintf("\n%s Analysis:", a.Source.Title()))
		parts = append(parts, a.Text)
	}
	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Answer the question directly first, then give supporting detail")
	parts = append(parts, "- Attribute claims to the source they came from")
	parts = append(parts, "- Ignore sources marked as unavailable")
	parts = append(parts, "\nAnswer:")
	return strings.Join(parts, "\n")
}

func selectPrompt(question, corpus string) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("User Question: %s", question))
	parts = append(parts, "\nDiscussion Threads:")
	parts = append(parts, corpus)
	parts = append(parts, "\nReturn the JSON object now.")
	return strings.Join(parts, "\n")
}
