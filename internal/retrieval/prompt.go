package retrieval

import (
	"fmt"
	"strings"

	"wprag/internal/vector"
)

// SystemInstruction is sent to the generator alongside every prompt.
const SystemInstruction = "You are a helpful assistant. Answer in the same language as the user's question. " +
	"Use the provided context only when relevant. If unknown, say you don't know."

// BuildPrompt lays out the question followed by one numbered snippet per
// match. An empty language ends the prompt with a plain "Answer:".
func BuildPrompt(question string, matches []vector.Match, language string) string {
	lines := []string{
		"You will answer the user's question using the provided context snippets.",
		"If the context does not contain the answer, say you don't know.",
		"",
		"Question:",
		strings.TrimSpace(question),
		"",
		"Context snippets:",
	}
	for i, m := range matches {
		lines = append(lines, fmt.Sprintf("\n[%d] Title: %s\nURL: %s\nSnippet:\n%s", i+1, m.Metadata.Title, m.Metadata.URL, m.Text))
	}

	if language = strings.TrimSpace(language); language != "" {
		lines = append(lines, "\nAnswer in "+language+":")
	} else {
		lines = append(lines, "\nAnswer:")
	}
	return strings.Join(lines, "\n")
}
