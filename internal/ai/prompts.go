package ai

import (
	"fmt"
	"strings"
)

// RequestHints carry best-effort geolocation for the request origin. Any
// field may be empty.
type RequestHints struct {
	City      string
	Country   string
	Latitude  float64
	Longitude float64
}

const regularPrompt = "You are a friendly assistant! Keep your responses concise and helpful."

const reasoningModel = "chat-model-reasoning"

// IsReasoningModel reports whether the model runs without tools.
func IsReasoningModel(model string) bool {
	return model == reasoningModel
}

// SystemPrompt builds the system context for one turn.
func SystemPrompt(hints RequestHints) string {
	var b strings.Builder
	b.WriteString(regularPrompt)
	if hints.City == "" && hints.Country == "" && hints.Latitude == 0 && hints.Longitude == 0 {
		return b.String()
	}
	b.WriteString("\n\nAbout the origin of user's request:\n")
	if hints.Latitude != 0 || hints.Longitude != 0 {
		fmt.Fprintf(&b, "- lat: %v\n- lon: %v\n", hints.Latitude, hints.Longitude)
	}
	if hints.City != "" {
		fmt.Fprintf(&b, "- city: %s\n", hints.City)
	}
	if hints.Country != "" {
		fmt.Fprintf(&b, "- country: %s\n", hints.Country)
	}
	return b.String()
}

// TitlePrompt asks the model to summarize the first user message as a chat
// title.
func TitlePrompt() string {
	return strings.Join([]string{
		"- you will generate a short title based on the first message a user begins a conversation with",
		"- ensure it is not more than 80 characters long",
		"- the title should be a summary of the user's message",
		"- do not use quotes or colons",
	}, "\n")
}

// FallbackTitle derives a placeholder title from the first user message,
// used until the title job completes or when no worker is running.
func FallbackTitle(text string) string {
	text = strings.TrimSpace(strings.Join(strings.Fields(text), " "))
	if text == "" {
		return "New chat"
	}
	runes := []rune(text)
	if len(runes) > 80 {
		return string(runes[:77]) + "..."
	}
	return text
}
