// Package tools implements the side-effect capabilities the model can
// invoke during a turn. Each tool is a closed, named variant behind the
// ai.Tool interface; the active set for a turn is selected by the
// orchestrator, not by reflection.
package tools

import "github.com/loomchat/loomchat/internal/ai"

const (
	NameGetWeather         = "getWeather"
	NameCreateDocument     = "createDocument"
	NameUpdateDocument     = "updateDocument"
	NameRequestSuggestions = "requestSuggestions"
)

// DefaultSet builds the full capability set. provider backs the tools that
// generate content themselves.
func DefaultSet(provider ai.Provider) ai.ToolSet {
	ts := ai.ToolSet{}
	for _, t := range []ai.Tool{
		NewGetWeather(),
		NewCreateDocument(provider),
		NewUpdateDocument(provider),
		NewRequestSuggestions(provider),
	} {
		ts[t.Name()] = t
	}
	return ts
}
