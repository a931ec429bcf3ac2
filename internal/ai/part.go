package ai

import "encoding/json"

// Part types emitted into a turn's output stream and stored on messages.
const (
	PartText           = "text"
	PartTextDelta      = "text-delta"
	PartReasoningDelta = "reasoning-delta"
	PartToolCall       = "tool-call"
	PartToolDelta      = "tool-delta"
	PartToolResult     = "tool-result"
	PartUsage          = "usage"
	PartError          = "error"
	PartFinish         = "finish"
)

// Part is a tagged content segment. The tag selects which fields are set;
// unset fields are omitted on the wire and in storage.
type Part struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// CoalesceParts folds a stream of emitted parts into the persisted form of
// an assistant message: consecutive text deltas merge into single text
// parts, tool parts are kept, transient parts (usage, finish, deltas that
// merged) are dropped.
func CoalesceParts(streamed []Part) []Part {
	var out []Part
	var text string
	flush := func() {
		if text != "" {
			out = append(out, Part{Type: PartText, Text: text})
			text = ""
		}
	}
	for _, p := range streamed {
		switch p.Type {
		case PartTextDelta:
			text += p.Text
		case PartToolCall, PartToolResult:
			flush()
			out = append(out, p)
		case PartReasoningDelta, PartToolDelta, PartUsage, PartError, PartFinish:
			// not part of the durable message body
		default:
			flush()
			out = append(out, p)
		}
	}
	flush()
	return out
}

// TextOf concatenates the text content of a part sequence.
func TextOf(parts []Part) string {
	var s string
	for _, p := range parts {
		if p.Type == PartText || p.Type == PartTextDelta {
			s += p.Text
		}
	}
	return s
}
