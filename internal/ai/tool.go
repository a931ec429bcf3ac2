package ai

import (
	"context"
	"encoding/json"
)

// Tool is a named side-effect capability the model can invoke. Invoke may
// emit partial output parts while running; emit must be safe for concurrent
// use because tools run concurrently with each other and with generation.
type Tool interface {
	Name() string
	Definition() ToolDef
	Invoke(ctx context.Context, callID string, args json.RawMessage, emit func(Part)) (json.RawMessage, error)
}

// ToolSet is the runtime-selected capability set for one turn.
type ToolSet map[string]Tool

func (ts ToolSet) Definitions() []ToolDef {
	defs := make([]ToolDef, 0, len(ts))
	for _, t := range ts {
		defs = append(defs, t.Definition())
	}
	return defs
}
