package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Engine drives one generation turn: it streams model output, executes any
// requested tools, feeds their results back to the model, and repeats until
// the model stops calling tools or the step budget is exhausted. Hitting
// the budget is a normal stop condition, not an error.
type Engine struct {
	maxSteps int
}

func NewEngine(maxSteps int) *Engine {
	if maxSteps <= 0 || maxSteps > 20 {
		maxSteps = 5
	}
	return &Engine{maxSteps: maxSteps}
}

type GenerateRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    ToolSet
}

// Generate runs the turn against provider, pushing every produced part
// through emit as it arrives. It emits the final usage part exactly once,
// after which no further content parts are emitted. emit must be safe for
// concurrent use.
func (e *Engine) Generate(ctx context.Context, provider StreamProvider, req GenerateRequest, emit func(Part)) (Usage, error) {
	var total Usage
	msgs := append([]Message(nil), req.Messages...)
	defs := req.Tools.Definitions()

	for step := 0; step < e.maxSteps; step++ {
		events, errs := provider.StreamChat(ctx, ChatRequest{
			Model:    req.Model,
			System:   req.System,
			Messages: msgs,
			Tools:    defs,
		})

		var text strings.Builder
		var calls []ToolCall
		for ev := range events {
			switch ev.Type {
			case EventDelta:
				text.WriteString(ev.Delta)
				emit(Part{Type: PartTextDelta, Text: ev.Delta})
			case EventReasoning:
				emit(Part{Type: PartReasoningDelta, Text: ev.Delta})
			case EventToolCall:
				calls = append(calls, *ev.ToolCall)
			case EventUsage:
				total.Add(*ev.Usage)
			}
		}
		if err, ok := <-errs; ok && err != nil {
			return total, err
		}

		msgs = append(msgs, Message{Role: "assistant", Content: text.String(), ToolCalls: calls})
		if len(calls) == 0 {
			break
		}

		msgs = append(msgs, e.runTools(ctx, req.Tools, calls, emit)...)
	}

	emit(Part{Type: PartUsage, Usage: &total})
	return total, nil
}

// runTools executes the step's tool calls concurrently. A tool failure
// degrades to an error-carrying tool-result part; it never fails the turn.
func (e *Engine) runTools(ctx context.Context, tools ToolSet, calls []ToolCall, emit func(Part)) []Message {
	for _, call := range calls {
		emit(Part{Type: PartToolCall, ToolCallID: call.ID, ToolName: call.Name, Args: call.Args})
	}

	results := make([]Message, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, call := range calls {
		go func(i int, call ToolCall) {
			defer wg.Done()
			result, invokeErr := e.invoke(ctx, tools, call, emit)
			emit(Part{
				Type:       PartToolResult,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Result:     result,
				IsError:    invokeErr != nil,
			})
			results[i] = Message{Role: "tool", ToolCallID: call.ID, Content: string(result)}
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Engine) invoke(ctx context.Context, tools ToolSet, call ToolCall, emit func(Part)) (json.RawMessage, error) {
	tool, ok := tools[call.Name]
	if !ok {
		err := fmt.Errorf("unknown tool: %s", call.Name)
		return errPayload(err), err
	}
	result, err := tool.Invoke(ctx, call.ID, call.Args, emit)
	if err != nil {
		return errPayload(err), err
	}
	return result, nil
}

func errPayload(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
