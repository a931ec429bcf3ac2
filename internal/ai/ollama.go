package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaMsg struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type ollamaChatReq struct {
	Model    string       `json:"model"`
	Messages []ollamaMsg  `json:"messages"`
	Stream   bool         `json:"stream"`
	Tools    []ollamaTool `json:"tools,omitempty"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Error   string    `json:"error,omitempty"`
}

type ollamaStreamResp struct {
	Message         ollamaMsg `json:"message"`
	Done            bool      `json:"done"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
	Error           string    `json:"error,omitempty"`
}

func (p *OllamaProvider) buildRequest(req ChatRequest, stream bool) ollamaChatReq {
	model := req.Model
	if model == "" {
		model = p.Model
	}
	out := ollamaChatReq{Model: model, Stream: stream}
	if req.System != "" {
		out.Messages = append(out.Messages, ollamaMsg{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		om := ollamaMsg{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Args
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out.Messages = append(out.Messages, om)
	}
	for _, t := range req.Tools {
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, ot)
	}
	return out
}

func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	b, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/chat", p.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama: status %d", resp.StatusCode)
	}

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Message.Content, nil
}

// StreamChat streams assistant events (content deltas, tool calls, usage).
// It returns immediately with two channels; both will be closed when
// streaming ends.
func (p *OllamaProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		if p.Client == nil {
			errs <- errors.New("ollama: http client is nil")
			return
		}

		b, err := json.Marshal(p.buildRequest(req, true))
		if err != nil {
			errs <- err
			return
		}

		url := fmt.Sprintf("%s/api/chat", p.BaseURL)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			errs <- err
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		// the request context bounds the stream; the client-wide timeout
		// would cut long streams short
		client := *p.Client
		client.Timeout = 0

		resp, err := client.Do(httpReq)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- fmt.Errorf("ollama: status %d", resp.StatusCode)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		// Increase scanner buffer for long JSON lines.
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		callSeq := 0
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != "" {
				errs <- errors.New(decoded.Error)
				return
			}

			if decoded.Message.Content != "" {
				events <- Event{Type: EventDelta, Delta: decoded.Message.Content}
			}
			for _, tc := range decoded.Message.ToolCalls {
				callSeq++
				events <- Event{Type: EventToolCall, ToolCall: &ToolCall{
					ID:   "call_" + strconv.Itoa(callSeq),
					Name: tc.Function.Name,
					Args: tc.Function.Arguments,
				}}
			}

			if decoded.Done {
				events <- Event{Type: EventUsage, Usage: &Usage{
					PromptTokens:     decoded.PromptEvalCount,
					CompletionTokens: decoded.EvalCount,
					TotalTokens:      decoded.PromptEvalCount + decoded.EvalCount,
				}}
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
			return
		}
	}()

	return events, errs
}
