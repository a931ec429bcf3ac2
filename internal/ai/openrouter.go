package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type openRouterMsg struct {
	Role       string               `json:"role"`
	Content    string               `json:"content"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolCalls  []openRouterToolCall `json:"tool_calls,omitempty"`
}

type openRouterToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openRouterTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type openRouterChatReq struct {
	Model         string           `json:"model"`
	Messages      []openRouterMsg  `json:"messages"`
	Stream        bool             `json:"stream"`
	Tools         []openRouterTool `json:"tools,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type openRouterUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message openRouterMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openRouterStreamResp struct {
	Choices []struct {
		Delta struct {
			Content   string               `json:"content"`
			Reasoning string               `json:"reasoning"`
			ToolCalls []openRouterToolCall `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *openRouterUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenRouterProvider) buildRequest(req ChatRequest, stream bool) (openRouterChatReq, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return openRouterChatReq{}, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(p.Model)
	}
	if model == "" {
		return openRouterChatReq{}, errors.New("openrouter: model is required")
	}

	out := openRouterChatReq{Model: model, Stream: stream}
	if stream {
		out.StreamOptions = &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true}
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openRouterMsg{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		om := openRouterMsg{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var otc openRouterToolCall
			otc.ID = tc.ID
			otc.Type = "function"
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(tc.Args)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out.Messages = append(out.Messages, om)
	}
	for _, t := range req.Tools {
		var ot openRouterTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, ot)
	}
	return out, nil
}

func (p *OpenRouterProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}
	return req, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("openrouter: %s", msg)
}

func (p *OpenRouterProvider) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if p.Client == nil {
		return "", errors.New("openrouter: http client is nil")
	}

	reqBody, err := p.buildRequest(req, false)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	httpReq, err := p.newHTTPRequest(ctx, b)
	if err != nil {
		return "", err
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", readAPIError(resp)
	}

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openrouter: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// StreamChat streams assistant events via SSE. Tool-call argument fragments
// are accumulated per call index and flushed as complete tool calls before
// the stream ends.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		if p.Client == nil {
			errs <- errors.New("openrouter: http client is nil")
			return
		}

		reqBody, err := p.buildRequest(req, true)
		if err != nil {
			errs <- err
			return
		}
		b, err := json.Marshal(reqBody)
		if err != nil {
			errs <- err
			return
		}

		httpReq, err := p.newHTTPRequest(ctx, b)
		if err != nil {
			errs <- err
			return
		}

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
			errs <- readAPIError(resp)
			return
		}

		// tool calls arrive as argument fragments keyed by index
		type pendingCall struct {
			id   string
			name string
			args strings.Builder
		}
		pending := map[int]*pendingCall{}
		order := []int{}
		flushCalls := func() {
			for _, idx := range order {
				pc := pending[idx]
				events <- Event{Type: EventToolCall, ToolCall: &ToolCall{
					ID:   pc.id,
					Name: pc.name,
					Args: json.RawMessage(pc.args.String()),
				}}
			}
			pending = map[int]*pendingCall{}
			order = nil
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				flushCalls()
				return
			}
			var decoded openRouterStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- errors.New(decoded.Error.Message)
				return
			}
			if decoded.Usage != nil {
				events <- Event{Type: EventUsage, Usage: &Usage{
					PromptTokens:     decoded.Usage.PromptTokens,
					CompletionTokens: decoded.Usage.CompletionTokens,
					TotalTokens:      decoded.Usage.TotalTokens,
				}}
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			delta := decoded.Choices[0].Delta
			if delta.Content != "" {
				events <- Event{Type: EventDelta, Delta: delta.Content}
			}
			if delta.Reasoning != "" {
				events <- Event{Type: EventReasoning, Delta: delta.Reasoning}
			}
			for _, tc := range delta.ToolCalls {
				pc, ok := pending[tc.Index]
				if !ok {
					pc = &pendingCall{}
					pending[tc.Index] = pc
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args.WriteString(tc.Function.Arguments)
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
			return
		}
		flushCalls()
	}()

	return events, errs
}
