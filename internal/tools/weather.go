package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomchat/loomchat/internal/ai"
)

// GetWeather fetches current conditions for a coordinate from Open-Meteo.
type GetWeather struct {
	BaseURL string
	Client  *http.Client
}

func NewGetWeather() *GetWeather {
	return &GetWeather{
		BaseURL: "https://api.open-meteo.com",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *GetWeather) Name() string { return NameGetWeather }

func (t *GetWeather) Definition() ai.ToolDef {
	return ai.ToolDef{
		Name:        NameGetWeather,
		Description: "Get the current weather at a location",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"latitude": {"type": "number"},
				"longitude": {"type": "number"}
			},
			"required": ["latitude", "longitude"]
		}`),
	}
}

type weatherArgs struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (t *GetWeather) Invoke(ctx context.Context, callID string, args json.RawMessage, emit func(ai.Part)) (json.RawMessage, error) {
	var a weatherArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("getWeather: bad args: %w", err)
	}

	url := fmt.Sprintf(
		"%s/v1/forecast?latitude=%v&longitude=%v&current=temperature_2m&hourly=temperature_2m&daily=sunrise,sunset&timezone=auto",
		t.BaseURL, a.Latitude, a.Longitude,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("getWeather: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("getWeather: invalid response body")
	}
	return body, nil
}
