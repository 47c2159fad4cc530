package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var _ Generator = new(HTTPGenerator)

type HTTPGeneratorConfig struct {
	URL     string
	Model   string
	APIKey  string
	RPS     float64
	Timeout time.Duration
}

// HTTPGenerator calls an OpenAI compatible chat completions endpoint.
type HTTPGenerator struct {
	conf    HTTPGeneratorConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPGenerator(conf HTTPGeneratorConfig) *HTTPGenerator {
	if conf.Timeout == 0 {
		conf.Timeout = 2 * time.Minute
	}
	limit := rate.Inf
	if conf.RPS > 0 {
		limit = rate.Limit(conf.RPS)
	}
	return &HTTPGenerator{
		conf:    conf,
		client:  &http.Client{Timeout: conf.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt string, vars map[string]any) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	body, err := json.Marshal(chatRequest{
		Model: g.conf.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are one agent in a multi agent software delivery workflow. Answer in markdown."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.conf.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.conf.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.conf.APIKey)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling generator: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading generator response: %w", err)
	}
	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decoding generator response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("generator returned %d: %s", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("generator returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
