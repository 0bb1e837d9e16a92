package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// groq speaks the OpenAI chat completions protocol.
type groq struct {
	info   Info
	client *resty.Client
}

func newGroq(info Info, key string, timeout time.Duration) *groq {
	base := strings.TrimSuffix(info.BaseURL, "/")
	if base == "" {
		base = "https://api.groq.com/openai/v1"
	}
	return &groq{
		info: info,
		client: resty.New().
			SetBaseURL(base).
			SetTimeout(timeout).
			SetAuthToken(key),
	}
}

func (g *groq) Generate(ctx context.Context, system, prompt string) (string, error) {
	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model": g.info.Model,
			"messages": []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: prompt},
			},
			"response_format": map[string]string{"type": "json_object"},
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("failed to generate report with Groq: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to generate report with Groq: %s: %s", resp.Status(), resp.String())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("failed to generate report with Groq: no choices returned")
	}
	return out.Choices[0].Message.Content, nil
}
