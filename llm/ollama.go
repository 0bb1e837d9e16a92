package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollama struct {
	info   Info
	client *resty.Client
}

func newOllama(info Info, timeout time.Duration) *ollama {
	base := strings.TrimSuffix(info.BaseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	return &ollama{
		info:   info,
		client: resty.New().SetBaseURL(base).SetTimeout(timeout),
	}
}

func (o *ollama) Generate(ctx context.Context, system, prompt string) (string, error) {
	var out struct {
		Message chatMessage `json:"message"`
	}
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model": o.info.Model,
			"messages": []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: prompt},
			},
			"stream": false,
			"format": "json",
		}).
		SetResult(&out).
		Post("/api/chat")
	if err != nil {
		return "", fmt.Errorf("failed to generate report with Ollama: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to generate report with Ollama: %s: %s", resp.Status(), resp.String())
	}
	return out.Message.Content, nil
}
