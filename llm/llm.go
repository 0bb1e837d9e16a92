// Package llm turns an analysis summary into a structured treatment report using a
// local or hosted language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	ErrMissingCredential   = errors.New("missing API key")
	ErrInvalidReport       = errors.New("invalid report")
	ErrUnsupportedProvider = errors.New("unsupported LLM provider")
	ErrNoAnalysis          = errors.New("no analysis data provided")
)

type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderGroq   Provider = "groq"
	ProviderGemini Provider = "gemini"
)

// Info describes one selectable language model.
type Info struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Provider    Provider `json:"provider" yaml:"provider"`
	Type        string   `json:"type" yaml:"type"`
	Model       string   `json:"model" yaml:"model"`
	BaseURL     string   `json:"base_url,omitempty" yaml:"baseUrl"`
	APIKeyEnv   string   `json:"api_key_env,omitempty" yaml:"apiKeyEnv"`
	Description string   `json:"description" yaml:"description"`
}

func (i Info) DescriptorID() string { return i.ID }

// IsEnabled is always true; every configured model can be selected.
func (i Info) IsEnabled() bool { return true }

// DefaultCatalog is used when the configuration lists no models.
func DefaultCatalog() []Info {
	return []Info{
		{
			ID:          "ollama-llama3",
			Name:        "Ollama (Local)",
			Provider:    ProviderOllama,
			Type:        "local",
			Model:       "qwen2.5:0.5b",
			BaseURL:     "http://localhost:11434",
			Description: "Local LLM using Ollama. No internet required.",
		},
		{
			ID:          "groq-llama3",
			Name:        "Groq (Online API)",
			Provider:    ProviderGroq,
			Type:        "online",
			Model:       "llama-3.3-70b-versatile",
			BaseURL:     "https://api.groq.com/openai/v1",
			APIKeyEnv:   "GROQ_API_KEY",
			Description: "Fast online LLM using Groq API.",
		},
		{
			ID:          "gemini-flash",
			Name:        "Google Gemini (Online API)",
			Provider:    ProviderGemini,
			Type:        "online",
			Model:       "gemini-2.5-flash",
			APIKeyEnv:   "GEMINI_API_KEY",
			Description: "Fast online LLM using Google Gemini API.",
		},
	}
}

// Generator sends one system/user prompt pair and returns the raw JSON text the model wrote.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type Options struct {
	LocalTimeout  time.Duration `yaml:"localTimeout"`
	OnlineTimeout time.Duration `yaml:"onlineTimeout"`
}

func (o Options) withDefaults() Options {
	if o.LocalTimeout <= 0 {
		o.LocalTimeout = 120 * time.Second
	}
	if o.OnlineTimeout <= 0 {
		o.OnlineTimeout = 30 * time.Second
	}
	return o
}

// NewGenerator builds the client for info. Hosted providers fail with ErrMissingCredential
// when their API key variable is unset.
func NewGenerator(info Info, opts Options) (Generator, error) {
	opts = opts.withDefaults()
	switch info.Provider {
	case ProviderOllama:
		return newOllama(info, opts.LocalTimeout), nil
	case ProviderGroq:
		key, err := apiKey(info)
		if err != nil {
			return nil, err
		}
		return newGroq(info, key, opts.OnlineTimeout), nil
	case ProviderGemini:
		key, err := apiKey(info)
		if err != nil {
			return nil, err
		}
		return &gemini{info: info, key: key, timeout: opts.OnlineTimeout}, nil
	default:
		return nil, fmt.Errorf("%w: %q (model %s)", ErrUnsupportedProvider, info.Provider, info.ID)
	}
}

func apiKey(info Info) (string, error) {
	if info.APIKeyEnv == "" {
		return "", fmt.Errorf("%w for %s: no api key variable configured", ErrMissingCredential, info.Name)
	}
	key := os.Getenv(info.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w for %s: please set %s in .env", ErrMissingCredential, info.Name, info.APIKeyEnv)
	}
	return key, nil
}
