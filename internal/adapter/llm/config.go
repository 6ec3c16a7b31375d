// Package llm implements the external extraction backend on top of a chat
// model served by Ollama or an OpenAI-compatible API.
package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3"
	defaultOpenAIURL   = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultTimeout     = 45 * time.Second
)

// ErrMissingAPIKey is returned when the OpenAI provider has no key.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")

// Config selects and parameterises the model provider.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// withDefaults fills unset fields with the provider defaults.
func (c Config) withDefaults() (Config, error) {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	switch c.Provider {
	case ProviderOllama:
		if c.BaseURL == "" {
			c.BaseURL = defaultOllamaURL
		}
		if c.Model == "" {
			c.Model = defaultOllamaModel
		}
	case ProviderOpenAI:
		if c.APIKey == "" {
			return c, ErrMissingAPIKey
		}
		if c.BaseURL == "" {
			c.BaseURL = defaultOpenAIURL
		}
		if c.Model == "" {
			c.Model = defaultOpenAIModel
		}
	default:
		return c, fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c, nil
}
