package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cwygoda/extractd/internal/domain"
)

// Client implements domain.Extractor against a chat model.
type Client struct {
	cfg        Config
	httpClient *http.Client
	schema     *jsonschema.Schema
	log        *slog.Logger
}

// New builds a client for cfg. It fails when the provider is unknown or
// required credentials are missing.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	schema, err := compileSchema(fieldsSchema())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		schema:     schema,
		log:        logger,
	}, nil
}

// Name returns the provider-qualified backend name.
func (c *Client) Name() string {
	return "llm:" + c.cfg.Provider
}

// Extract asks the model for the document fields.
func (c *Client) Extract(ctx context.Context, text string) (domain.Fields, error) {
	rid := uuid.New().String()
	start := time.Now()
	c.log.Info("llm.extract.start",
		"req_id", rid,
		"provider", c.cfg.Provider,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(text),
	)

	content, err := c.complete(ctx, text)
	if err != nil {
		c.log.Error("llm.extract.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return domain.Fields{}, err
	}

	doc, err := decodeObject(content)
	if err != nil {
		c.log.Error("llm.extract.decode_error", "req_id", rid, "error", err, "content_len", len(content))
		return domain.Fields{}, err
	}

	// Validate strictly first.
	if err := validate(c.schema, doc); err != nil {
		dropped := sanitize(doc)
		if vErr := validate(c.schema, doc); vErr != nil {
			c.log.Error("llm.extract.schema_validation_failed", "req_id", rid, "error", vErr)
			return domain.Fields{}, fmt.Errorf("schema validation failed: %w", vErr)
		}
		c.log.Warn("llm.extract.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
	}

	fields, err := toFields(doc)
	if err != nil {
		return domain.Fields{}, err
	}
	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"doc_type", deref(fields.DocType),
		"currency", deref(fields.Currency),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return fields, nil
}

// complete sends the prompt to the configured provider and returns the raw
// assistant message.
func (c *Client) complete(ctx context.Context, text string) (string, error) {
	messages := []map[string]any{
		{"role": "system", "content": systemPrompt},
		{"role": "user", "content": buildUserPrompt(text)},
	}

	switch c.cfg.Provider {
	case ProviderOpenAI:
		body := map[string]any{
			"model":           c.cfg.Model,
			"temperature":     c.cfg.Temperature,
			"response_format": map[string]any{"type": "json_object"},
			"messages":        messages,
		}
		headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
		raw, err := sendJSON(ctx, c.httpClient, c.cfg.BaseURL+"/chat/completions", body, headers, c.log)
		if err != nil {
			return "", fmt.Errorf("openai: %w", err)
		}
		var cc struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(raw, &cc); err != nil {
			return "", fmt.Errorf("decode openai response: %w", err)
		}
		if len(cc.Choices) == 0 {
			return "", fmt.Errorf("no choices in openai response")
		}
		return strings.TrimSpace(cc.Choices[0].Message.Content), nil

	default:
		body := map[string]any{
			"model":    c.cfg.Model,
			"stream":   false,
			"format":   "json",
			"options":  map[string]any{"temperature": c.cfg.Temperature},
			"messages": messages,
		}
		raw, err := sendJSON(ctx, c.httpClient, c.cfg.BaseURL+"/api/chat", body, nil, c.log)
		if err != nil {
			return "", fmt.Errorf("ollama: %w", err)
		}
		var chat struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(raw, &chat); err != nil {
			return "", fmt.Errorf("decode ollama response: %w", err)
		}
		return strings.TrimSpace(chat.Message.Content), nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
