package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"weft/internal/config"
	"weft/internal/logging"
)

const anthropicVersion = "2023-06-01"

// Structured output is requested through the prompt; the messages API has no
// json_object response format, so responses still go through ParseResult's
// fence stripping and schema validation.
const anthropicJSONReminder = "\n\nRespond with the JSON object only. No markdown, no commentary."

// anthropicMessages speaks the Anthropic messages API.
type anthropicMessages struct {
	id        string
	baseURL   string
	apiKey    string
	transport *transport
	logger    *slog.Logger
}

func newAnthropicMessages(id string, cfg config.Provider, logger *slog.Logger) *anthropicMessages {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &anthropicMessages{
		id:        id,
		baseURL:   strings.TrimSpace(cfg.BaseURL),
		apiKey:    cfg.APIKey(),
		transport: newTransport(cfg.TimeoutSeconds),
		logger:    logger.With(logging.String(logging.FieldProvider, id)),
	}
}

func (c *anthropicMessages) Name() string { return c.id }

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *anthropicMessages) Translate(ctx context.Context, req *Request) (*Result, error) {
	content, err := c.message(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseResult(content)
}

func (c *anthropicMessages) Advise(ctx context.Context, req *Request) (*Advice, error) {
	content, err := c.message(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseAdvice(content)
}

func (c *anthropicMessages) message(ctx context.Context, req *Request) (string, error) {
	if err := checkRequest(c.apiKey, req); err != nil {
		return "", err
	}

	payload := anthropicRequest{
		Model:  req.Model,
		System: req.SystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Text + anthropicJSONReminder},
		},
		MaxTokens: 8192,
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}

	body, err := c.transport.postJSON(ctx, c.baseURL, headers, payload)
	if err != nil {
		return "", classifyTransportError(c.id, err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", classifyTransportError(c.id, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return "", classifyTransportError(c.id, fmt.Errorf("api error (%s): %s", parsed.Error.Type, strings.TrimSpace(parsed.Error.Message)))
	}
	if parsed.StopReason == "refusal" {
		return "", classifyTransportError(c.id, &rejectionError{Reason: "stop_reason refusal"})
	}

	var builder strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(builder.String())
	if content == "" {
		return "", classifyTransportError(c.id, errors.New("empty content"))
	}
	if req.OnProgress != nil {
		req.OnProgress(Progress{Delta: content, Received: len(content)})
	}
	return content, nil
}
