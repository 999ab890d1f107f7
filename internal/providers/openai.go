package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/avast/retry-go/v4"

	"weft/internal/config"
	"weft/internal/logging"
	"weft/internal/services"
)

// openaiChat speaks the OpenAI chat completions dialect, which also covers
// DeepSeek and OpenRouter. Streaming is used whenever the caller wants
// progress; the final payload is always parsed from the assembled content,
// never from partial deltas.
type openaiChat struct {
	id        string
	baseURL   string
	apiKey    string
	transport *transport
	logger    *slog.Logger
}

func newOpenAIChat(id string, cfg config.Provider, logger *slog.Logger) *openaiChat {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &openaiChat{
		id:        id,
		baseURL:   strings.TrimSpace(cfg.BaseURL),
		apiKey:    cfg.APIKey(),
		transport: newTransport(cfg.TimeoutSeconds),
		logger:    logger.With(logging.String(logging.FieldProvider, id)),
	}
}

func (c *openaiChat) Name() string { return c.id }

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	Stream         bool              `json:"stream,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *openaiChat) Translate(ctx context.Context, req *Request) (*Result, error) {
	content, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseResult(content)
}

func (c *openaiChat) Advise(ctx context.Context, req *Request) (*Advice, error) {
	content, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseAdvice(content)
}

func (c *openaiChat) complete(ctx context.Context, req *Request) (string, error) {
	if err := checkRequest(c.apiKey, req); err != nil {
		return "", err
	}

	payload := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Text},
		},
		Temperature:    0,
		Stream:         req.OnProgress != nil,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var content string
	var err error
	if payload.Stream {
		content, err = c.streamCompletion(ctx, headers, payload, req.OnProgress)
	} else {
		content, err = c.completion(ctx, headers, payload)
	}
	if err != nil {
		return "", c.classify(err)
	}
	return content, nil
}

func (c *openaiChat) completion(ctx context.Context, headers map[string]string, payload chatRequest) (string, error) {
	body, err := c.transport.postJSON(ctx, c.baseURL, headers, payload)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty choices")
	}
	choice := parsed.Choices[0]
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return "", &rejectionError{Reason: refusal}
	}
	if isRefusalFinish(choice.FinishReason) {
		return "", &rejectionError{Reason: "finish_reason " + choice.FinishReason}
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		content = strings.TrimSpace(choice.Delta.Content)
	}
	if content == "" {
		return "", fmt.Errorf("empty content (finish_reason=%q)", choice.FinishReason)
	}
	return content, nil
}

// streamCompletion runs the SSE variant. The whole call is retried as a unit:
// a stream that dies mid-flight yields no partial result.
func (c *openaiChat) streamCompletion(ctx context.Context, headers map[string]string, payload chatRequest, onProgress func(Progress)) (string, error) {
	var content string
	err := retry.Do(
		func() error {
			var attemptErr error
			content, attemptErr = c.streamOnce(ctx, headers, payload, onProgress)
			return attemptErr
		},
		retry.Context(ctx),
		retry.Attempts(c.transport.attempts),
		retry.Delay(c.transport.baseDelay),
		retry.MaxDelay(c.transport.maxDelay),
		retry.DelayType(c.transport.delayType),
		retry.RetryIf(retryableError),
		retry.LastErrorOnly(true),
	)
	return content, err
}

func (c *openaiChat) streamOnce(ctx context.Context, headers map[string]string, payload chatRequest, onProgress func(Progress)) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(string(encoded)))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.transport.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return "", &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}

	var builder strings.Builder
	done := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			done = true
			break
		}
		var event chatResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if event.Error != nil {
			return "", fmt.Errorf("api error: %s", strings.TrimSpace(event.Error.Message))
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content != "" {
				builder.WriteString(choice.Delta.Content)
				if onProgress != nil {
					onProgress(Progress{Delta: choice.Delta.Content, Received: builder.Len()})
				}
			}
			if isRefusalFinish(choice.FinishReason) {
				return "", &rejectionError{Reason: "finish_reason " + choice.FinishReason}
			}
			if choice.FinishReason != "" {
				done = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	if !done {
		return "", errors.New("stream ended without completion")
	}
	content := strings.TrimSpace(builder.String())
	if content == "" {
		return "", errors.New("stream produced no content")
	}
	return content, nil
}

func (c *openaiChat) classify(err error) error {
	return classifyTransportError(c.id, err)
}

func isRefusalFinish(reason string) bool {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "content_filter", "refusal":
		return true
	}
	return false
}

// rejectionError marks a refusal or safety block. It is never retried.
type rejectionError struct {
	Reason string
}

func (e *rejectionError) Error() string {
	return "content rejected: " + e.Reason
}

func checkRequest(apiKey string, req *Request) error {
	if req == nil {
		return services.Wrap(services.ErrValidation, "translate", "request", "nil request", nil)
	}
	if strings.TrimSpace(req.Model) == "" {
		return services.Wrap(services.ErrValidation, "translate", "request", "model required", nil)
	}
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return services.Wrap(services.ErrValidation, "translate", "request", "system prompt required", nil)
	}
	if strings.TrimSpace(req.Text) == "" {
		return services.Wrap(services.ErrValidation, "translate", "request", "text required", nil)
	}
	if strings.TrimSpace(apiKey) == "" {
		return services.Wrap(services.ErrConfiguration, "translate", "request", "api key not set", nil)
	}
	return nil
}

// classifyTransportError maps adapter failures onto the service error
// taxonomy so the workflow can pick a terminal status.
func classifyTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var rejection *rejectionError
	if errors.As(err, &rejection) {
		return services.Wrap(services.ErrRejected, "translate", provider, "", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "translate", provider, "", err)
	}
	return services.Wrap(services.ErrProvider, "translate", provider, "", err)
}
