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

// geminiGenerate speaks the Gemini generateContent API. Safety thresholds are
// relaxed to the minimum the API allows; fiction routinely trips the default
// filters and a blocked chapter must surface as a rejection, not a retry loop.
type geminiGenerate struct {
	id        string
	baseURL   string
	apiKey    string
	transport *transport
	logger    *slog.Logger
}

func newGeminiGenerate(id string, cfg config.Provider, logger *slog.Logger) *geminiGenerate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &geminiGenerate{
		id:        id,
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:    cfg.APIKey(),
		transport: newTransport(cfg.TimeoutSeconds),
		logger:    logger.With(logging.String(logging.FieldProvider, id)),
	}
}

func (c *geminiGenerate) Name() string { return c.id }

type geminiRequest struct {
	SystemInstruction *geminiContent        `json:"systemInstruction,omitempty"`
	Contents          []geminiContent       `json:"contents"`
	GenerationConfig  geminiGenConfig       `json:"generationConfig"`
	SafetySettings    []geminiSafetySetting `json:"safetySettings,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMIMEType string  `json:"responseMimeType"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

var geminiSafetyOff = []geminiSafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

func (c *geminiGenerate) Translate(ctx context.Context, req *Request) (*Result, error) {
	content, err := c.generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseResult(content)
}

func (c *geminiGenerate) Advise(ctx context.Context, req *Request) (*Advice, error) {
	content, err := c.generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseAdvice(content)
}

func (c *geminiGenerate) generate(ctx context.Context, req *Request) (string, error) {
	if err := checkRequest(c.apiKey, req); err != nil {
		return "", err
	}

	payload := geminiRequest{
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Text}}},
		},
		GenerationConfig: geminiGenConfig{
			Temperature:      0,
			ResponseMIMEType: "application/json",
		},
		SafetySettings: geminiSafetyOff,
	}
	endpoint := fmt.Sprintf("%s/%s:generateContent", c.baseURL, req.Model)
	headers := map[string]string{"x-goog-api-key": c.apiKey}

	body, err := c.transport.postJSON(ctx, endpoint, headers, payload)
	if err != nil {
		return "", classifyTransportError(c.id, err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", classifyTransportError(c.id, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return "", classifyTransportError(c.id, fmt.Errorf("api error (%s): %s", parsed.Error.Status, strings.TrimSpace(parsed.Error.Message)))
	}
	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return "", classifyTransportError(c.id, &rejectionError{Reason: "prompt blocked: " + parsed.PromptFeedback.BlockReason})
	}
	if len(parsed.Candidates) == 0 {
		return "", classifyTransportError(c.id, errors.New("no candidates"))
	}

	candidate := parsed.Candidates[0]
	switch strings.ToUpper(strings.TrimSpace(candidate.FinishReason)) {
	case "", "STOP":
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "", classifyTransportError(c.id, &rejectionError{Reason: "finish reason " + candidate.FinishReason})
	default:
		return "", classifyTransportError(c.id, fmt.Errorf("incomplete response (finish reason %s)", candidate.FinishReason))
	}

	var builder strings.Builder
	for _, part := range candidate.Content.Parts {
		builder.WriteString(part.Text)
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
