package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultChatModel is used when neither the tenant nor the config names a model.
const DefaultChatModel = "google/gemini-2.5-flash"

// DefaultEmbeddingModel is used when the embedding request names no model.
const DefaultEmbeddingModel = "text-embedding-3-small"

const (
	defaultRetries    = 1
	defaultRetryDelay = 750 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
	maxErrorBody      = 512
)

// APIError is a non-200 answer from the gateway.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API error (status %d): %s", e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// OpenAIProvider implements LLMProvider and Embedder against an
// OpenAI-compatible gateway (OpenRouter, OpenAI, or a self-hosted proxy).
type OpenAIProvider struct {
	apiKey         string
	apiBase        string
	defaultModel   string
	embeddingModel string
	appName        string
	retries        int
	retryDelay     time.Duration
	httpClient     *http.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if defaultModel == "" {
		defaultModel = DefaultChatModel
	}
	return &OpenAIProvider{
		apiKey:         apiKey,
		apiBase:        strings.TrimSuffix(apiBase, "/"),
		defaultModel:   defaultModel,
		embeddingModel: DefaultEmbeddingModel,
		appName:        "communityagent",
		retries:        defaultRetries,
		retryDelay:     defaultRetryDelay,
		httpClient:     &http.Client{Timeout: 120 * time.Second},
	}
}

// WithEmbeddingModel overrides the model used by Embed when the request names none.
func (p *OpenAIProvider) WithEmbeddingModel(model string) *OpenAIProvider {
	if strings.TrimSpace(model) != "" {
		p.embeddingModel = model
	}
	return p
}

// WithHTTPClient replaces the HTTP client.
func (p *OpenAIProvider) WithHTTPClient(c *http.Client) *OpenAIProvider {
	if c != nil {
		p.httpClient = c
	}
	return p
}

// WithRetry sets how often a 429 or 5xx answer is retried and the base delay.
func (p *OpenAIProvider) WithRetry(retries int, delay time.Duration) *OpenAIProvider {
	if retries >= 0 {
		p.retries = retries
	}
	if delay > 0 {
		p.retryDelay = delay
	}
	return p
}

func (p *OpenAIProvider) DefaultModel() string {
	return p.defaultModel
}

// Wire types for /chat/completions.
type (
	chatCompletionRequest struct {
		Model       string           `json:"model"`
		Messages    []wireMessage    `json:"messages"`
		MaxTokens   int              `json:"max_tokens,omitempty"`
		Temperature float64          `json:"temperature"`
		Tools       []ToolDefinition `json:"tools,omitempty"`
		ToolChoice  string           `json:"tool_choice,omitempty"`
	}

	wireMessage struct {
		Role       string         `json:"role"`
		Content    string         `json:"content"`
		ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
		ToolCallID string         `json:"tool_call_id,omitempty"`
	}

	wireToolCall struct {
		ID       string       `json:"id"`
		Type     string       `json:"type"`
		Function wireFunction `json:"function"`
	}

	wireFunction struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}

	chatCompletionResponse struct {
		Choices []struct {
			Message      wireMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
)

// Chat sends one completion request. Tools, when present, are offered with
// tool_choice "auto".
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := chatCompletionRequest{
		Model:       req.Model,
		Messages:    toWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.Model == "" {
		body.Model = p.defaultModel
	}
	if len(req.Tools) > 0 {
		body.Tools = req.Tools
		body.ToolChoice = "auto"
	}

	var out chatCompletionResponse
	if err := p.post(ctx, "/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("chat completions: no choices in response")
	}

	choice := out.Choices[0]
	resp := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        out.Usage,
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return resp, nil
}

// Embed returns the embedding vector for req.Input.
func (p *OpenAIProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = p.embeddingModel
	}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Usage Usage `json:"usage"`
	}
	body := map[string]string{"model": model, "input": req.Input}
	if err := p.post(ctx, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("embeddings: no embedding data in response")
	}
	return &EmbeddingResponse{Vector: out.Data[0].Embedding, Usage: out.Usage}, nil
}

// post sends body as JSON to endpoint and decodes a 200 answer into out,
// retrying retryable failures.
func (p *OpenAIProvider) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", endpoint, err)
	}

	for attempt := 0; ; attempt++ {
		err = p.postOnce(ctx, endpoint, payload, out)
		var apiErr *APIError
		if err == nil || !errors.As(err, &apiErr) || !apiErr.Retryable() || attempt >= p.retries {
			return err
		}
		delay := p.retryDelay * time.Duration(attempt+1)
		if apiErr.retryAfter > 0 {
			delay = apiErr.retryAfter
		}
		delay = min(delay, maxRetryDelay)
		slog.Warn("Model gateway request failed, retrying", "endpoint", endpoint, "status", apiErr.StatusCode, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (p *OpenAIProvider) postOnce(ctx context.Context, endpoint string, payload []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	// OpenRouter attribution; other gateways ignore it.
	httpReq.Header.Set("X-Title", p.appName)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: execute request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody] + "..."
		}
		return &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       text,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", endpoint, err)
	}
	return nil
}

func toWireMessages(msgs []Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil || tc.Arguments == nil {
				args = []byte("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: string(args)},
			})
		}
		out[i] = wm
	}
	return out
}

// decodeArguments parses a tool call's JSON arguments. Unparseable input is
// kept under "raw" so the tool can report it.
func decodeArguments(s string) map[string]any {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil || args == nil {
		return map[string]any{"raw": s}
	}
	return args
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
