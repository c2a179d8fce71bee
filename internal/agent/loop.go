// Package agent runs the tool-augmented conversation for one community.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/communityagent/communityagent/internal/analytics"
	"github.com/communityagent/communityagent/internal/config"
	"github.com/communityagent/communityagent/internal/provider"
	"github.com/communityagent/communityagent/internal/store"
	"github.com/communityagent/communityagent/internal/tools"
	"github.com/google/uuid"
)

// MaxIterations caps the number of model calls in one run.
const MaxIterations = 5

// toolResultPreview is how much of each tool result is echoed back to callers.
const toolResultPreview = 200

var (
	// ErrMaxIterations is returned when the model still wants tools after MaxIterations calls.
	ErrMaxIterations = errors.New("max iterations reached")
	// ErrModelUnavailable wraps any failure talking to the model gateway.
	ErrModelUnavailable = errors.New("AI service unavailable")
	// ErrNoCommunity is returned when a run has no resolved community.
	ErrNoCommunity = errors.New("community is required")
	// ErrEmptyMessage is returned for blank user messages.
	ErrEmptyMessage = errors.New("message is required")
)

// ToolCallRecord is the caller-facing summary of one tool invocation.
type ToolCallRecord struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result"`
}

// RunRequest is one inbound message for a community.
type RunRequest struct {
	Community *store.Community
	Message   string
	History   []HistoryMessage
}

// RunResult is the outcome of a successful run.
type RunResult struct {
	Response   string           `json:"response"`
	ToolCalls  []ToolCallRecord `json:"tool_calls"`
	Model      string           `json:"model"`
	TokensUsed int              `json:"tokens_used"`
	Iterations int              `json:"iterations"`

	// Usage splits TokensUsed into prompt and completion tokens.
	Usage provider.Usage `json:"-"`
}

// ToolsUsed is the number of tool invocations in the run.
func (r *RunResult) ToolsUsed() int { return len(r.ToolCalls) }

// LoopOptions contains all parameters for creating a Loop.
type LoopOptions struct {
	Provider       provider.LLMProvider
	Embedder       provider.Embedder
	EmbeddingModel string
	Store          tools.DataStore
	Sink           analytics.Sink
	Model          config.ModelConfig
	Search         config.SearchConfig
	Scrape         config.ScrapeToolConfig
	ParallelTools  bool
	HTTPClient     *http.Client
	Now            func() time.Time
}

// Loop is the agent loop. It holds no per-run state and is safe for
// concurrent use.
type Loop struct {
	provider       provider.LLMProvider
	embedder       provider.Embedder
	embeddingModel string
	store          tools.DataStore
	sink           analytics.Sink
	model          config.ModelConfig
	search         config.SearchConfig
	scrape         config.ScrapeToolConfig
	parallelTools  bool
	httpClient     *http.Client
	now            func() time.Time
	contextBuilder *ContextBuilder
}

// NewLoop creates a new agent loop.
func NewLoop(opts LoopOptions) *Loop {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sink := opts.Sink
	if sink == nil {
		sink = analytics.Nop{}
	}
	return &Loop{
		provider:       opts.Provider,
		embedder:       opts.Embedder,
		embeddingModel: opts.EmbeddingModel,
		store:          opts.Store,
		sink:           sink,
		model:          opts.Model,
		search:         opts.Search,
		scrape:         opts.Scrape,
		parallelTools:  opts.ParallelTools,
		httpClient:     opts.HTTPClient,
		now:            now,
		contextBuilder: NewContextBuilder(now),
	}
}

// NewLoopFromConfig wires a Loop from the loaded configuration.
func NewLoopFromConfig(cfg *config.Config, prov provider.LLMProvider, emb provider.Embedder, st tools.DataStore, sink analytics.Sink) *Loop {
	return NewLoop(LoopOptions{
		Provider:       prov,
		Embedder:       emb,
		EmbeddingModel: cfg.Provider.EmbeddingModel,
		Store:          st,
		Sink:           sink,
		Model:          cfg.Model,
		Search:         cfg.Tools.Web.Search,
		Scrape:         cfg.Tools.Scrape,
		ParallelTools:  cfg.Agent.ParallelTools,
	})
}

// Run answers one message for a community, calling tools as the model asks,
// for at most MaxIterations model calls. Every run, failed or not, produces
// one usage record.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Community == nil {
		return nil, ErrNoCommunity
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if l.provider == nil {
		return nil, fmt.Errorf("%w: no model provider configured", ErrModelUnavailable)
	}

	c := req.Community
	started := l.now()
	model := l.modelFor(c)

	registry := tools.NewCommunityRegistry(tools.Deps{
		CommunityID:    c.ID,
		Store:          l.store,
		Embedder:       l.embedder,
		EmbeddingModel: l.embeddingModel,
		Search:         l.search,
		Scrape:         l.scrape,
		HTTPClient:     l.httpClient,
		Now:            l.now,
	}, c.Tools)
	definitions := registry.Definitions()

	systemPrompt := l.contextBuilder.BuildSystemPrompt(c, registry.Names())
	messages := l.contextBuilder.BuildMessages(systemPrompt, req.History, req.Message)

	result := &RunResult{Model: model, ToolCalls: []ToolCallRecord{}}
	for result.Iterations < MaxIterations {
		result.Iterations++

		resp, err := l.provider.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       definitions,
			Model:       model,
			MaxTokens:   l.model.MaxTokens,
			Temperature: l.model.Temperature,
		})
		if err != nil {
			slog.Error("Model call failed", "community", c.ID, "iteration", result.Iterations, "error", err)
			err = fmt.Errorf("%w: %w", ErrModelUnavailable, err)
			l.recordUsage(ctx, c, result, started, err)
			return nil, err
		}
		result.Usage.Add(resp.Usage)
		result.TokensUsed = result.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 {
			result.Response = resp.Content
			l.recordUsage(ctx, c, result, started, nil)
			return result, nil
		}

		calls := make([]provider.ToolCall, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			if tc.ID == "" {
				tc.ID = fmt.Sprintf("call_%d_%d", result.Iterations, i)
			}
			calls[i] = tc
		}
		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
		})

		outputs := l.executeTools(ctx, registry, calls)
		for i, tc := range calls {
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    outputs[i],
				ToolCallID: tc.ID,
			})
			result.ToolCalls = append(result.ToolCalls, ToolCallRecord{
				Tool:      tc.Name,
				Arguments: tc.Arguments,
				Result:    previewResult(outputs[i]),
			})
		}
	}

	slog.Warn("Agent hit iteration cap", "community", c.ID, "iterations", result.Iterations, "tools_used", len(result.ToolCalls))
	l.recordUsage(ctx, c, result, started, ErrMaxIterations)
	return nil, ErrMaxIterations
}

func (l *Loop) modelFor(c *store.Community) string {
	if m := strings.TrimSpace(c.Model); m != "" {
		return m
	}
	if m := strings.TrimSpace(l.model.Name); m != "" {
		return m
	}
	return l.provider.DefaultModel()
}

// executeTools runs one turn's calls and returns their outputs in call order.
func (l *Loop) executeTools(ctx context.Context, registry *tools.Registry, calls []provider.ToolCall) []string {
	outputs := make([]string, len(calls))
	if !l.parallelTools || len(calls) < 2 {
		for i, tc := range calls {
			outputs[i] = registry.Run(ctx, tc)
		}
		return outputs
	}

	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc provider.ToolCall) {
			defer wg.Done()
			outputs[i] = registry.Run(ctx, tc)
		}(i, tc)
	}
	wg.Wait()
	return outputs
}

// recordUsage hands the run to the analytics sink. Sink failures are logged
// and never change the run's outcome.
func (l *Loop) recordUsage(ctx context.Context, c *store.Community, result *RunResult, started time.Time, runErr error) {
	rec := analytics.UsageRecord{
		ID:               uuid.NewString(),
		CommunityID:      c.ID,
		Community:        c.Name,
		Model:            result.Model,
		TokensUsed:       result.TokensUsed,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		ToolCalls:        make([]analytics.ToolCallSummary, 0, len(result.ToolCalls)),
		Iterations:       result.Iterations,
		Status:           store.UsageCompleted,
		StartedAt:        started,
		FinishedAt:       l.now(),
	}
	for _, tc := range result.ToolCalls {
		rec.ToolCalls = append(rec.ToolCalls, analytics.ToolCallSummary{Tool: tc.Tool, Arguments: tc.Arguments, Result: tc.Result})
	}
	if runErr != nil {
		rec.Status = store.UsageFailed
		rec.Error = runErr.Error()
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := l.sink.Record(recCtx, rec); err != nil {
		slog.Warn("Failed to record usage", "community", c.ID, "error", err)
	}
}

func previewResult(s string) string {
	r := []rune(s)
	if len(r) <= toolResultPreview {
		return s
	}
	return string(r[:toolResultPreview]) + "..."
}
