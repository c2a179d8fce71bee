// Package analytics records one usage record per agent run.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/communityagent/communityagent/internal/store"
)

// ToolCallSummary is the per-call part of a usage record.
type ToolCallSummary struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result"`
}

// UsageRecord describes one finished (or failed) agent run.
type UsageRecord struct {
	ID               string            `json:"id"`
	CommunityID      string            `json:"community_id"`
	Community        string            `json:"community"`
	Model            string            `json:"model"`
	TokensUsed       int               `json:"tokens_used"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
	ToolCalls        []ToolCallSummary `json:"tool_calls"`
	Iterations       int               `json:"iterations"`
	Status           string            `json:"status"`
	Error            string            `json:"error,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
}

// ToolsUsed is the number of tool invocations in the run.
func (r UsageRecord) ToolsUsed() int { return len(r.ToolCalls) }

// Sink receives usage records.
type Sink interface {
	Record(ctx context.Context, rec UsageRecord) error
}

// UsageWriter is the store capability StoreSink needs.
type UsageWriter interface {
	InsertUsage(ctx context.Context, r *store.UsageRecord) error
}

// StoreSink persists usage records in the usage_records table.
type StoreSink struct {
	store UsageWriter
}

func NewStoreSink(st UsageWriter) *StoreSink {
	return &StoreSink{store: st}
}

func (s *StoreSink) Record(ctx context.Context, rec UsageRecord) error {
	calls, err := json.Marshal(rec.ToolCalls)
	if err != nil {
		return err
	}
	status := rec.Status
	if status == "" {
		status = store.UsageCompleted
	}
	return s.store.InsertUsage(ctx, &store.UsageRecord{
		ID:          rec.ID,
		CommunityID: rec.CommunityID,
		Model:       rec.Model,
		TokensUsed:  rec.TokensUsed,
		ToolCalls:   string(calls),
		ToolsUsed:   rec.ToolsUsed(),
		Iterations:  rec.Iterations,
		Status:      status,
		ErrorText:   rec.Error,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
	})
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, rec UsageRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, UsageRecord) error { return nil }
