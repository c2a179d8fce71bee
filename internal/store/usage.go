package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Usage record statuses.
const (
	UsageCompleted = "completed"
	UsageFailed    = "failed"
)

// InsertUsage appends one usage record.
func (s *Store) InsertUsage(ctx context.Context, r *UsageRecord) error {
	rec := *r
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = UsageCompleted
	}
	if rec.ToolCalls == "" {
		rec.ToolCalls = "[]"
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, community_id, model, tokens_used, tool_calls, tools_used,
			iterations, status, error_text, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.CommunityID, rec.Model, rec.TokensUsed, rec.ToolCalls, rec.ToolsUsed,
		rec.Iterations, rec.Status, rec.ErrorText, toMillis(rec.StartedAt), toMillis(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// ListUsage returns up to limit records for the community, newest first.
func (s *Store) ListUsage(ctx context.Context, communityID string, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, community_id, model, tokens_used, tool_calls, tools_used, iterations,
			status, error_text, started_at, finished_at
		FROM usage_records
		WHERE community_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, communityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.CommunityID, &r.Model, &r.TokensUsed, &r.ToolCalls, &r.ToolsUsed,
			&r.Iterations, &r.Status, &r.ErrorText, &started, &finished); err != nil {
			return nil, err
		}
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromMillis(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SummarizeUsage aggregates all usage for a community since the given time.
func (s *Store) SummarizeUsage(ctx context.Context, communityID string, since time.Time) (UsageSummary, error) {
	var sum UsageSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(tools_used), 0)
		FROM usage_records
		WHERE community_id = ? AND started_at >= ?
	`, UsageFailed, communityID, toMillis(since)).Scan(&sum.Runs, &sum.Failed, &sum.TokensUsed, &sum.ToolsUsed)
	return sum, err
}
