package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MemorySourceAgent marks entries written by the agent's save_memory tool.
const MemorySourceAgent = "ai_agent"

// InsertMemory stores one knowledge entry and returns it with id and timestamp filled.
func (s *Store) InsertMemory(ctx context.Context, m *Memory) (*Memory, error) {
	out := *m
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.Source == "" {
		out.Source = "manual"
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	tags, err := json.Marshal(out.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, community_id, content, tags, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, out.ID, out.CommunityID, out.Content, string(tags), out.Source, toMillis(out.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	return &out, nil
}

// RecentMemories returns up to limit entries for the community, newest first.
func (s *Store) RecentMemories(ctx context.Context, communityID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, community_id, content, tags, source, created_at
		FROM memories
		WHERE community_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, communityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var tags string
		var created int64
		if err := rows.Scan(&m.ID, &m.CommunityID, &m.Content, &tags, &m.Source, &created); err != nil {
			return nil, err
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
				slog.Warn("Ignoring undecodable memory tags", "memory", m.ID, "error", err)
				m.Tags = []string{}
			}
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMemories returns the number of entries for a community.
func (s *Store) CountMemories(ctx context.Context, communityID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE community_id = ?`, communityID).Scan(&n)
	return n, err
}
