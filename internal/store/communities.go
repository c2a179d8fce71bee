package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const communityColumns = `id, name, api_key, system_prompt, agent_enabled,
	tool_web_search, tool_search_memory, tool_search_chat_history, tool_save_memory,
	tool_get_member_profiles, tool_semantic_profile_search, tool_scrape_webpage,
	model, telegram_bot_token, created_at`

// NewAPIKey returns a random opaque tenant API key.
func NewAPIKey() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return "ca_" + hex.EncodeToString(b)
}

// CreateCommunity inserts a community. Missing ID and APIKey are generated.
func (s *Store) CreateCommunity(ctx context.Context, c *Community) (*Community, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("community name is required")
	}
	out := *c
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.APIKey == "" {
		out.APIKey = NewAPIKey()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO communities (`+communityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Name, out.APIKey, out.SystemPrompt, out.AgentEnabled,
		out.Tools.WebSearch, out.Tools.SearchMemory, out.Tools.SearchChatHistory, out.Tools.SaveMemory,
		out.Tools.GetMemberProfiles, out.Tools.SemanticProfileSearch, out.Tools.ScrapeWebpage,
		out.Model, out.TelegramBotToken, toMillis(out.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert community: %w", err)
	}
	return &out, nil
}

// UpdateCommunity rewrites every mutable column of an existing community.
func (s *Store) UpdateCommunity(ctx context.Context, c *Community) error {
	res, err := s.db.ExecContext(ctx, `UPDATE communities SET
		name = ?, api_key = ?, system_prompt = ?, agent_enabled = ?,
		tool_web_search = ?, tool_search_memory = ?, tool_search_chat_history = ?, tool_save_memory = ?,
		tool_get_member_profiles = ?, tool_semantic_profile_search = ?, tool_scrape_webpage = ?,
		model = ?, telegram_bot_token = ?
		WHERE id = ?`,
		c.Name, c.APIKey, c.SystemPrompt, c.AgentEnabled,
		c.Tools.WebSearch, c.Tools.SearchMemory, c.Tools.SearchChatHistory, c.Tools.SaveMemory,
		c.Tools.GetMemberProfiles, c.Tools.SemanticProfileSearch, c.Tools.ScrapeWebpage,
		c.Model, c.TelegramBotToken, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update community: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCommunity looks a community up by id.
func (s *Store) GetCommunity(ctx context.Context, id string) (*Community, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities WHERE id = ?`, id)
	return scanCommunity(row)
}

// GetCommunityByAPIKey resolves a caller-supplied API key to its community.
func (s *Store) GetCommunityByAPIKey(ctx context.Context, apiKey string) (*Community, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities WHERE api_key = ?`, apiKey)
	return scanCommunity(row)
}

// ListCommunities returns every community ordered by creation time.
func (s *Store) ListCommunities(ctx context.Context) ([]Community, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+communityColumns+` FROM communities ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// DeleteCommunity removes a community and, through foreign keys, its data.
func (s *Store) DeleteCommunity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM communities WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommunity(row rowScanner) (*Community, error) {
	var c Community
	var created int64
	err := row.Scan(&c.ID, &c.Name, &c.APIKey, &c.SystemPrompt, &c.AgentEnabled,
		&c.Tools.WebSearch, &c.Tools.SearchMemory, &c.Tools.SearchChatHistory, &c.Tools.SaveMemory,
		&c.Tools.GetMemberProfiles, &c.Tools.SemanticProfileSearch, &c.Tools.ScrapeWebpage,
		&c.Model, &c.TelegramBotToken, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	return &c, nil
}
