package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/communityagent/communityagent/internal/store"
)

const (
	memoryListLimit  = 50
	chatHistoryLimit = 50
)

// SearchMemoryTool lists the community's most recent knowledge entries.
type SearchMemoryTool struct {
	store       DataStore
	communityID string
}

func NewSearchMemoryTool(st DataStore, communityID string) *SearchMemoryTool {
	return &SearchMemoryTool{store: st, communityID: communityID}
}

func (t *SearchMemoryTool) Name() string { return string(SearchMemory) }
func (t *SearchMemoryTool) Description() string {
	return "Read the community knowledge base: the most recent saved memories with their dates and tags."
}
func (t *SearchMemoryTool) Tier() int { return TierReadOnly }

func (t *SearchMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *SearchMemoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.store == nil {
		return "Memory store is not available.", nil
	}
	mems, err := t.store.RecentMemories(ctx, t.communityID, memoryListLimit)
	if err != nil {
		return fmt.Sprintf("Error reading memories: %v", err), nil
	}
	if len(mems) == 0 {
		return "No memories stored for this community yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Community knowledge base (%d entries):\n", len(mems))
	for _, m := range mems {
		fmt.Fprintf(&sb, "- [%s] %s", m.CreatedAt.Format("2006-01-02"), m.Content)
		if len(m.Tags) > 0 {
			fmt.Fprintf(&sb, " (tags: %s)", strings.Join(m.Tags, ", "))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// SaveMemoryTool writes one knowledge entry on the agent's behalf.
type SaveMemoryTool struct {
	store       DataStore
	communityID string
	now         func() time.Time
}

func NewSaveMemoryTool(st DataStore, communityID string, now func() time.Time) *SaveMemoryTool {
	if now == nil {
		now = time.Now
	}
	return &SaveMemoryTool{store: st, communityID: communityID, now: now}
}

func (t *SaveMemoryTool) Name() string { return string(SaveMemory) }
func (t *SaveMemoryTool) Description() string {
	return "Save an important fact to the community knowledge base so it can be recalled later."
}
func (t *SaveMemoryTool) Tier() int { return TierWrite }

func (t *SaveMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The information to remember",
			},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional tags for categorization",
			},
		},
		"required": []string{"content"},
	}
}

func (t *SaveMemoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	content := strings.TrimSpace(GetString(params, "content", ""))
	if content == "" {
		return "Failed to save memory: content is required.", nil
	}
	if t.store == nil {
		return "Failed to save memory: memory store is not available.", nil
	}
	_, err := t.store.InsertMemory(ctx, &store.Memory{
		CommunityID: t.communityID,
		Content:     content,
		Tags:        GetStringSlice(params, "tags"),
		Source:      store.MemorySourceAgent,
		CreatedAt:   t.now().UTC(),
	})
	if err != nil {
		return fmt.Sprintf("Failed to save memory: %v", err), nil
	}
	return fmt.Sprintf("Memory saved successfully: %q", truncate(content, 80)), nil
}

// SearchChatHistoryTool reads recent community chat messages.
type SearchChatHistoryTool struct {
	store       DataStore
	communityID string
	now         func() time.Time
}

func NewSearchChatHistoryTool(st DataStore, communityID string, now func() time.Time) *SearchChatHistoryTool {
	if now == nil {
		now = time.Now
	}
	return &SearchChatHistoryTool{store: st, communityID: communityID, now: now}
}

func (t *SearchChatHistoryTool) Name() string { return string(SearchChatHistory) }
func (t *SearchChatHistoryTool) Description() string {
	return "Read recent messages from the community chat, newest first."
}
func (t *SearchChatHistoryTool) Tier() int { return TierReadOnly }

func (t *SearchChatHistoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"days_back": map[string]any{
				"type":        "integer",
				"description": "How many days of history to read (1-30, default 7)",
			},
		},
	}
}

// DaysBack returns the clamped look-back window for params.
func (t *SearchChatHistoryTool) DaysBack(params map[string]any) int {
	return clamp(GetInt(params, "days_back", 7), 1, 30)
}

func (t *SearchChatHistoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.store == nil {
		return "Chat history is not available.", nil
	}
	days := t.DaysBack(params)
	since := t.now().Add(-time.Duration(days) * 24 * time.Hour)
	msgs, err := t.store.ChatMessagesSince(ctx, t.communityID, since, chatHistoryLimit)
	if err != nil {
		return fmt.Sprintf("Error reading chat history: %v", err), nil
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("No chat messages found in the last %d days.", days), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Chat history (last %d days, %d messages):\n", days, len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), senderName(m), m.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func senderName(m store.ChatMessage) string {
	if m.SenderUsername != "" {
		return m.SenderUsername
	}
	if full := strings.TrimSpace(m.SenderFirstName + " " + m.SenderLastName); full != "" {
		return full
	}
	if m.SenderID != "" {
		return m.SenderID
	}
	return "Unknown"
}
