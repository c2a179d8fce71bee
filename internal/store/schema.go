package store

import (
	"time"
)

// Schema creates every table the agent reads or writes. Timestamps are unix
// milliseconds so range queries behave the same on both SQLite drivers.
const Schema = `
CREATE TABLE IF NOT EXISTS communities (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	api_key TEXT NOT NULL UNIQUE,
	system_prompt TEXT NOT NULL DEFAULT '',
	agent_enabled BOOLEAN NOT NULL DEFAULT 0,
	tool_web_search BOOLEAN NOT NULL DEFAULT 0,
	tool_search_memory BOOLEAN NOT NULL DEFAULT 0,
	tool_search_chat_history BOOLEAN NOT NULL DEFAULT 0,
	tool_save_memory BOOLEAN NOT NULL DEFAULT 0,
	tool_get_member_profiles BOOLEAN NOT NULL DEFAULT 0,
	tool_semantic_profile_search BOOLEAN NOT NULL DEFAULT 0,
	tool_scrape_webpage BOOLEAN NOT NULL DEFAULT 0,
	model TEXT NOT NULL DEFAULT '',
	telegram_bot_token TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	community_id TEXT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	source TEXT NOT NULL DEFAULT 'manual',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_community ON memories(community_id, created_at);

CREATE TABLE IF NOT EXISTS chat_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	community_id TEXT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
	chat_id TEXT NOT NULL DEFAULT '',
	sender_id TEXT NOT NULL DEFAULT '',
	sender_username TEXT NOT NULL DEFAULT '',
	sender_first_name TEXT NOT NULL DEFAULT '',
	sender_last_name TEXT NOT NULL DEFAULT '',
	is_bot BOOLEAN NOT NULL DEFAULT 0,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_community ON chat_messages(community_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(community_id, chat_id, created_at);

CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	bio TEXT NOT NULL DEFAULT '',
	interests TEXT NOT NULL DEFAULT '',
	embedding BLOB,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS members (
	community_id TEXT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'member',
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (community_id, user_id)
);

CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	community_id TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	tool_calls TEXT NOT NULL DEFAULT '[]',
	tools_used INTEGER NOT NULL DEFAULT 0,
	iterations INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'completed',
	error_text TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_community ON usage_records(community_id, started_at);
`

// Community is a tenant: one API key, one system prompt, one set of tool flags.
type Community struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	APIKey           string    `json:"api_key"`
	SystemPrompt     string    `json:"system_prompt"`
	AgentEnabled     bool      `json:"agent_enabled"`
	Tools            ToolFlags `json:"tools"`
	Model            string    `json:"model,omitempty"`
	TelegramBotToken string    `json:"telegram_bot_token,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ToolFlags holds the per-tenant tool switches. The zero value disables every tool.
type ToolFlags struct {
	WebSearch             bool `json:"web_search"`
	SearchMemory          bool `json:"search_memory"`
	SearchChatHistory     bool `json:"search_chat_history"`
	SaveMemory            bool `json:"save_memory"`
	GetMemberProfiles     bool `json:"get_member_profiles"`
	SemanticProfileSearch bool `json:"semantic_profile_search"`
	ScrapeWebpage         bool `json:"scrape_webpage"`
}

// Enabled reports whether the tool with the given catalog name is switched on.
// Unknown names are disabled.
func (f ToolFlags) Enabled(name string) bool {
	switch name {
	case "web_search":
		return f.WebSearch
	case "search_memory":
		return f.SearchMemory
	case "search_chat_history":
		return f.SearchChatHistory
	case "save_memory":
		return f.SaveMemory
	case "get_member_profiles":
		return f.GetMemberProfiles
	case "semantic_profile_search":
		return f.SemanticProfileSearch
	case "scrape_webpage":
		return f.ScrapeWebpage
	}
	return false
}

// Set switches one tool by catalog name. It reports false for unknown names.
func (f *ToolFlags) Set(name string, on bool) bool {
	switch name {
	case "web_search":
		f.WebSearch = on
	case "search_memory":
		f.SearchMemory = on
	case "search_chat_history":
		f.SearchChatHistory = on
	case "save_memory":
		f.SaveMemory = on
	case "get_member_profiles":
		f.GetMemberProfiles = on
	case "semantic_profile_search":
		f.SemanticProfileSearch = on
	case "scrape_webpage":
		f.ScrapeWebpage = on
	default:
		return false
	}
	return true
}

// AllTools returns flags with every tool enabled.
func AllTools() ToolFlags {
	return ToolFlags{
		WebSearch:             true,
		SearchMemory:          true,
		SearchChatHistory:     true,
		SaveMemory:            true,
		GetMemberProfiles:     true,
		SemanticProfileSearch: true,
		ScrapeWebpage:         true,
	}
}

// Memory is one knowledge entry.
type Memory struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"community_id"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatMessage is one message observed in a community chat.
type ChatMessage struct {
	ID              int64     `json:"id"`
	CommunityID     string    `json:"community_id"`
	ChatID          string    `json:"chat_id"`
	SenderID        string    `json:"sender_id"`
	SenderUsername  string    `json:"sender_username,omitempty"`
	SenderFirstName string    `json:"sender_first_name,omitempty"`
	SenderLastName  string    `json:"sender_last_name,omitempty"`
	IsBot           bool      `json:"is_bot"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}

// Profile is a user's public profile, shared across communities.
type Profile struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Username    string    `json:"username"`
	Bio         string    `json:"bio"`
	Interests   string    `json:"interests"`
	Embedding   []float32 `json:"-"`
}

// MemberProfile is a community membership joined with the member's profile.
type MemberProfile struct {
	Profile
	CommunityID string    `json:"community_id"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// ProfileMatch is a similarity search hit.
type ProfileMatch struct {
	MemberProfile
	Similarity float32 `json:"similarity"`
}

// UsageRecord is one agent run as persisted for analytics.
type UsageRecord struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"community_id"`
	Model       string    `json:"model"`
	TokensUsed  int       `json:"tokens_used"`
	ToolCalls   string    `json:"tool_calls"` // JSON array
	ToolsUsed   int       `json:"tools_used"`
	Iterations  int       `json:"iterations"`
	Status      string    `json:"status"`
	ErrorText   string    `json:"error_text,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// UsageSummary aggregates usage records for one community.
type UsageSummary struct {
	Runs       int `json:"runs"`
	Failed     int `json:"failed"`
	TokensUsed int `json:"tokens_used"`
	ToolsUsed  int `json:"tools_used"`
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
