package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/communityagent/communityagent/internal/provider"
	"github.com/communityagent/communityagent/internal/store"
)

// maxHistoryMessages bounds how much prior conversation is replayed to the model.
const maxHistoryMessages = 20

// HistoryMessage is one prior turn supplied by the caller.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextBuilder assembles the system prompt and messages.
type ContextBuilder struct {
	now func() time.Time
}

// NewContextBuilder creates a new ContextBuilder. A nil clock uses time.Now.
func NewContextBuilder(now func() time.Time) *ContextBuilder {
	if now == nil {
		now = time.Now
	}
	return &ContextBuilder{now: now}
}

// BuildSystemPrompt returns the community's instructions followed by the
// runtime section the model needs to resolve relative dates and pick tools.
func (b *ContextBuilder) BuildSystemPrompt(c *store.Community, toolNames []string) string {
	var parts []string

	instructions := strings.TrimSpace(c.SystemPrompt)
	if instructions == "" {
		instructions = fmt.Sprintf("You are a helpful AI assistant for the %s community. Answer questions about the community, its members and its shared knowledge.", communityName(c))
	}
	parts = append(parts, instructions)
	parts = append(parts, b.runtimeInfo(c, toolNames))

	return strings.Join(parts, "\n\n---\n\n")
}

func (b *ContextBuilder) runtimeInfo(c *store.Community, toolNames []string) string {
	now := b.now()
	yesterday := now.AddDate(0, 0, -1)

	var sb strings.Builder
	sb.WriteString("## Runtime\n")
	fmt.Fprintf(&sb, "Community: %s\n", communityName(c))
	fmt.Fprintf(&sb, "Current date: %s (%s)\n", now.Format("2006-01-02"), now.Weekday())
	fmt.Fprintf(&sb, "Yesterday: %s\n", yesterday.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Current time: %s\n", now.Format("15:04 MST"))
	if len(toolNames) == 0 {
		sb.WriteString("\nNo tools are available. Answer from the conversation alone.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\nAvailable tools: %s\n", strings.Join(toolNames, ", "))
	sb.WriteString("Call a tool when the answer depends on community data or current information. Do not invent tool results.")
	return sb.String()
}

// BuildMessages returns system prompt, filtered history and the new user
// message. History keeps only user and assistant turns with content.
func (b *ContextBuilder) BuildMessages(systemPrompt string, history []HistoryMessage, message string) []provider.Message {
	kept := make([]provider.Message, 0, len(history))
	for _, h := range history {
		role := strings.ToLower(strings.TrimSpace(h.Role))
		if role != provider.RoleUser && role != provider.RoleAssistant {
			continue
		}
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		kept = append(kept, provider.Message{Role: role, Content: h.Content})
	}
	if len(kept) > maxHistoryMessages {
		kept = kept[len(kept)-maxHistoryMessages:]
	}

	messages := make([]provider.Message, 0, len(kept)+2)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	messages = append(messages, kept...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: message})
	return messages
}

func communityName(c *store.Community) string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return c.ID
}
