package tools

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/communityagent/communityagent/internal/provider"
	"github.com/communityagent/communityagent/internal/store"
)

const (
	profileLimitMax    = 50
	semanticTopK       = 10
	semanticThreshold  = float32(0.7)
	defaultMemberLimit = 20
)

// GetMemberProfilesTool lists community members that have a profile.
type GetMemberProfilesTool struct {
	store       DataStore
	communityID string
}

func NewGetMemberProfilesTool(st DataStore, communityID string) *GetMemberProfilesTool {
	return &GetMemberProfilesTool{store: st, communityID: communityID}
}

func (t *GetMemberProfilesTool) Name() string { return string(GetMemberProfiles) }
func (t *GetMemberProfilesTool) Description() string {
	return "List community members with their profile details (name, username, bio, interests)."
}
func (t *GetMemberProfilesTool) Tier() int { return TierReadOnly }

func (t *GetMemberProfilesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of members to return (1-50, default 20)",
			},
		},
	}
}

// Limit returns the clamped member limit for params.
func (t *GetMemberProfilesTool) Limit(params map[string]any) int {
	return clamp(GetInt(params, "limit", defaultMemberLimit), 1, profileLimitMax)
}

func (t *GetMemberProfilesTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.store == nil {
		return "Member profiles are not available.", nil
	}
	members, err := t.store.MemberProfiles(ctx, t.communityID, t.Limit(params))
	if err != nil {
		return fmt.Sprintf("Error reading member profiles: %v", err), nil
	}
	if len(members) == 0 {
		return "No member profiles found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Community members (%d):\n", len(members))
	for i, m := range members {
		fmt.Fprintf(&sb, "%d. %s", i+1, profileLabel(m.Profile))
		if m.Role != "" {
			fmt.Fprintf(&sb, " [%s]", m.Role)
		}
		sb.WriteString("\n")
		writeProfileDetails(&sb, m.Profile)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// SemanticProfileSearchTool finds members whose profiles are similar to a
// free-text query.
type SemanticProfileSearchTool struct {
	store          DataStore
	embedder       provider.Embedder
	embeddingModel string
	communityID    string
}

func NewSemanticProfileSearchTool(st DataStore, emb provider.Embedder, model, communityID string) *SemanticProfileSearchTool {
	return &SemanticProfileSearchTool{store: st, embedder: emb, embeddingModel: model, communityID: communityID}
}

func (t *SemanticProfileSearchTool) Name() string { return string(SemanticProfileSearch) }
func (t *SemanticProfileSearchTool) Description() string {
	return "Find community members whose profiles match a description, e.g. 'people into rust and climbing'."
}
func (t *SemanticProfileSearchTool) Tier() int { return TierReadOnly }

func (t *SemanticProfileSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What kind of member to look for",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of matches (at most 10)",
			},
		},
		"required": []string{"query"},
	}
}

// TopK returns how many matches a call may return: the limit clamped like
// get_member_profiles, then capped at 10.
func (t *SemanticProfileSearchTool) TopK(params map[string]any) int {
	k := clamp(GetInt(params, "limit", semanticTopK), 1, profileLimitMax)
	if k > semanticTopK {
		k = semanticTopK
	}
	return k
}

func (t *SemanticProfileSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "Profile search needs a query describing who to look for.", nil
	}
	if t.embedder == nil {
		return "Semantic profile search is not available: no embedding service configured.", nil
	}
	if t.store == nil {
		return "Semantic profile search is not available: no profile store configured.", nil
	}

	emb, err := t.embedder.Embed(ctx, &provider.EmbeddingRequest{Input: query, Model: t.embeddingModel})
	if err != nil {
		return fmt.Sprintf("Could not generate an embedding for the query: %v", err), nil
	}
	if emb == nil || len(emb.Vector) == 0 {
		return "Could not generate an embedding for the query: empty vector.", nil
	}

	matches, err := t.store.SearchProfiles(ctx, t.communityID, emb.Vector, semanticThreshold, t.TopK(params))
	if err != nil {
		return fmt.Sprintf("Profile search failed: %v", err), nil
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No member profiles matched %q (similarity threshold %d%%).", query, int(semanticThreshold*100)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Members matching %q (%d):\n", query, len(matches))
	for i, m := range matches {
		fmt.Fprintf(&sb, "%d. %s - %d%% match\n", i+1, profileLabel(m.Profile), similarityPercent(m.Similarity))
		writeProfileDetails(&sb, m.Profile)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func similarityPercent(sim float32) int {
	return int(math.Round(float64(sim) * 100))
}

func profileLabel(p store.Profile) string {
	name := p.DisplayName
	if name == "" {
		name = p.Username
	}
	if name == "" {
		name = p.UserID
	}
	if p.Username != "" && p.Username != name {
		return fmt.Sprintf("%s (@%s)", name, p.Username)
	}
	return name
}

func writeProfileDetails(sb *strings.Builder, p store.Profile) {
	if p.Bio != "" {
		fmt.Fprintf(sb, "   Bio: %s\n", p.Bio)
	}
	if p.Interests != "" {
		fmt.Fprintf(sb, "   Interests: %s\n", p.Interests)
	}
}
