package tools

import (
	"context"
	"net/http"
	"time"

	"github.com/communityagent/communityagent/internal/config"
	"github.com/communityagent/communityagent/internal/provider"
	"github.com/communityagent/communityagent/internal/store"
)

// Name identifies one entry of the fixed tool catalog.
type Name string

// The catalog. Adding a tool means adding a constant and a catalog entry.
const (
	WebSearch             Name = "web_search"
	SearchMemory          Name = "search_memory"
	SearchChatHistory     Name = "search_chat_history"
	SaveMemory            Name = "save_memory"
	GetMemberProfiles     Name = "get_member_profiles"
	SemanticProfileSearch Name = "semantic_profile_search"
	ScrapeWebpage         Name = "scrape_webpage"
)

// DataStore is the slice of the store the community tools need.
type DataStore interface {
	RecentMemories(ctx context.Context, communityID string, limit int) ([]store.Memory, error)
	InsertMemory(ctx context.Context, m *store.Memory) (*store.Memory, error)
	ChatMessagesSince(ctx context.Context, communityID string, since time.Time, limit int) ([]store.ChatMessage, error)
	MemberProfiles(ctx context.Context, communityID string, limit int) ([]store.MemberProfile, error)
	SearchProfiles(ctx context.Context, communityID string, vector []float32, threshold float32, limit int) ([]store.ProfileMatch, error)
}

// Flags decides which catalog entries are advertised. store.ToolFlags implements it.
type Flags interface {
	Enabled(name string) bool
}

// Deps carries everything a tool needs for one community.
type Deps struct {
	CommunityID    string
	Store          DataStore
	Embedder       provider.Embedder
	EmbeddingModel string
	Search         config.SearchConfig
	Scrape         config.ScrapeToolConfig
	HTTPClient     *http.Client
	Now            func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Entry binds a catalog name to its constructor.
type Entry struct {
	Name Name
	New  func(Deps) Tool
}

// Catalog lists every tool in advertisement order.
var Catalog = []Entry{
	{WebSearch, func(d Deps) Tool { return NewWebSearchTool(d.Search, d.HTTPClient) }},
	{SearchMemory, func(d Deps) Tool { return NewSearchMemoryTool(d.Store, d.CommunityID) }},
	{SearchChatHistory, func(d Deps) Tool { return NewSearchChatHistoryTool(d.Store, d.CommunityID, d.now) }},
	{SaveMemory, func(d Deps) Tool { return NewSaveMemoryTool(d.Store, d.CommunityID, d.now) }},
	{GetMemberProfiles, func(d Deps) Tool { return NewGetMemberProfilesTool(d.Store, d.CommunityID) }},
	{SemanticProfileSearch, func(d Deps) Tool {
		return NewSemanticProfileSearchTool(d.Store, d.Embedder, d.EmbeddingModel, d.CommunityID)
	}},
	{ScrapeWebpage, func(d Deps) Tool { return NewScrapeWebpageTool(d.Scrape, d.HTTPClient) }},
}

var byName = func() map[Name]Entry {
	m := make(map[Name]Entry, len(Catalog))
	for _, e := range Catalog {
		m[e.Name] = e
	}
	return m
}()

// Lookup returns the catalog entry for name.
func Lookup(name string) (Entry, bool) {
	e, ok := byName[Name(name)]
	return e, ok
}

// Names returns every catalog name in order.
func Names() []string {
	out := make([]string, len(Catalog))
	for i, e := range Catalog {
		out[i] = string(e.Name)
	}
	return out
}

// NewCommunityRegistry builds the registry for one run, registering only the
// catalog entries flags enables. A nil flags value advertises nothing.
func NewCommunityRegistry(deps Deps, flags Flags) *Registry {
	r := NewRegistry()
	if flags == nil {
		return r
	}
	for _, e := range Catalog {
		if flags.Enabled(string(e.Name)) {
			r.Register(e.New(deps))
		}
	}
	return r
}
