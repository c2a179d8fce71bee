package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestCommunity(t *testing.T, st *Store) *Community {
	t.Helper()
	c, err := st.CreateCommunity(context.Background(), &Community{
		Name:         "Hikers",
		SystemPrompt: "You help hikers.",
		AgentEnabled: true,
		Tools:        AllTools(),
	})
	if err != nil {
		t.Fatalf("create community: %v", err)
	}
	return c
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpenWithCgoDriver(t *testing.T) {
	st, err := Open(DriverSQLite3, filepath.Join(t.TempDir(), "cgo.db"))
	if err != nil {
		t.Skipf("sqlite3 driver unavailable: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	c := newTestCommunity(t, st)
	if _, err := st.InsertMemory(ctx, &Memory{CommunityID: c.ID, Content: "trail closed", Tags: []string{"trail"}}); err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	mems, err := st.RecentMemories(ctx, c.ID, 50)
	if err != nil || len(mems) != 1 {
		t.Fatalf("expected one memory via sqlite3, got %d err=%v", len(mems), err)
	}
	if st.Driver() != DriverSQLite3 {
		t.Fatalf("unexpected driver %s", st.Driver())
	}
}

func TestCommunityLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c := newTestCommunity(t, st)
	if c.ID == "" || !strings.HasPrefix(c.APIKey, "ca_") {
		t.Fatalf("expected generated id and api key, got %+v", c)
	}

	got, err := st.GetCommunityByAPIKey(ctx, c.APIKey)
	if err != nil {
		t.Fatalf("get by api key: %v", err)
	}
	if got.Name != "Hikers" || !got.AgentEnabled || !got.Tools.ScrapeWebpage {
		t.Fatalf("unexpected community: %+v", got)
	}

	got.AgentEnabled = false
	got.Tools = ToolFlags{WebSearch: true}
	got.Model = "openai/gpt-4o-mini"
	if err := st.UpdateCommunity(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := st.GetCommunity(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.AgentEnabled || !again.Tools.WebSearch || again.Tools.SaveMemory || again.Model != "openai/gpt-4o-mini" {
		t.Fatalf("update not persisted: %+v", again)
	}

	if _, err := st.GetCommunityByAPIKey(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.GetCommunityByAPIKey(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty key, got %v", err)
	}

	list, err := st.ListCommunities(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one community, got %d err=%v", len(list), err)
	}

	if err := st.DeleteCommunity(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.DeleteCommunity(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestToolFlagsEnabled(t *testing.T) {
	var f ToolFlags
	if f.Enabled("web_search") {
		t.Fatal("zero flags must disable every tool")
	}
	if !f.Set("semantic_profile_search", true) || !f.Enabled("semantic_profile_search") {
		t.Fatal("expected semantic_profile_search enabled")
	}
	if f.Set("rm_rf", true) || f.Enabled("rm_rf") {
		t.Fatal("unknown tool must stay disabled")
	}
}

func TestMemoriesNewestFirstAndLimited(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := newTestCommunity(t, st)
	other := newTestCommunity(t, st)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 55; i++ {
		if _, err := st.InsertMemory(ctx, &Memory{
			CommunityID: c.ID,
			Content:     "fact",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("insert memory %d: %v", i, err)
		}
	}
	if _, err := st.InsertMemory(ctx, &Memory{CommunityID: other.ID, Content: "other"}); err != nil {
		t.Fatalf("insert other memory: %v", err)
	}

	mems, err := st.RecentMemories(ctx, c.ID, 50)
	if err != nil {
		t.Fatalf("recent memories: %v", err)
	}
	if len(mems) != 50 {
		t.Fatalf("expected 50 memories, got %d", len(mems))
	}
	if !mems[0].CreatedAt.Equal(base.Add(54 * time.Minute)) {
		t.Fatalf("expected newest first, got %v", mems[0].CreatedAt)
	}
	if mems[0].Source != "manual" || mems[0].Tags == nil {
		t.Fatalf("expected defaults applied, got %+v", mems[0])
	}
	n, err := st.CountMemories(ctx, c.ID)
	if err != nil || n != 55 {
		t.Fatalf("expected 55 memories counted, got %d err=%v", n, err)
	}
}

func TestChatMessagesWindow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := newTestCommunity(t, st)

	now := time.Now().UTC()
	for _, age := range []time.Duration{time.Hour, 48 * time.Hour, 10 * 24 * time.Hour} {
		if _, err := st.InsertChatMessage(ctx, &ChatMessage{
			CommunityID: c.ID,
			ChatID:      "chat-1",
			SenderID:    "u1",
			Content:     age.String(),
			CreatedAt:   now.Add(-age),
		}); err != nil {
			t.Fatalf("insert chat message: %v", err)
		}
	}

	msgs, err := st.ChatMessagesSince(ctx, c.ID, now.Add(-7*24*time.Hour), 50)
	if err != nil {
		t.Fatalf("messages since: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages in window, got %d", len(msgs))
	}
	if msgs[0].Content != time.Hour.String() {
		t.Fatalf("expected newest first, got %q", msgs[0].Content)
	}

	recent, err := st.RecentChatMessages(ctx, c.ID, "chat-1", 2)
	if err != nil {
		t.Fatalf("recent chat messages: %v", err)
	}
	if len(recent) != 2 || recent[1].Content != time.Hour.String() {
		t.Fatalf("expected chronological tail, got %+v", recent)
	}
}

func TestMemberProfilesSkipsMissingProfiles(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := newTestCommunity(t, st)

	if err := st.UpsertProfile(ctx, &Profile{UserID: "u1", DisplayName: "Ada", Bio: "Climber"}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	for _, uid := range []string{"u1", "u2"} {
		if err := st.AddMember(ctx, c.ID, uid, ""); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	members, err := st.MemberProfiles(ctx, c.ID, 20)
	if err != nil {
		t.Fatalf("member profiles: %v", err)
	}
	if len(members) != 1 || members[0].DisplayName != "Ada" || members[0].Role != "member" {
		t.Fatalf("expected only the profiled member, got %+v", members)
	}
}

func TestSearchProfilesThresholdAndLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := newTestCommunity(t, st)

	profiles := []Profile{
		{UserID: "exact", DisplayName: "Exact", Embedding: []float32{1, 0, 0}},
		{UserID: "close", DisplayName: "Close", Embedding: []float32{0.9, 0.1, 0}},
		{UserID: "far", DisplayName: "Far", Embedding: []float32{0, 1, 0}},
		{UserID: "wrongdim", DisplayName: "WrongDim", Embedding: []float32{1, 0}},
		{UserID: "novec", DisplayName: "NoVec"},
	}
	for i := range profiles {
		if err := st.UpsertProfile(ctx, &profiles[i]); err != nil {
			t.Fatalf("upsert %s: %v", profiles[i].UserID, err)
		}
		if err := st.AddMember(ctx, c.ID, profiles[i].UserID, "member"); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	matches, err := st.SearchProfiles(ctx, c.ID, []float32{1, 0, 0}, 0.7, 10)
	if err != nil {
		t.Fatalf("search profiles: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches over threshold, got %d", len(matches))
	}
	if matches[0].UserID != "exact" || matches[0].Similarity < 0.99 {
		t.Fatalf("expected exact match first, got %+v", matches[0])
	}

	matches, err = st.SearchProfiles(ctx, c.ID, []float32{1, 0, 0}, 0.7, 1)
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected limit 1 honored, got %d err=%v", len(matches), err)
	}

	// Re-upserting without a vector keeps the stored one.
	if err := st.UpsertProfile(ctx, &Profile{UserID: "exact", DisplayName: "Exact Renamed"}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	matches, _ = st.SearchProfiles(ctx, c.ID, []float32{1, 0, 0}, 0.7, 10)
	if len(matches) != 2 || matches[0].DisplayName != "Exact Renamed" {
		t.Fatalf("expected vector preserved on re-upsert, got %+v", matches)
	}
}

func TestUsageRecordsAndSummary(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	if err := st.InsertUsage(ctx, &UsageRecord{CommunityID: "c1", Model: "m", TokensUsed: 120, ToolsUsed: 2, Iterations: 2, StartedAt: start}); err != nil {
		t.Fatalf("insert usage: %v", err)
	}
	if err := st.InsertUsage(ctx, &UsageRecord{CommunityID: "c1", Model: "m", TokensUsed: 30, Status: UsageFailed, ErrorText: "max iterations reached", StartedAt: start}); err != nil {
		t.Fatalf("insert failed usage: %v", err)
	}

	recs, err := st.ListUsage(ctx, "c1", 10)
	if err != nil || len(recs) != 2 {
		t.Fatalf("expected 2 usage records, got %d err=%v", len(recs), err)
	}
	if recs[0].ToolCalls != "[]" {
		t.Fatalf("expected default tool_calls, got %q", recs[0].ToolCalls)
	}

	sum, err := st.SummarizeUsage(ctx, "c1", start.Add(-time.Hour))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.Runs != 2 || sum.Failed != 1 || sum.TokensUsed != 150 || sum.ToolsUsed != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestVectorEncodingRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got := decodeFloat32s(encodeFloat32s(v))
	if len(got) != 3 || got[1] != -1.5 {
		t.Fatalf("unexpected decode %v", got)
	}
	if decodeFloat32s([]byte{1, 2, 3}) != nil {
		t.Fatal("expected nil for misaligned blob")
	}
	if cosineSimilarity([]float32{0, 0}, []float32{1, 0}) != 0 {
		t.Fatal("expected zero similarity for zero vector")
	}
}

func TestSearchProfilesReportsScanErrors(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := newTestCommunity(t, st)
	if err := st.UpsertProfile(ctx, &Profile{UserID: "u1", DisplayName: "Ada", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.AddMember(ctx, c.ID, "u1", "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := st.DB().ExecContext(ctx, `UPDATE members SET joined_at = 'soon' WHERE user_id = 'u1'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	if _, err := st.SearchProfiles(ctx, c.ID, []float32{1, 0}, 0, 10); err == nil {
		t.Fatal("expected scan error to be returned")
	}
}

func TestRecentMemoriesToleratesBadTags(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := newTestCommunity(t, st)
	m, err := st.InsertMemory(ctx, &Memory{CommunityID: c.ID, Content: "Hill repeats on Tuesdays", Tags: []string{"training"}})
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	if _, err := st.DB().ExecContext(ctx, `UPDATE memories SET tags = 'training' WHERE id = ?`, m.ID); err != nil {
		t.Fatalf("corrupt tags: %v", err)
	}

	mems, err := st.RecentMemories(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("recent memories: %v", err)
	}
	if len(mems) != 1 || mems[0].Content != "Hill repeats on Tuesdays" || mems[0].Tags == nil || len(mems[0].Tags) != 0 {
		t.Fatalf("unexpected memories %+v", mems)
	}
}
