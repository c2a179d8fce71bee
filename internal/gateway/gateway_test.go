package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/communityagent/communityagent/internal/agent"
	"github.com/communityagent/communityagent/internal/store"
)

type fakeRunner struct {
	mu       sync.Mutex
	result   *agent.RunResult
	err      error
	requests []agent.RunRequest
}

func (f *fakeRunner) Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type sentReply struct {
	token   string
	chatID  int64
	text    string
	replyTo int64
}

type fakeTelegram struct {
	mu    *sync.Mutex
	sent  *[]sentReply
	token string
}

func (f fakeTelegram) SendChunked(ctx context.Context, chatID int64, text string, replyTo int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.sent = append(*f.sent, sentReply{token: f.token, chatID: chatID, text: text, replyTo: replyTo})
	return nil
}

type testEnv struct {
	store     *store.Store
	community *store.Community
	runner    *fakeRunner
	server    *Server
	sent      *[]sentReply
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "gw.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	c, err := st.CreateCommunity(context.Background(), &store.Community{
		Name:             "Hikers",
		AgentEnabled:     true,
		Tools:            store.AllTools(),
		TelegramBotToken: "123:bot",
	})
	if err != nil {
		t.Fatalf("create community: %v", err)
	}

	runner := &fakeRunner{result: &agent.RunResult{
		Response:   "Saved it.",
		Model:      "google/gemini-2.5-flash",
		TokensUsed: 77,
		Iterations: 2,
		ToolCalls: []agent.ToolCallRecord{{
			Tool:      "save_memory",
			Arguments: map[string]any{"content": "Hike Saturday"},
			Result:    `Memory saved successfully: "Hike Saturday"`,
		}},
	}}
	var mu sync.Mutex
	sent := &[]sentReply{}
	srv := New(Options{
		Store:          st,
		Runner:         runner,
		TelegramSecret: secret,
		NewTelegram: func(token string) TelegramSender {
			return fakeTelegram{mu: &mu, sent: sent, token: token}
		},
	})
	return &testEnv{store: st, community: c, runner: runner, server: srv, sent: sent}
}

func (e *testEnv) post(t *testing.T, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	if body.Success {
		t.Fatal("expected success=false")
	}
	return body.Error
}

func TestAgentWebhookSuccess(t *testing.T) {
	env := newTestEnv(t, "")
	body := fmt.Sprintf(`{"message":"Remember the Saturday hike","api_key":%q,"conversation_history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`, env.community.APIKey)

	rec := env.post(t, "/webhook-agent", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp AgentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Response != "Saved it." {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Metadata.Community != "Hikers" || resp.Metadata.TokensUsed != 77 || resp.Metadata.ToolsUsed != 1 || resp.Metadata.Model != "google/gemini-2.5-flash" {
		t.Fatalf("unexpected metadata %+v", resp.Metadata)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Tool != "save_memory" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}

	req := env.runner.requests[0]
	if req.Community.ID != env.community.ID || req.Message != "Remember the Saturday hike" || len(req.History) != 2 {
		t.Fatalf("unexpected run request %+v", req)
	}
}

func TestAgentWebhookEmptyToolCallsIsArray(t *testing.T) {
	env := newTestEnv(t, "")
	env.runner.result = &agent.RunResult{Response: "hi", Model: "m"}
	rec := env.post(t, "/webhook-agent", fmt.Sprintf(`{"message":"hi","api_key":%q}`, env.community.APIKey), nil)
	if !strings.Contains(rec.Body.String(), `"tool_calls":[]`) {
		t.Fatalf("expected empty tool_calls array, got %s", rec.Body.String())
	}
}

func TestAgentWebhookStatusMapping(t *testing.T) {
	env := newTestEnv(t, "")
	disabled, err := env.store.CreateCommunity(context.Background(), &store.Community{Name: "Quiet"})
	if err != nil {
		t.Fatalf("create community: %v", err)
	}

	cases := []struct {
		name    string
		body    string
		runErr  error
		status  int
		message string
	}{
		{"invalid json", `{"message":`, nil, http.StatusBadRequest, "invalid JSON body"},
		{"missing message", fmt.Sprintf(`{"api_key":%q}`, env.community.APIKey), nil, http.StatusBadRequest, "message is required"},
		{"missing api key", `{"message":"hi"}`, nil, http.StatusBadRequest, "api_key is required"},
		{"unknown key", `{"message":"hi","api_key":"ca_nope"}`, nil, http.StatusUnauthorized, "invalid API key"},
		{"disabled", fmt.Sprintf(`{"message":"hi","api_key":%q}`, disabled.APIKey), nil, http.StatusForbidden, "agent is not enabled for this community"},
		{"model down", fmt.Sprintf(`{"message":"hi","api_key":%q}`, env.community.APIKey), fmt.Errorf("%w: %w", agent.ErrModelUnavailable, errors.New("API error 502")), http.StatusInternalServerError, "AI service unavailable"},
		{"iteration cap", fmt.Sprintf(`{"message":"hi","api_key":%q}`, env.community.APIKey), agent.ErrMaxIterations, http.StatusInternalServerError, "max iterations reached"},
		{"other", fmt.Sprintf(`{"message":"hi","api_key":%q}`, env.community.APIKey), errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env.runner.err = tc.runErr
			rec := env.post(t, "/webhook-agent", tc.body, nil)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec); got != tc.message {
				t.Fatalf("expected error %q, got %q", tc.message, got)
			}
		})
	}
}

func TestAgentWebhookRejectsGet(t *testing.T) {
	env := newTestEnv(t, "")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook-agent", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, "")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected healthz response %d %s", rec.Code, rec.Body.String())
	}
}

func telegramUpdate(chatID, fromID int64, text string) string {
	return fmt.Sprintf(`{"update_id":1,"message":{"message_id":55,"date":1741944600,"chat":{"id":%d,"type":"group"},"from":{"id":%d,"username":"ana","first_name":"Ana"},"text":%q}}`, chatID, fromID, text)
}

func TestTelegramWebhookRunsAgentAndReplies(t *testing.T) {
	env := newTestEnv(t, "s3cret")
	ctx := context.Background()
	if _, err := env.store.InsertChatMessage(ctx, &store.ChatMessage{CommunityID: env.community.ID, ChatID: "-100", SenderID: "9", Content: "earlier question"}); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	if _, err := env.store.InsertChatMessage(ctx, &store.ChatMessage{CommunityID: env.community.ID, ChatID: "-100", SenderID: "bot", IsBot: true, Content: "earlier answer"}); err != nil {
		t.Fatalf("seed chat: %v", err)
	}

	rec := env.post(t, "/telegram/webhook/"+env.community.ID, telegramUpdate(-100, 8, "when is the hike?"),
		map[string]string{telegramSecretHeader: "s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if len(env.runner.requests) != 1 {
		t.Fatalf("expected one run, got %d", len(env.runner.requests))
	}
	hist := env.runner.requests[0].History
	if len(hist) != 2 || hist[0].Role != "user" || hist[1].Role != "assistant" || hist[1].Content != "earlier answer" {
		t.Fatalf("unexpected history %+v", hist)
	}

	if len(*env.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(*env.sent))
	}
	reply := (*env.sent)[0]
	if reply.token != "123:bot" || reply.chatID != -100 || reply.text != "Saved it." || reply.replyTo != 55 {
		t.Fatalf("unexpected reply %+v", reply)
	}

	msgs, err := env.store.RecentChatMessages(ctx, env.community.ID, "-100", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected inbound and reply stored, got %d messages", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if !last.IsBot || last.Content != "Saved it." {
		t.Fatalf("expected bot reply last, got %+v", last)
	}
	var inbound *store.ChatMessage
	for i := range msgs {
		if msgs[i].Content == "when is the hike?" {
			inbound = &msgs[i]
		}
	}
	if inbound == nil || inbound.SenderID != "8" || inbound.SenderUsername != "ana" {
		t.Fatalf("inbound message not stored correctly: %+v", msgs)
	}
}

func TestTelegramWebhookRejectsBadSecret(t *testing.T) {
	env := newTestEnv(t, "s3cret")
	rec := env.post(t, "/telegram/webhook/"+env.community.ID, telegramUpdate(1, 2, "hi"), map[string]string{telegramSecretHeader: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(env.runner.requests) != 0 {
		t.Fatal("expected no run")
	}
}

func TestTelegramWebhookAcknowledgesEverything(t *testing.T) {
	env := newTestEnv(t, "")
	cases := map[string]struct {
		path string
		body string
	}{
		"malformed":         {"/telegram/webhook/" + env.community.ID, `{"update_id":`},
		"unknown community": {"/telegram/webhook/nope", telegramUpdate(1, 2, "hi")},
		"no text":           {"/telegram/webhook/" + env.community.ID, `{"update_id":3,"message":{"message_id":1,"chat":{"id":1}}}`},
		"from bot":          {"/telegram/webhook/" + env.community.ID, `{"update_id":4,"message":{"message_id":1,"chat":{"id":1},"from":{"id":5,"is_bot":true},"text":"beep"}}`},
	}
	for name, tc := range cases {
		rec := env.post(t, tc.path, tc.body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", name, rec.Code)
		}
	}
	if len(env.runner.requests) != 0 {
		t.Fatalf("expected no runs, got %d", len(env.runner.requests))
	}
}

func TestTelegramWebhookRunFailureSendsApology(t *testing.T) {
	env := newTestEnv(t, "")
	env.runner.err = agent.ErrMaxIterations
	rec := env.post(t, "/telegram/webhook/"+env.community.ID, telegramUpdate(7, 8, "loop"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(*env.sent) != 1 || (*env.sent)[0].text != telegramFailureReply {
		t.Fatalf("expected apology reply, got %+v", *env.sent)
	}
	msgs, _ := env.store.RecentChatMessages(context.Background(), env.community.ID, "7", 10)
	if len(msgs) != 1 || msgs[0].IsBot {
		t.Fatalf("expected only the inbound message stored, got %+v", msgs)
	}
}

func TestTelegramWebhookDisabledAgentOnlyRecords(t *testing.T) {
	env := newTestEnv(t, "")
	env.community.AgentEnabled = false
	if err := env.store.UpdateCommunity(context.Background(), env.community); err != nil {
		t.Fatalf("update: %v", err)
	}
	env.post(t, "/telegram/webhook/"+env.community.ID, telegramUpdate(7, 8, "hello all"), nil)
	if len(env.runner.requests) != 0 || len(*env.sent) != 0 {
		t.Fatal("expected no run and no reply")
	}
	msgs, _ := env.store.RecentChatMessages(context.Background(), env.community.ID, "7", 10)
	if len(msgs) != 1 {
		t.Fatalf("expected message recorded, got %d", len(msgs))
	}
}

func TestNewWarnsWithoutTelegramSecret(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	buf := &bytes.Buffer{}
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, nil)))

	New(Options{TelegramSecret: "  "})
	if !strings.Contains(buf.String(), "No Telegram webhook secret configured") {
		t.Fatalf("expected startup warning, got %q", buf.String())
	}

	buf.Reset()
	New(Options{TelegramSecret: "s3cret"})
	if strings.Contains(buf.String(), "webhook secret") {
		t.Fatalf("unexpected warning with secret set: %q", buf.String())
	}
}
