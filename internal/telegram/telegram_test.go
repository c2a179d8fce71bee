package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type sent struct {
	path string
	body sendMessageRequest
}

func newBotServer(t *testing.T, status int, reply string) (*httptest.Server, *[]sent) {
	t.Helper()
	var mu sync.Mutex
	var got []sent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Lock()
		got = append(got, sent{path: r.URL.Path, body: body})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestSendMessage(t *testing.T) {
	srv, got := newBotServer(t, http.StatusOK, `{"ok":true}`)
	c := NewClient(srv.Client(), srv.URL+"/", "123:abc")

	if err := c.SendMessage(context.Background(), 42, "hello", 7); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("expected one request, got %d", len(*got))
	}
	req := (*got)[0]
	if req.path != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path %q", req.path)
	}
	if req.body.ChatID != 42 || req.body.Text != "hello" || req.body.ReplyToMessageID != 7 {
		t.Fatalf("unexpected body %+v", req.body)
	}
}

func TestSendMessageError(t *testing.T) {
	srv, _ := newBotServer(t, http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	err := NewClient(srv.Client(), srv.URL, "t").SendMessage(context.Background(), 1, "x", 0)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected chat not found error, got %v", err)
	}
}

func TestSendMessageRequiresToken(t *testing.T) {
	if err := NewClient(nil, "", "").SendMessage(context.Background(), 1, "x", 0); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestSendChunked(t *testing.T) {
	srv, got := newBotServer(t, http.StatusOK, `{"ok":true}`)
	c := NewClient(srv.Client(), srv.URL, "t")

	text := strings.Repeat("word ", 1500) // 7500 chars
	if err := c.SendChunked(context.Background(), 9, text, 3); err != nil {
		t.Fatalf("send chunked: %v", err)
	}
	if len(*got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(*got))
	}
	for i, s := range *got {
		if n := len([]rune(s.body.Text)); n > MaxChunk {
			t.Fatalf("chunk %d has %d chars", i, n)
		}
		if i == 0 && s.body.ReplyToMessageID != 3 {
			t.Fatal("first chunk should reply to the message")
		}
		if i > 0 && s.body.ReplyToMessageID != 0 {
			t.Fatal("later chunks should not reply")
		}
	}
}

func TestChunkShortText(t *testing.T) {
	parts := Chunk("short", MaxChunk)
	if len(parts) != 1 || parts[0] != "short" {
		t.Fatalf("unexpected chunks %q", parts)
	}
}

func TestChunkWithoutSpaces(t *testing.T) {
	parts := Chunk(strings.Repeat("é", 25), 10)
	if len(parts) != 3 || parts[0] != strings.Repeat("é", 10) || parts[2] != strings.Repeat("é", 5) {
		t.Fatalf("unexpected chunks %q", parts)
	}
}

func TestUpdateIncomingMessage(t *testing.T) {
	var u Update
	raw := `{"update_id":1,"edited_message":{"message_id":5,"chat":{"id":-100,"type":"group"},"from":{"id":8,"username":"ana"},"caption":" photo caption "}}`
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m := u.IncomingMessage()
	if m == nil || m.Chat.ID != -100 || m.From.Username != "ana" || m.Content() != "photo caption" {
		t.Fatalf("unexpected message %+v", m)
	}
}
