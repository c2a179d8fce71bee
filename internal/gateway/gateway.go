// Package gateway exposes the agent over HTTP: the JSON webhook used by
// community apps and the Telegram bot webhook.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/communityagent/communityagent/internal/agent"
	"github.com/communityagent/communityagent/internal/store"
	"github.com/google/uuid"
)

// maxBodyBytes bounds webhook request bodies.
const maxBodyBytes = 1 << 20

// Runner executes one agent run. *agent.Loop implements it.
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// CommunityStore is the store surface the gateway needs.
type CommunityStore interface {
	GetCommunity(ctx context.Context, id string) (*store.Community, error)
	GetCommunityByAPIKey(ctx context.Context, apiKey string) (*store.Community, error)
	InsertChatMessage(ctx context.Context, m *store.ChatMessage) (*store.ChatMessage, error)
	RecentChatMessages(ctx context.Context, communityID, chatID string, limit int) ([]store.ChatMessage, error)
}

// TelegramSender delivers bot replies. *telegram.Client implements it.
type TelegramSender interface {
	SendChunked(ctx context.Context, chatID int64, text string, replyTo int64) error
}

// Options configures a Server.
type Options struct {
	Store          CommunityStore
	Runner         Runner
	TelegramSecret string
	// NewTelegram returns a sender for a community's bot token.
	NewTelegram func(token string) TelegramSender
}

// Server routes gateway requests.
type Server struct {
	store          CommunityStore
	runner         Runner
	telegramSecret string
	newTelegram    func(token string) TelegramSender
	mux            *http.ServeMux
}

func New(opts Options) *Server {
	s := &Server{
		store:          opts.Store,
		runner:         opts.Runner,
		telegramSecret: strings.TrimSpace(opts.TelegramSecret),
		newTelegram:    opts.NewTelegram,
		mux:            http.NewServeMux(),
	}
	s.mux.HandleFunc("/webhook-agent", s.handleAgentWebhook)
	s.mux.HandleFunc("/telegram/webhook/{community_id}", s.handleTelegramWebhook)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	if s.telegramSecret == "" {
		slog.Warn("No Telegram webhook secret configured; /telegram/webhook accepts unauthenticated updates",
			"setting", "gateway.telegramSecret")
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		slog.Info("Gateway shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// AgentRequest is the /webhook-agent body.
type AgentRequest struct {
	Message             string                 `json:"message"`
	APIKey              string                 `json:"api_key"`
	ConversationHistory []agent.HistoryMessage `json:"conversation_history,omitempty"`
}

// AgentResponse is the success body of /webhook-agent.
type AgentResponse struct {
	Success   bool                   `json:"success"`
	Response  string                 `json:"response"`
	ToolCalls []agent.ToolCallRecord `json:"tool_calls"`
	Metadata  ResponseMetadata       `json:"metadata"`
}

type ResponseMetadata struct {
	Community  string `json:"community"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
	ToolsUsed  int    `json:"tools_used"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleAgentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	requestID := uuid.NewString()
	log := slog.With("request_id", requestID)

	var body AgentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if strings.TrimSpace(body.APIKey) == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	community, err := s.store.GetCommunityByAPIKey(r.Context(), strings.TrimSpace(body.APIKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		log.Error("Community lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !community.AgentEnabled {
		writeError(w, http.StatusForbidden, "agent is not enabled for this community")
		return
	}

	log = log.With("community", community.ID)
	log.Info("Agent request", "history", len(body.ConversationHistory))
	res, err := s.runner.Run(r.Context(), agent.RunRequest{
		Community: community,
		Message:   body.Message,
		History:   body.ConversationHistory,
	})
	if err != nil {
		status, msg := runErrorStatus(err)
		log.Error("Agent run failed", "status", status, "error", err)
		writeError(w, status, msg)
		return
	}

	log.Info("Agent response", "model", res.Model, "tokens", res.TokensUsed, "tools_used", res.ToolsUsed(), "iterations", res.Iterations)
	calls := res.ToolCalls
	if calls == nil {
		calls = []agent.ToolCallRecord{}
	}
	writeJSON(w, http.StatusOK, AgentResponse{
		Success:   true,
		Response:  res.Response,
		ToolCalls: calls,
		Metadata: ResponseMetadata{
			Community:  community.Name,
			Model:      res.Model,
			TokensUsed: res.TokensUsed,
			ToolsUsed:  res.ToolsUsed(),
		},
	})
}

// runErrorStatus maps a run failure to the status and message the caller sees.
func runErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrModelUnavailable):
		return http.StatusInternalServerError, agent.ErrModelUnavailable.Error()
	case errors.Is(err, agent.ErrMaxIterations):
		return http.StatusInternalServerError, agent.ErrMaxIterations.Error()
	case errors.Is(err, agent.ErrEmptyMessage), errors.Is(err, agent.ErrNoCommunity):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

func formatChatID(id int64) string { return fmt.Sprintf("%d", id) }
