package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/communityagent/communityagent/internal/agent"
	"github.com/communityagent/communityagent/internal/provider"
	"github.com/communityagent/communityagent/internal/store"
	"github.com/communityagent/communityagent/internal/telegram"
)

const (
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	telegramHistory      = 10
	telegramFailureReply = "Sorry, I couldn't answer that right now. Please try again later."
)

// handleTelegramWebhook records the chat message and answers it with the
// agent. Any update past the secret check is acknowledged with 200.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.telegramSecret != "" {
		got := r.Header.Get(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.telegramSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid secret token")
			return
		}
	}
	communityID := r.PathValue("community_id")
	log := slog.With("community", communityID, "channel", "telegram")

	var update telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&update); err != nil {
		log.Warn("Ignoring malformed Telegram update", "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	s.processTelegramUpdate(r.Context(), log, communityID, &update)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) processTelegramUpdate(ctx context.Context, log *slog.Logger, communityID string, update *telegram.Update) {
	msg := update.IncomingMessage()
	if msg == nil || msg.Chat == nil || msg.Content() == "" {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}

	community, err := s.store.GetCommunity(ctx, communityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("Telegram update for unknown community")
		} else {
			log.Error("Community lookup failed", "error", err)
		}
		return
	}

	chatID := formatChatID(msg.Chat.ID)
	prior, err := s.store.RecentChatMessages(ctx, community.ID, chatID, telegramHistory)
	if err != nil {
		log.Warn("Failed to load chat history", "error", err)
	}

	inbound := &store.ChatMessage{
		CommunityID: community.ID,
		ChatID:      chatID,
		Content:     msg.Content(),
		CreatedAt:   messageTime(msg),
	}
	if msg.From != nil {
		inbound.SenderID = strconv.FormatInt(msg.From.ID, 10)
		inbound.SenderUsername = msg.From.Username
		inbound.SenderFirstName = msg.From.FirstName
		inbound.SenderLastName = msg.From.LastName
	}
	if _, err := s.store.InsertChatMessage(ctx, inbound); err != nil {
		log.Error("Failed to store chat message", "error", err)
	}

	if !community.AgentEnabled || community.TelegramBotToken == "" || s.newTelegram == nil {
		return
	}

	reply := telegramFailureReply
	res, err := s.runner.Run(ctx, agent.RunRequest{
		Community: community,
		Message:   msg.Content(),
		History:   chatHistory(prior),
	})
	if err != nil {
		log.Error("Agent run failed", "error", err)
	} else {
		reply = res.Response
		log.Info("Agent response", "model", res.Model, "tokens", res.TokensUsed, "tools_used", res.ToolsUsed())
	}

	if err := s.newTelegram(community.TelegramBotToken).SendChunked(ctx, msg.Chat.ID, reply, msg.MessageID); err != nil {
		log.Error("Failed to send Telegram reply", "error", err)
		return
	}
	if res != nil {
		if _, err := s.store.InsertChatMessage(ctx, &store.ChatMessage{
			CommunityID: community.ID,
			ChatID:      chatID,
			SenderID:    "bot",
			IsBot:       true,
			Content:     res.Response,
		}); err != nil {
			log.Warn("Failed to store bot reply", "error", err)
		}
	}
}

// chatHistory turns stored chat messages into conversation turns. Bot
// messages are the assistant's, everything else is user input.
func chatHistory(msgs []store.ChatMessage) []agent.HistoryMessage {
	out := make([]agent.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		role := provider.RoleUser
		if m.IsBot {
			role = provider.RoleAssistant
		}
		out = append(out, agent.HistoryMessage{Role: role, Content: m.Content})
	}
	return out
}

func messageTime(m *telegram.Message) time.Time {
	if m.Date > 0 {
		return time.Unix(m.Date, 0).UTC()
	}
	return time.Now().UTC()
}
