package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const chatColumns = `id, community_id, chat_id, sender_id, sender_username, sender_first_name,
	sender_last_name, is_bot, content, created_at`

// InsertChatMessage records one observed chat message.
func (s *Store) InsertChatMessage(ctx context.Context, m *ChatMessage) (*ChatMessage, error) {
	out := *m
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (community_id, chat_id, sender_id, sender_username, sender_first_name,
			sender_last_name, is_bot, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, out.CommunityID, out.ChatID, out.SenderID, out.SenderUsername, out.SenderFirstName,
		out.SenderLastName, out.IsBot, out.Content, toMillis(out.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	out.ID, _ = res.LastInsertId()
	return &out, nil
}

// ChatMessagesSince returns up to limit community messages created at or after
// since, newest first.
func (s *Store) ChatMessagesSince(ctx context.Context, communityID string, since time.Time, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+chatColumns+`
		FROM chat_messages
		WHERE community_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, communityID, toMillis(since), limit)
	if err != nil {
		return nil, err
	}
	return scanChatMessages(rows)
}

// RecentChatMessages returns the last limit messages of one chat in
// chronological order.
func (s *Store) RecentChatMessages(ctx context.Context, communityID, chatID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+chatColumns+`
		FROM chat_messages
		WHERE community_id = ? AND chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, communityID, chatID, limit)
	if err != nil {
		return nil, err
	}
	msgs, err := scanChatMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanChatMessages(rows *sql.Rows) ([]ChatMessage, error) {
	defer rows.Close()
	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var created int64
		if err := rows.Scan(&m.ID, &m.CommunityID, &m.ChatID, &m.SenderID, &m.SenderUsername,
			&m.SenderFirstName, &m.SenderLastName, &m.IsBot, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
