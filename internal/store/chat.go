package store

import (
	"database/sql"
	"fmt"
)

// UpsertChats inserts or updates chats in one transaction, so a chat list
// refresh never becomes partially visible.
func (db *DB) UpsertChats(chats []Chat) error {
	if len(chats) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range chats {
		if _, err := tx.Exec(`
			INSERT INTO chats (chat_id, is_system, name)
			VALUES (?, ?, ?)
			ON CONFLICT(chat_id) DO UPDATE SET
				is_system = excluded.is_system,
				name = excluded.name`,
			c.ChatID, c.IsSystem, c.Name); err != nil {
			return fmt.Errorf("upsert chat %d: %w", c.ChatID, err)
		}
	}
	return tx.Commit()
}

// GetChat returns a single chat by id, or nil if unknown locally.
func (db *DB) GetChat(chatID int64) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`SELECT chat_id, is_system, name FROM chats WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.IsSystem, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SystemChat returns the chat marked as system, or nil if none is known yet.
func (db *DB) SystemChat() (*Chat, error) {
	var c Chat
	err := db.QueryRow(`SELECT chat_id, is_system, name FROM chats WHERE is_system = 1`).
		Scan(&c.ChatID, &c.IsSystem, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChatIDs returns all locally known chat ids.
func (db *DB) ListChatIDs() ([]int64, error) {
	rows, err := db.Query(`SELECT chat_id FROM chats ORDER BY chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListChatSummaries returns every chat with its last message preview and the
// author of that message, newest activity first. Chats without messages sort last.
func (db *DB) ListChatSummaries() ([]ChatSummary, error) {
	rows, err := db.Query(`
		SELECT c.chat_id, c.is_system, c.name,
			COALESCE(m.text, ''), COALESCE(m.created_on, 0),
			COALESCE(e.member_display_name, ''), COALESCE(e.user_id, '')
		FROM chats c
		LEFT JOIN messages m ON m.message_id =
			(SELECT MAX(message_id) FROM messages WHERE chat_id = c.chat_id)
		LEFT JOIN members e ON e.member_id = m.member_id
		ORDER BY COALESCE(m.created_on, 0) DESC, c.chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var summaries []ChatSummary
	for rows.Next() {
		var s ChatSummary
		if err := rows.Scan(&s.ChatID, &s.IsSystem, &s.Name,
			&s.LastMessageText, &s.LastMessageOn,
			&s.LastMessageAuthor, &s.LastMessageUserID); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
