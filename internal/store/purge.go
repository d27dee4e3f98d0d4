package store

import "fmt"

// DeleteChatData removes a chat's messages, members and the chat row, in that
// order so foreign keys are never violated. Used when leaving a chat.
func (db *DB) DeleteChatData(chatID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM members WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete members: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chats WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return tx.Commit()
}

// PurgeAll removes every message, member, chat and user, children before
// parents. Sign-out calls this before clearing credentials so the store never
// mixes two users' data.
func (db *DB) PurgeAll() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"messages", "members", "chats", "users"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return tx.Commit()
}
