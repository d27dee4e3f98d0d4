package store

import "fmt"

// UpsertMessages inserts or updates messages in one transaction
// (idempotent on the server-assigned message id).
func (db *DB) UpsertMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (message_id, member_id, chat_id, text, created_on)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO UPDATE SET
				text = excluded.text`,
			m.MessageID, m.MemberID, m.ChatID, m.Text, m.CreatedOn); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.MessageID, err)
		}
	}
	return tx.Commit()
}

// ChatMessages returns all messages of a chat with their authors, oldest first.
func (db *DB) ChatMessages(chatID int64) ([]MessageWithMember, error) {
	rows, err := db.Query(`
		SELECT m.message_id, m.member_id, m.chat_id, m.text, m.created_on,
			e.member_display_name, e.user_id
		FROM messages m
		JOIN members e ON e.member_id = m.member_id
		WHERE m.chat_id = ?
		ORDER BY m.message_id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []MessageWithMember
	for rows.Next() {
		var m MessageWithMember
		if err := rows.Scan(&m.MessageID, &m.MemberID, &m.ChatID, &m.Text, &m.CreatedOn,
			&m.MemberDisplayName, &m.UserID); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastMessageID returns the highest known message id for a chat, or 0 when
// the chat has no local messages. It is the after_id cursor for incremental sync.
func (db *DB) LastMessageID(chatID int64) (int64, error) {
	var id int64
	err := db.QueryRow(`SELECT COALESCE(MAX(message_id), 0) FROM messages WHERE chat_id = ?`, chatID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}
