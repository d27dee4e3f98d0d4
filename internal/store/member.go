package store

import "fmt"

// UpsertMembers inserts or updates members in one transaction. Referenced
// chats and users must already exist.
func (db *DB) UpsertMembers(members []Member) error {
	if len(members) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range members {
		if _, err := tx.Exec(`
			INSERT INTO members (member_id, chat_id, chat_display_name, member_display_name, user_id, is_active)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(member_id) DO UPDATE SET
				chat_display_name = excluded.chat_display_name,
				member_display_name = excluded.member_display_name,
				is_active = excluded.is_active`,
			m.MemberID, m.ChatID, m.ChatDisplayName, m.MemberDisplayName, m.UserID, m.IsActive); err != nil {
			return fmt.Errorf("upsert member %d: %w", m.MemberID, err)
		}
	}
	return tx.Commit()
}

// ChatMembers returns the members of a chat.
func (db *DB) ChatMembers(chatID int64) ([]Member, error) {
	rows, err := db.Query(`
		SELECT member_id, chat_id, chat_display_name, member_display_name, user_id, is_active
		FROM members
		WHERE chat_id = ?
		ORDER BY member_id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.MemberID, &m.ChatID, &m.ChatDisplayName, &m.MemberDisplayName, &m.UserID, &m.IsActive); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MemberChats returns member_id -> chat_id for the given chat. The sync
// engine uses it to check message/member referential consistency at merge time.
func (db *DB) MemberChats(chatID int64) (map[int64]int64, error) {
	rows, err := db.Query(`SELECT member_id, chat_id FROM members WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]int64)
	for rows.Next() {
		var memberID, cID int64
		if err := rows.Scan(&memberID, &cID); err != nil {
			return nil, err
		}
		out[memberID] = cID
	}
	return out, rows.Err()
}
