package store

import "database/sql"

// UpsertUser inserts or refreshes a user. Display names are the only
// mutable attribute of a user record.
func (db *DB) UpsertUser(u *User) error {
	_, err := db.Exec(`
		INSERT INTO users (user_id, display_name)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name`,
		u.UserID, u.DisplayName)
	return err
}

// GetUser returns a single user by id, or nil if unknown.
func (db *DB) GetUser(userID string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT user_id, display_name FROM users WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.DisplayName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUsers returns locally cached users whose id or display name contains part.
func (db *DB) FindUsers(part string) ([]User, error) {
	rows, err := db.Query(`
		SELECT user_id, display_name
		FROM users
		WHERE user_id LIKE '%' || ? || '%' OR display_name LIKE '%' || ? || '%'
		ORDER BY user_id ASC`, part, part)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.DisplayName); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
