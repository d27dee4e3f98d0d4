package store

// User is a messenger account seen in any server response.
type User struct {
	UserID      string
	DisplayName string
}

// Chat is a conversation the current user participates in.
// At most one chat per session has IsSystem set: the chat that contains
// the privileged system account.
type Chat struct {
	ChatID   int64
	IsSystem bool
	Name     string
}

// Member is one user's participation in one chat.
type Member struct {
	MemberID          int64
	ChatID            int64
	ChatDisplayName   string
	MemberDisplayName string
	UserID            string
	IsActive          bool
}

// Message is a chat message with a server-assigned, per-chat monotonically
// increasing id. ChatID is denormalized and must equal the member's chat.
type Message struct {
	MessageID int64
	MemberID  int64
	ChatID    int64
	Text      string
	CreatedOn int64
}

// MessageWithMember joins a message with its author's member record.
type MessageWithMember struct {
	Message
	MemberDisplayName string
	UserID            string
}

// ChatSummary is a chat with its last message preview, for the chat list.
type ChatSummary struct {
	Chat
	LastMessageText   string
	LastMessageOn     int64
	LastMessageAuthor string
	LastMessageUserID string
}
