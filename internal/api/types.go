package api

// Wire DTOs for the messenger server's v1 JSON API.

type UserInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type NewUserInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type PasswordInfo struct {
	Password string `json:"password"`
}

type AuthInfo struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type RefreshTokenInfo struct {
	RefreshToken string `json:"refreshToken"`
}

type ChatInfo struct {
	ChatID      int64  `json:"chatId"`
	DefaultName string `json:"defaultName"`
}

type NewChatInfo struct {
	DefaultName string `json:"defaultName"`
}

type JoinChatInfo struct {
	DefaultName *string `json:"defaultName"`
	Secret      string  `json:"secret"`
}

type InviteChatInfo struct {
	UserID string `json:"userId"`
}

type MemberInfo struct {
	MemberID          int64  `json:"memberId"`
	ChatID            int64  `json:"chatId"`
	ChatDisplayName   string `json:"chatDisplayName"`
	MemberDisplayName string `json:"memberDisplayName"`
	UserID            string `json:"userId"`
	IsActive          bool   `json:"isActive"`
}

type MessageInfo struct {
	MessageID int64  `json:"messageId"`
	MemberID  int64  `json:"memberId"`
	Text      string `json:"text"`
	CreatedOn int64  `json:"createdOn"`
}

type NewMessageInfo struct {
	Text string `json:"text"`
}
