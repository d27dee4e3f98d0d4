package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"msgr/internal/api"
	"msgr/internal/bus"
	"msgr/internal/session"
	"msgr/internal/store"
)

// ErrRegistrationFailed means the server rejected a registration, typically
// because the user id is already taken.
var ErrRegistrationFailed = errors.New("registration failed")

// Engine orchestrates authentication and synchronization: it calls the remote
// API, merges results into the local store and keeps the session manager as
// the single owner of credential state. All public operations return plain
// errors wrapping the api error taxonomy; nothing panics across this boundary.
type Engine struct {
	db      *store.DB
	client  *api.Client
	session *session.Manager
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, client *api.Client, sess *session.Manager, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		client:  client,
		session: sess,
		bus:     b,
		logger:  logger,
	}
}

// authHeader returns the Authorization value for member-scoped calls.
func (e *Engine) authHeader() (string, error) {
	token, ok := e.session.AccessToken()
	if !ok {
		return "", api.ErrAuthenticationRequired
	}
	return api.Bearer(token), nil
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// SignIn authenticates userID and hydrates the local store with the user's
// own profile and the system user. A different signed-in user is signed out
// first so the store never mixes two users' data. The initial chat sync is
// best-effort: its failure leaves the user signed in and is retried by the
// next poll tick.
func (e *Engine) SignIn(ctx context.Context, userID, password string) (*store.User, error) {
	if cur := e.session.CurrentUser(); cur != nil && cur.UserID != userID {
		if err := e.SignOut(ctx); err != nil {
			return nil, fmt.Errorf("sign out previous user: %w", err)
		}
	}

	auth, err := e.client.SignIn(ctx, userID, password)
	if err != nil {
		return nil, fmt.Errorf("sign in %q: %w", userID, err)
	}
	header := api.Bearer(auth.AccessToken)

	profile, err := e.client.GetUser(ctx, header, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile %q: %w", userID, err)
	}
	if profile == nil {
		return nil, fmt.Errorf("profile %q missing after successful sign-in: %w", userID, api.ErrInconsistentServerState)
	}
	user := &store.User{UserID: profile.UserID, DisplayName: profile.DisplayName}
	if err := e.db.UpsertUser(user); err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}

	sysInfo, err := e.client.SystemUser(ctx, header)
	if err != nil {
		return nil, fmt.Errorf("fetch system user: %w", err)
	}
	if err := e.db.UpsertUser(&store.User{UserID: sysInfo.UserID, DisplayName: sysInfo.DisplayName}); err != nil {
		return nil, fmt.Errorf("store system user: %w", err)
	}

	if err := e.session.SetTokens(auth.AccessToken, auth.RefreshToken); err != nil {
		return nil, fmt.Errorf("persist tokens: %w", err)
	}
	if err := e.session.SetCurrentUser(user); err != nil {
		return nil, fmt.Errorf("persist current user: %w", err)
	}
	e.publish("store.users", nil)

	if err := e.UpdateChatsList(ctx); err != nil {
		e.logger.Warn("initial chat sync failed, will retry on next poll", zap.Error(err))
	}
	return user, nil
}

// Register creates a new account. The caller signs in separately afterwards.
// A currently signed-in user is signed out first.
func (e *Engine) Register(ctx context.Context, userID, password, displayName string) (*store.User, error) {
	if e.session.SignedIn() {
		if err := e.SignOut(ctx); err != nil {
			return nil, fmt.Errorf("sign out previous user: %w", err)
		}
	}
	info, err := e.client.Register(ctx, api.NewUserInfo{UserID: userID, DisplayName: displayName, Password: password})
	if err != nil {
		if errors.Is(err, api.ErrNetwork) {
			return nil, err
		}
		return nil, fmt.Errorf("register %q: %v: %w", userID, err, ErrRegistrationFailed)
	}
	return &store.User{UserID: info.UserID, DisplayName: info.DisplayName}, nil
}

// SignOut ends the session. The server-side sign-out and token invalidation
// are best-effort; local cleanup always runs: messages, members, chats and
// users are purged in dependency order before credentials are cleared.
func (e *Engine) SignOut(ctx context.Context) error {
	if !e.session.SignedIn() {
		return nil
	}

	if header, err := e.authHeader(); err == nil {
		if err := e.client.SignOut(ctx, header); err != nil {
			e.logger.Warn("server sign-out failed", zap.Error(err))
		}
		if refresh, ok := e.session.RefreshToken(); ok {
			if err := e.client.InvalidateToken(ctx, header, refresh); err != nil {
				e.logger.Warn("refresh token invalidation failed", zap.Error(err))
			}
		}
	}

	if err := e.db.PurgeAll(); err != nil {
		return fmt.Errorf("purge local store: %w", err)
	}
	if err := e.session.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	e.publish("store.chats", nil)
	e.publish("store.users", nil)
	e.logger.Info("signed out")
	return nil
}

// UpdateChatsList reconciles the server's chat list into the local store.
//
// For every chat the member list is fetched and each member's display name is
// refreshed from a profile lookup; a missing profile degrades to a bracketed
// placeholder of the raw user id. A chat's stored name is the current user's
// own chatDisplayName when they have a member record, otherwise the server
// default. The chat containing the system user is marked as the system chat.
// Chats and members are upserted in bulk only after all member fetches
// complete. On failure the remaining steps are skipped and whatever was
// already stored stays; the next poll tick retries.
func (e *Engine) UpdateChatsList(ctx context.Context) error {
	header, err := e.authHeader()
	if err != nil {
		return err
	}
	cur := e.session.CurrentUser()
	if cur == nil {
		return api.ErrAuthenticationRequired
	}

	chats, err := e.client.ListChats(ctx, header)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	sysInfo, err := e.client.SystemUser(ctx, header)
	if err != nil {
		return fmt.Errorf("fetch system user: %w", err)
	}
	if err := e.db.UpsertUser(&store.User{UserID: sysInfo.UserID, DisplayName: sysInfo.DisplayName}); err != nil {
		return fmt.Errorf("store system user: %w", err)
	}

	chatNames := make(map[int64]string)
	var allMembers []store.Member
	systemChatID := int64(-1)

	for _, chat := range chats {
		members, err := e.client.ListChatMembers(ctx, header, chat.ChatID)
		if err != nil {
			return fmt.Errorf("list members of chat %d: %w", chat.ChatID, err)
		}
		for _, mi := range members {
			name := "[ " + mi.UserID + " ]"
			profile, err := e.client.GetUser(ctx, header, mi.UserID)
			if err != nil {
				e.logger.Warn("profile lookup failed, using placeholder",
					zap.String("user_id", mi.UserID), zap.Error(err))
			} else if profile != nil {
				name = profile.DisplayName
			}
			if err := e.db.UpsertUser(&store.User{UserID: mi.UserID, DisplayName: name}); err != nil {
				return fmt.Errorf("store user %q: %w", mi.UserID, err)
			}

			// The current user may rename a chat for themselves; that name
			// wins over the server default.
			if mi.UserID == cur.UserID {
				chatNames[mi.ChatID] = mi.ChatDisplayName
			}
			if mi.UserID == sysInfo.UserID {
				systemChatID = mi.ChatID
			}
			allMembers = append(allMembers, store.Member{
				MemberID:          mi.MemberID,
				ChatID:            mi.ChatID,
				ChatDisplayName:   mi.ChatDisplayName,
				MemberDisplayName: mi.MemberDisplayName,
				UserID:            mi.UserID,
				IsActive:          mi.IsActive,
			})
		}
	}

	chatRows := make([]store.Chat, 0, len(chats))
	for _, chat := range chats {
		name, ok := chatNames[chat.ChatID]
		if !ok {
			name = chat.DefaultName
		}
		chatRows = append(chatRows, store.Chat{
			ChatID:   chat.ChatID,
			IsSystem: chat.ChatID == systemChatID,
			Name:     name,
		})
	}

	if err := e.db.UpsertChats(chatRows); err != nil {
		return fmt.Errorf("store chats: %w", err)
	}
	if err := e.db.UpsertMembers(allMembers); err != nil {
		return fmt.Errorf("store members: %w", err)
	}
	e.publish("store.users", nil)
	e.publish("store.chats", nil)
	e.publish("store.members", nil)
	return nil
}

// UpdateMessages fetches messages newer than the locally known highest id for
// one chat. Messages whose author is unknown locally, or belongs to a
// different chat, are dropped with a warning: a message's chat must always
// equal its member's chat.
func (e *Engine) UpdateMessages(ctx context.Context, chatID int64) error {
	header, err := e.authHeader()
	if err != nil {
		return err
	}
	lastID, err := e.db.LastMessageID(chatID)
	if err != nil {
		return fmt.Errorf("read last message id: %w", err)
	}
	infos, err := e.client.ListMessages(ctx, header, chatID, lastID)
	if err != nil {
		return fmt.Errorf("list messages of chat %d: %w", chatID, err)
	}
	if len(infos) == 0 {
		return nil
	}

	memberChats, err := e.db.MemberChats(chatID)
	if err != nil {
		return fmt.Errorf("read members of chat %d: %w", chatID, err)
	}

	msgs := make([]store.Message, 0, len(infos))
	for _, mi := range infos {
		if owner, ok := memberChats[mi.MemberID]; !ok || owner != chatID {
			e.logger.Warn("dropping message with inconsistent member",
				zap.Int64("message_id", mi.MessageID),
				zap.Int64("member_id", mi.MemberID),
				zap.Int64("chat_id", chatID))
			continue
		}
		msgs = append(msgs, store.Message{
			MessageID: mi.MessageID,
			MemberID:  mi.MemberID,
			ChatID:    chatID,
			Text:      mi.Text,
			CreatedOn: mi.CreatedOn,
		})
	}
	if err := e.db.UpsertMessages(msgs); err != nil {
		return fmt.Errorf("store messages: %w", err)
	}
	e.publish("store.messages", chatID)
	return nil
}

// UpdateAllMessages polls every locally known chat. Per-chat failures are
// logged and swallowed so one broken chat does not starve the rest.
func (e *Engine) UpdateAllMessages(ctx context.Context) error {
	ids, err := e.db.ListChatIDs()
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	for _, id := range ids {
		if err := e.UpdateMessages(ctx, id); err != nil {
			e.logger.Warn("message poll failed", zap.Int64("chat_id", id), zap.Error(err))
		}
	}
	return nil
}

// SendMessage posts text to a chat and stores the server-acknowledged message.
// There is no optimistic local echo: the local copy exists only once the
// server has assigned it an id and timestamp.
func (e *Engine) SendMessage(ctx context.Context, chatID int64, text string) (*store.Message, error) {
	header, err := e.authHeader()
	if err != nil {
		return nil, err
	}
	info, err := e.client.SendMessage(ctx, header, chatID, api.NewMessageInfo{Text: text})
	if err != nil {
		return nil, fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	msg := store.Message{
		MessageID: info.MessageID,
		MemberID:  info.MemberID,
		ChatID:    chatID,
		Text:      info.Text,
		CreatedOn: info.CreatedOn,
	}
	if err := e.db.UpsertMessages([]store.Message{msg}); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	e.publish("store.messages", chatID)
	return &msg, nil
}

// CreateChat creates a chat on the server and reconciles so the new chat
// becomes visible locally.
func (e *Engine) CreateChat(ctx context.Context, name string) (*api.ChatInfo, error) {
	header, err := e.authHeader()
	if err != nil {
		return nil, err
	}
	info, err := e.client.CreateChat(ctx, header, api.NewChatInfo{DefaultName: name})
	if err != nil {
		return nil, fmt.Errorf("create chat %q: %w", name, err)
	}
	if err := e.UpdateChatsList(ctx); err != nil {
		e.logger.Warn("chat sync after create failed", zap.Error(err))
	}
	return info, nil
}

// JoinChat joins a chat using its secret. Joining a chat that already exists
// locally is a no-op: no network call is made.
func (e *Engine) JoinChat(ctx context.Context, chatID int64, secret string) error {
	existing, err := e.db.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("look up chat %d: %w", chatID, err)
	}
	if existing != nil {
		return nil
	}
	header, err := e.authHeader()
	if err != nil {
		return err
	}
	if _, err := e.client.JoinChat(ctx, header, chatID, api.JoinChatInfo{Secret: secret}); err != nil {
		return fmt.Errorf("join chat %d: %w", chatID, err)
	}
	return e.UpdateChatsList(ctx)
}

// LeaveChat leaves a chat on the server, then removes its local data. The
// server must answer with status "OK"; any other status is a failure even on
// HTTP 2xx and leaves local rows untouched. The system chat cannot be left.
func (e *Engine) LeaveChat(ctx context.Context, chatID int64) error {
	if chat, err := e.db.GetChat(chatID); err != nil {
		return fmt.Errorf("look up chat %d: %w", chatID, err)
	} else if chat != nil && chat.IsSystem {
		return fmt.Errorf("chat %d is the system chat: %w", chatID, api.ErrRequestFailed)
	}

	header, err := e.authHeader()
	if err != nil {
		return err
	}
	resp, err := e.client.LeaveChat(ctx, header, chatID)
	if err != nil {
		return fmt.Errorf("leave chat %d: %w", chatID, err)
	}
	if resp["status"] != "OK" {
		return fmt.Errorf("leave chat %d: status %q: %w", chatID, resp["status"], api.ErrRequestFailed)
	}

	if err := e.db.DeleteChatData(chatID); err != nil {
		return fmt.Errorf("delete chat %d data: %w", chatID, err)
	}
	e.publish("store.chats", nil)
	e.publish("store.messages", chatID)

	if err := e.UpdateChatsList(ctx); err != nil {
		e.logger.Warn("chat sync after leave failed", zap.Error(err))
	}
	return nil
}

// SendInvite asks the server to invite userID to a chat. The invite arrives
// as an ordinary message in the recipient's system chat; parsing the join
// code out of its text is a presentation concern. The system chat itself
// accepts no invites.
func (e *Engine) SendInvite(ctx context.Context, chatID int64, userID string) error {
	if chat, err := e.db.GetChat(chatID); err != nil {
		return fmt.Errorf("look up chat %d: %w", chatID, err)
	} else if chat != nil && chat.IsSystem {
		return fmt.Errorf("chat %d is the system chat: %w", chatID, api.ErrRequestFailed)
	}

	header, err := e.authHeader()
	if err != nil {
		return err
	}
	if _, err := e.client.InviteToChat(ctx, header, chatID, api.InviteChatInfo{UserID: userID}); err != nil {
		return fmt.Errorf("invite %q to chat %d: %w", userID, chatID, err)
	}
	return nil
}

// UpdateUsers refreshes the local user cache from a server-side name search.
func (e *Engine) UpdateUsers(ctx context.Context, part string) error {
	header, err := e.authHeader()
	if err != nil {
		return err
	}
	infos, err := e.client.FindUsers(ctx, header, part)
	if err != nil {
		return fmt.Errorf("find users %q: %w", part, err)
	}
	for _, info := range infos {
		if err := e.db.UpsertUser(&store.User{UserID: info.UserID, DisplayName: info.DisplayName}); err != nil {
			return fmt.Errorf("store user %q: %w", info.UserID, err)
		}
	}
	e.publish("store.users", nil)
	return nil
}

// UsersByPartOfName searches the local user cache. The cache is a secondary
// index; UpdateUsers refreshes it opportunistically.
func (e *Engine) UsersByPartOfName(part string) ([]store.User, error) {
	return e.db.FindUsers(part)
}
