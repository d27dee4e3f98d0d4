package sync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"msgr/internal/api"
)

// fakeMessenger is an in-memory messenger server for engine tests. Sign-in
// accepts the password "pw" for any known user and issues "tok-<userId>"
// bearer tokens.
type fakeMessenger struct {
	mu       sync.Mutex
	users    map[string]string // userId -> displayName
	system   api.UserInfo
	chats    map[string][]api.ChatInfo // userId -> that user's chat list
	members  map[int64][]api.MemberInfo
	messages map[int64][]api.MessageInfo

	leaveStatus   string
	joinCalls     int
	signOuts      int
	chatListCalls int
	afterIDs      []int64

	srv *httptest.Server
}

func newFakeMessenger(t *testing.T) *fakeMessenger {
	t.Helper()
	f := &fakeMessenger{
		users:       map[string]string{"admin": "System"},
		system:      api.UserInfo{UserID: "admin", DisplayName: "System"},
		chats:       make(map[string][]api.ChatInfo),
		members:     make(map[int64][]api.MemberInfo),
		messages:    make(map[int64][]api.MessageInfo),
		leaveStatus: "OK",
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/users", f.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/v1/users", f.handleFindUsers).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{userId}/signin", f.handleSignIn).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/{userId}", f.handleGetUser).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin", f.handleSystemUser).Methods(http.MethodGet)
	r.HandleFunc("/v1/me/signout", f.handleSignOut).Methods(http.MethodPost)
	r.HandleFunc("/v1/me/invalidate", f.handleOK).Methods(http.MethodPost)
	r.HandleFunc("/v1/me/chats", f.handleListChats).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chatId}/members", f.handleListMembers).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chatId}/messages/", f.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/chats/{chatId}/messages/", f.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chatId}/join", f.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/v1/chats/{chatId}/leave", f.handleLeave).Methods(http.MethodPost)

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeMessenger) URL() string { return f.srv.URL }

func (f *fakeMessenger) addUser(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = name
}

// addChat registers a chat on ownerID's chat list with the given members.
func (f *fakeMessenger) addChat(ownerID string, chat api.ChatInfo, members ...api.MemberInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[ownerID] = append(f.chats[ownerID], chat)
	f.members[chat.ChatID] = members
}

func (f *fakeMessenger) addMessage(chatID int64, msg api.MessageInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[chatID] = append(f.messages[chatID], msg)
}

// callerID returns the user id encoded in the bearer token, or "" for an
// unauthorized request.
func (f *fakeMessenger) callerID(req *http.Request) string {
	auth := req.Header.Get("Authorization")
	uid, ok := strings.CutPrefix(auth, "Bearer tok-")
	if !ok {
		return ""
	}
	return uid
}

func (f *fakeMessenger) authorized(w http.ResponseWriter, req *http.Request) (string, bool) {
	uid := f.callerID(req)
	if uid == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return "", false
	}
	return uid, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func chatIDVar(req *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(req)["chatId"], 10, 64)
	return id
}

func (f *fakeMessenger) handleRegister(w http.ResponseWriter, req *http.Request) {
	var info api.NewUserInfo
	_ = json.NewDecoder(req.Body).Decode(&info)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[info.UserID]; exists {
		w.WriteHeader(http.StatusConflict)
		return
	}
	f.users[info.UserID] = info.DisplayName
	writeJSON(w, api.UserInfo{UserID: info.UserID, DisplayName: info.DisplayName})
}

func (f *fakeMessenger) handleSignIn(w http.ResponseWriter, req *http.Request) {
	uid := mux.Vars(req)["userId"]
	var info api.PasswordInfo
	_ = json.NewDecoder(req.Body).Decode(&info)
	if info.Password != "pw" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, api.AuthInfo{AccessToken: "tok-" + uid, RefreshToken: "rt-" + uid})
}

func (f *fakeMessenger) handleGetUser(w http.ResponseWriter, req *http.Request) {
	if _, ok := f.authorized(w, req); !ok {
		return
	}
	uid := mux.Vars(req)["userId"]
	f.mu.Lock()
	name, known := f.users[uid]
	f.mu.Unlock()
	if !known {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, api.UserInfo{UserID: uid, DisplayName: name})
}

func (f *fakeMessenger) handleFindUsers(w http.ResponseWriter, req *http.Request) {
	if _, ok := f.authorized(w, req); !ok {
		return
	}
	part := req.URL.Query().Get("name")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []api.UserInfo{}
	for id, name := range f.users {
		if strings.Contains(name, part) {
			out = append(out, api.UserInfo{UserID: id, DisplayName: name})
		}
	}
	writeJSON(w, out)
}

func (f *fakeMessenger) handleSystemUser(w http.ResponseWriter, req *http.Request) {
	if _, ok := f.authorized(w, req); !ok {
		return
	}
	writeJSON(w, f.system)
}

func (f *fakeMessenger) handleSignOut(w http.ResponseWriter, req *http.Request) {
	if _, ok := f.authorized(w, req); !ok {
		return
	}
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeMessenger) handleOK(w http.ResponseWriter, req *http.Request) {
	if _, ok := f.authorized(w, req); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeMessenger) handleListChats(w http.ResponseWriter, req *http.Request) {
	uid, ok := f.authorized(w, req)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatListCalls++
	chats := f.chats[uid]
	if chats == nil {
		chats = []api.ChatInfo{}
	}
	writeJSON(w, chats)
}

func (f *fakeMessenger) handleListMembers(w http.ResponseWriter, req *http.Request) {
	if _, ok := f.authorized(w, req); !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.members[chatIDVar(req)]
	if members == nil {
		members = []api.MemberInfo{}
	}
	writeJSON(w, members)
}

func (f *fakeMessenger) handleListMessages(w http.ResponseWriter, req *http.Request) {
	if _, ok := f.authorized(w, req); !ok {
		return
	}
	afterID, _ := strconv.ParseInt(req.URL.Query().Get("after_id"), 10, 64)
	chatID := chatIDVar(req)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterIDs = append(f.afterIDs, afterID)
	out := []api.MessageInfo{}
	for _, m := range f.messages[chatID] {
		if m.MessageID > afterID {
			out = append(out, m)
		}
	}
	writeJSON(w, out)
}

func (f *fakeMessenger) handleSendMessage(w http.ResponseWriter, req *http.Request) {
	uid, ok := f.authorized(w, req)
	if !ok {
		return
	}
	chatID := chatIDVar(req)
	var info api.NewMessageInfo
	_ = json.NewDecoder(req.Body).Decode(&info)

	f.mu.Lock()
	defer f.mu.Unlock()
	var memberID int64
	for _, m := range f.members[chatID] {
		if m.UserID == uid {
			memberID = m.MemberID
		}
	}
	if memberID == 0 {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	var nextID int64 = 1
	for _, m := range f.messages[chatID] {
		if m.MessageID >= nextID {
			nextID = m.MessageID + 1
		}
	}
	msg := api.MessageInfo{MessageID: nextID, MemberID: memberID, Text: info.Text, CreatedOn: 123456}
	f.messages[chatID] = append(f.messages[chatID], msg)
	writeJSON(w, msg)
}

func (f *fakeMessenger) handleJoin(w http.ResponseWriter, req *http.Request) {
	uid, ok := f.authorized(w, req)
	if !ok {
		return
	}
	chatID := chatIDVar(req)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	f.chats[uid] = append(f.chats[uid], api.ChatInfo{ChatID: chatID, DefaultName: "joined"})
	f.members[chatID] = append(f.members[chatID], api.MemberInfo{
		MemberID: chatID*100 + 99, ChatID: chatID,
		ChatDisplayName: "joined", MemberDisplayName: f.users[uid],
		UserID: uid, IsActive: true,
	})
	writeJSON(w, map[string]string{"status": "OK"})
}

func (f *fakeMessenger) handleLeave(w http.ResponseWriter, req *http.Request) {
	uid, ok := f.authorized(w, req)
	if !ok {
		return
	}
	chatID := chatIDVar(req)
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.leaveStatus
	if status == "OK" {
		kept := f.chats[uid][:0]
		for _, c := range f.chats[uid] {
			if c.ChatID != chatID {
				kept = append(kept, c)
			}
		}
		f.chats[uid] = kept
	}
	writeJSON(w, map[string]string{"status": status})
}
