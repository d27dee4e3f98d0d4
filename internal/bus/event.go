package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used by msgr:
//
//	store.users          local users changed
//	store.chats          local chats changed
//	store.members        local members changed
//	store.messages       messages changed; payload carries the chat id
//	session.signed_in    a user signed in; payload is the user id
//	session.signed_out   session cleared
//	settings.server_url  server base URL changed; the remote client rebuilds
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
