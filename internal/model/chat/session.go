package chat

import "time"

// Session captures a transient anonymous conversation. History lives in the
// external store under the session key; the struct itself carries only what
// handlers need to echo back.
type Session struct {
	ID        string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
