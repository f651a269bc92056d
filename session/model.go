package session

import "time"

// Session is the durable-but-expiring record of one logged-in device.
// It is created on login, registration, and rotation, touched on
// activity pings, and deleted on logout, rotation, or mass revocation.
type Session struct {
	SessionID    string `json:"-"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	CreatedAt    int64  `json:"created_at"`
	LastActivity int64  `json:"last_activity"`
	IPAddress    string `json:"ip_address,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
}

// Metadata carries the optional device details recorded on creation.
type Metadata struct {
	IPAddress string
	UserAgent string
}

// New builds a session record stamped with the current time.
func New(userID, email, sessionID string, meta Metadata) *Session {
	now := time.Now().Unix()
	return &Session{
		SessionID:    sessionID,
		UserID:       userID,
		Email:        email,
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	}
}
