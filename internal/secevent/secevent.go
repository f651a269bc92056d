// Package secevent carries the security events the token core emits:
// reuse detection, family invalidation, rate-limit denials, and
// login/verification outcomes. Events are forwarded asynchronously to
// a caller-supplied sink; the core never blocks a request on logging.
package secevent

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Type names the security event categories.
type Type string

const (
	TypeLoginSuccess        Type = "login_success"
	TypeLoginFailure        Type = "login_failure"
	TypeTokenReuseDetected  Type = "token_reuse_detected"
	TypeFamilyInvalidated   Type = "token_family_invalidated"
	TypeTokenRejected       Type = "token_rejected"
	TypeRateLimited         Type = "rate_limited"
	TypeLogout              Type = "logout"
	TypeLogoutAll           Type = "logout_all"
	TypePasswordReset       Type = "password_reset"
	TypeEmailVerified       Type = "email_verified"
	TypeRegistration        Type = "registration"
	TypeMassRevocation      Type = "mass_revocation"
	TypeEmailDispatchFailed Type = "email_dispatch_failed"
)

// Event is one security-relevant occurrence. Token material never
// appears in events; only hashes and identifiers do.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      Type              `json:"type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	FamilyID  string            `json:"family_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes events into a buffered channel, for tests and
// in-process consumers.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line, the core's entire
// log-output surface.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
