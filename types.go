package authcore

import (
	"context"
	"io"

	"github.com/tracelight/authcore/internal/rate"
	"github.com/tracelight/authcore/internal/secevent"
	"github.com/tracelight/authcore/session"
	"github.com/tracelight/authcore/token"
)

// UserRecord is the minimal account view the token core needs. The
// issue tracker's own user model is richer; only these fields cross
// the boundary.
type UserRecord struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
}

// UserProvider is the user-record lookup collaborator. Implementations
// back onto the tracker's user table.
//
// GetByEmail and GetByID return [ErrUserNotFound] (or an error wrapping
// it) for unknown accounts; Create returns [ErrEmailTaken] for a
// duplicate email.
type UserProvider interface {
	GetByEmail(ctx context.Context, email string) (UserRecord, error)
	GetByID(ctx context.Context, userID string) (UserRecord, error)
	Create(ctx context.Context, email, passwordHash string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, userID string) error
}

// MailKind selects the notice template on the email-dispatch side.
type MailKind string

const (
	MailVerification  MailKind = "verification"
	MailPasswordReset MailKind = "password_reset"
	MailWelcome       MailKind = "welcome"
)

// Mailer is the email-dispatch collaborator. Send is invoked
// fire-and-forget on its own goroutine; a false return is recorded as
// a security event and otherwise ignored.
type Mailer interface {
	Send(kind MailKind, to string, data map[string]string) bool
}

// AuthResult is returned by Login, Register, and Refresh.
type AuthResult struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	SessionID    string
	FamilyID     string
}

// Claims is the verified payload of an access or refresh token.
type Claims = token.Claims

// Session is the record of one logged-in device, as returned by
// [Service.ActiveSessions].
type Session = session.Session

// SecurityEvent is one security-relevant occurrence emitted by the
// Service (reuse detection, rate-limit denials, login outcomes).
type SecurityEvent = secevent.Event

// EventSink receives [SecurityEvent] values from the Service's
// dispatcher.
type EventSink = secevent.Sink

// NoOpSink discards all events.
type NoOpSink = secevent.NoOpSink

// ChannelSink is a buffered channel-based [EventSink].
type ChannelSink = secevent.ChannelSink

// NewChannelSink creates a [ChannelSink] with the given capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return secevent.NewChannelSink(buffer)
}

// NewJSONWriterSink creates an [EventSink] writing one JSON object per
// line to w.
func NewJSONWriterSink(w io.Writer) EventSink {
	return secevent.NewJSONWriterSink(w)
}

// RatePreset is a named fixed-window budget for one endpoint.
type RatePreset = rate.Preset

// RateLimitResult reports one request's standing against its window.
type RateLimitResult = rate.Result

// Endpoint budgets mandated for the tracker's auth surface.
var (
	PresetLogin                = rate.PresetLogin
	PresetRegistration         = rate.PresetRegistration
	PresetPasswordResetRequest = rate.PresetPasswordResetRequest
	PresetPasswordResetConfirm = rate.PresetPasswordResetConfirm
	PresetEmailVerification    = rate.PresetEmailVerification
	PresetTokenRefresh         = rate.PresetTokenRefresh
)
