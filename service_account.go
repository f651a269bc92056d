package authcore

import (
	"context"
	"errors"

	"github.com/tracelight/authcore/internal/rate"
	"github.com/tracelight/authcore/internal/secevent"
	"github.com/tracelight/authcore/internal/stores"
	"github.com/tracelight/authcore/password"
)

// Register creates an account, logs it in, and queues a verification
// mail. The returned refresh token starts a fresh rotation family.
func (s *Service) Register(ctx context.Context, email, pass string) (*AuthResult, error) {
	if err := s.checkLimit(ctx, rate.PresetRegistration, rateIdentifier(ctx, email)); err != nil {
		return nil, err
	}

	if len(pass) < 8 {
		return nil, ErrWeakPassword
	}
	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return nil, ErrWeakPassword
	}

	user, err := s.users.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	result, err := s.establishSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, SecurityEvent{
		Type:      secevent.TypeRegistration,
		UserID:    user.ID,
		SessionID: result.SessionID,
	})

	// Registration itself already succeeded; a lost verification mail
	// is recoverable through RequestEmailVerification, but must not
	// vanish without a trace.
	if verifyToken, err := s.ephemeral.Create(ctx, user.ID, user.Email, stores.KindEmailVerification); err == nil {
		s.dispatchMail(MailVerification, user.Email, map[string]string{"token": verifyToken})
	} else {
		s.emit(ctx, SecurityEvent{
			Type:   secevent.TypeEmailDispatchFailed,
			UserID: user.ID,
			Detail: string(MailVerification),
		})
	}
	s.dispatchMail(MailWelcome, user.Email, nil)

	return result, nil
}

// Login authenticates a password and opens a new session. Unknown
// email and wrong password collapse into [ErrInvalidCredentials].
func (s *Service) Login(ctx context.Context, email, pass string) (*AuthResult, error) {
	identifier := rateIdentifier(ctx, email)
	if err := s.checkLimit(ctx, rate.PresetLogin, identifier); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.emit(ctx, SecurityEvent{
				Type:   secevent.TypeLoginFailure,
				Detail: "unknown email",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.hasher.Verify(pass, user.PasswordHash); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			s.emit(ctx, SecurityEvent{
				Type:   secevent.TypeLoginFailure,
				UserID: user.ID,
				Detail: "password mismatch",
			})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	result, err := s.establishSession(ctx, user)
	if err != nil {
		return nil, err
	}

	// A successful login clears the caller's failure budget so a
	// forgotten-then-remembered password does not lock the account
	// window.
	s.limiter.Reset(ctx, rate.PresetLogin.Endpoint, identifier)

	s.emit(ctx, SecurityEvent{
		Type:      secevent.TypeLoginSuccess,
		UserID:    user.ID,
		SessionID: result.SessionID,
		FamilyID:  result.FamilyID,
	})

	return result, nil
}
