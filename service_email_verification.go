package authcore

import (
	"context"
	"errors"

	"github.com/tracelight/authcore/internal/rate"
	"github.com/tracelight/authcore/internal/secevent"
	"github.com/tracelight/authcore/internal/stores"
)

// RequestEmailVerification issues a fresh single-use verification
// token and queues the mail. Any token issued earlier for the same
// user stops working. The token is also returned for delivery
// channels other than email.
func (s *Service) RequestEmailVerification(ctx context.Context, userID string) (string, error) {
	if err := s.checkLimit(ctx, rate.PresetEmailVerification, rateIdentifier(ctx, userID)); err != nil {
		return "", err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	if user.EmailVerified {
		return "", ErrAlreadyVerified
	}

	if _, err := s.ephemeral.InvalidateAllForUser(ctx, userID, stores.KindEmailVerification); err != nil {
		return "", s.storeErr(err)
	}

	verifyToken, err := s.ephemeral.Create(ctx, user.ID, user.Email, stores.KindEmailVerification)
	if err != nil {
		return "", s.storeErr(err)
	}

	s.dispatchMail(MailVerification, user.Email, map[string]string{"token": verifyToken})
	return verifyToken, nil
}

// ConfirmEmailVerification redeems a verification token and marks the
// account's email as confirmed. The token is consumed even if it was
// already confirmed out of band.
func (s *Service) ConfirmEmailVerification(ctx context.Context, verifyToken string) error {
	rec, err := s.ephemeral.Consume(ctx, verifyToken, stores.KindEmailVerification)
	if err != nil {
		if errors.Is(err, stores.ErrEphemeralNotFound) {
			s.emit(ctx, SecurityEvent{
				Type:   secevent.TypeTokenRejected,
				Detail: "email_verification",
			})
			return ErrInvalidToken
		}
		return s.storeErr(err)
	}

	if err := s.users.MarkEmailVerified(ctx, rec.UserID); err != nil {
		return err
	}

	s.emit(ctx, SecurityEvent{
		Type:   secevent.TypeEmailVerified,
		UserID: rec.UserID,
	})
	return nil
}
