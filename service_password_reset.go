package authcore

import (
	"context"
	"errors"

	"github.com/tracelight/authcore/internal/rate"
	"github.com/tracelight/authcore/internal/secevent"
	"github.com/tracelight/authcore/internal/stores"
	"github.com/tracelight/authcore/ledger"
)

// RequestPasswordReset issues a single-use reset token for the account
// behind email and queues the mail. Unknown addresses return nil with
// no observable difference; account existence must not be probeable
// through this endpoint.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if err := s.checkLimit(ctx, rate.PresetPasswordResetRequest, rateIdentifier(ctx, email)); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	// One live reset token per account.
	if _, err := s.ephemeral.InvalidateAllForUser(ctx, user.ID, stores.KindPasswordReset); err != nil {
		return s.storeErr(err)
	}

	resetToken, err := s.ephemeral.Create(ctx, user.ID, user.Email, stores.KindPasswordReset)
	if err != nil {
		return s.storeErr(err)
	}

	s.dispatchMail(MailPasswordReset, user.Email, map[string]string{"token": resetToken})
	return nil
}

// ConfirmPasswordReset redeems a reset token, replaces the password,
// and revokes every session, refresh token, and rotation family the
// account holds. A compromised credential must not survive its own
// reset.
//
// The new password is hashed before the token is consumed so a policy
// failure leaves the token redeemable.
func (s *Service) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	// Keyed by token hash, never IP: a stolen token replayed from many
	// addresses shares one guessing budget.
	if err := s.checkLimit(ctx, rate.PresetPasswordResetConfirm, ledger.HashToken(resetToken)); err != nil {
		return err
	}

	if len(newPassword) < 8 {
		return ErrWeakPassword
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return ErrWeakPassword
	}

	rec, err := s.ephemeral.Consume(ctx, resetToken, stores.KindPasswordReset)
	if err != nil {
		if errors.Is(err, stores.ErrEphemeralNotFound) {
			s.emit(ctx, SecurityEvent{
				Type:   secevent.TypeTokenRejected,
				Detail: "password_reset",
			})
			return ErrInvalidToken
		}
		return s.storeErr(err)
	}

	if err := s.users.UpdatePasswordHash(ctx, rec.UserID, hash); err != nil {
		return err
	}

	revoked, err := s.refresh.RevokeAll(ctx, rec.UserID)
	if err != nil {
		return s.storeErr(err)
	}
	if _, err := s.sessions.DeleteAllForUser(ctx, rec.UserID); err != nil {
		return s.storeErr(err)
	}

	s.emit(ctx, SecurityEvent{
		Type:   secevent.TypePasswordReset,
		UserID: rec.UserID,
	})
	if revoked > 0 {
		s.emit(ctx, SecurityEvent{
			Type:   secevent.TypeMassRevocation,
			UserID: rec.UserID,
			Detail: "password_reset",
		})
	}
	return nil
}
