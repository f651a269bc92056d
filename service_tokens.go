package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/tracelight/authcore/internal/rate"
	"github.com/tracelight/authcore/internal/secevent"
	"github.com/tracelight/authcore/ledger"
	"github.com/tracelight/authcore/session"
)

// Refresh exchanges a refresh token for a new access+refresh pair,
// advancing its rotation family. Presenting an already-rotated token
// invalidates the entire family and returns [ErrInvalidToken]; the
// caller cannot tell replay apart from an ordinary bad token, but a
// [SecurityEvent] records the difference.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	// Keyed by token hash, not IP: a stolen token replayed from a new
	// address must share the original's budget.
	if err := s.checkLimit(ctx, rate.PresetTokenRefresh, ledger.HashToken(refreshToken)); err != nil {
		return nil, err
	}

	pair, err := s.refresh.Rotate(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrReuseDetected):
			// Reuse events are emitted by the ledger callback.
			return nil, ErrInvalidToken
		case errors.Is(err, ledger.ErrRefreshInvalid):
			s.emit(ctx, SecurityEvent{
				Type:   secevent.TypeTokenRejected,
				Detail: "refresh",
			})
			return nil, ErrInvalidToken
		default:
			return nil, s.storeErr(err)
		}
	}

	claims, err := s.codec.VerifyAccess(pair.AccessToken)
	if err != nil {
		return nil, err
	}

	sessionID := ledger.HashToken(pair.RefreshToken)
	familyID := ""
	if rec, err := s.refresh.Lookup(ctx, pair.RefreshToken); err == nil {
		familyID = rec.FamilyID
	}

	return &AuthResult{
		UserID:       claims.UserID,
		Email:        claims.Email,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		SessionID:    sessionID,
		FamilyID:     familyID,
	}, nil
}

// Validate verifies an access token and returns its claims. Access
// tokens are stateless; no store round trip happens here.
func (s *Service) Validate(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		s.emit(ctx, SecurityEvent{
			Type:   secevent.TypeTokenRejected,
			Detail: "access",
		})
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TouchSession renews a session's activity timestamp and TTL.
func (s *Service) TouchSession(ctx context.Context, sessionID string) error {
	err := s.sessions.Touch(ctx, sessionID)
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	return s.storeErr(err)
}

// ActiveSessions lists the user's live sessions. Order is not
// guaranteed; callers sort as needed.
func (s *Service) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	sessions, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return sessions, nil
}

// Logout revokes one refresh token and its session. Unknown or
// already-revoked tokens are a no-op; logout is idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	revoked, err := s.refresh.Revoke(ctx, refreshToken)
	if err != nil {
		return s.storeErr(err)
	}
	if revoked {
		s.emit(ctx, SecurityEvent{
			Type:      secevent.TypeLogout,
			SessionID: ledger.HashToken(refreshToken),
		})
	}
	return nil
}

// LogoutAll revokes every refresh token and session the user holds,
// across all devices and families. Returns the number of refresh
// tokens revoked.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	revoked, err := s.refresh.RevokeAll(ctx, userID)
	if err != nil {
		return 0, s.storeErr(err)
	}
	if _, err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return revoked, s.storeErr(err)
	}
	s.emit(ctx, SecurityEvent{
		Type:   secevent.TypeLogoutAll,
		UserID: userID,
		Metadata: map[string]string{
			"revoked": strconv.Itoa(revoked),
		},
	})
	return revoked, nil
}
