package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tracelight/authcore/internal/rate"
	"github.com/tracelight/authcore/internal/secevent"
	"github.com/tracelight/authcore/internal/stores"
	"github.com/tracelight/authcore/ledger"
	"github.com/tracelight/authcore/password"
	"github.com/tracelight/authcore/session"
	"github.com/tracelight/authcore/token"
)

// Service is the token and session core. Build one with [Builder] at
// startup; all methods are safe for concurrent use.
type Service struct {
	config Config
	redis  redis.UniversalClient

	codec     *token.Codec
	hasher    *password.Hasher
	sessions  *session.Store
	refresh   *ledger.Ledger
	limiter   *rate.Limiter
	ephemeral *stores.EphemeralStore
	events    *secevent.Dispatcher

	users  UserProvider
	mailer Mailer
}

// Close drains and stops the event dispatcher. Call it on shutdown;
// the Service must not be used afterwards.
func (s *Service) Close() {
	if s == nil {
		return
	}
	if s.events != nil {
		s.events.Close()
	}
}

// EventsDropped reports how many security events were discarded
// because the dispatch buffer was full.
func (s *Service) EventsDropped() uint64 {
	if s == nil || s.events == nil {
		return 0
	}
	return s.events.Dropped()
}

// Ping verifies Redis connectivity and reports the round-trip time.
func (s *Service) Ping(ctx context.Context) (time.Duration, error) {
	if s == nil || s.sessions == nil {
		return 0, ErrNotReady
	}
	rtt, err := s.sessions.Ping(ctx)
	if err != nil {
		return 0, s.storeErr(err)
	}
	return rtt, nil
}

// AccessTTL reports the configured access-token lifetime. HTTP layers
// use it for cookie and cache expiry.
func (s *Service) AccessTTL() time.Duration { return s.codec.AccessTTL() }

// RefreshTTL reports the configured refresh-token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.codec.RefreshTTL() }

func (s *Service) emit(ctx context.Context, event SecurityEvent) {
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	s.events.Emit(ctx, event)
}

// onTokenReuse is wired into the refresh ledger; it runs before the
// family is invalidated.
func (s *Service) onTokenReuse(rec ledger.Record, hash string) {
	ctx := context.Background()
	s.emit(ctx, SecurityEvent{
		Type:      secevent.TypeTokenReuseDetected,
		UserID:    rec.UserID,
		SessionID: hash,
		FamilyID:  rec.FamilyID,
	})
	s.emit(ctx, SecurityEvent{
		Type:     secevent.TypeFamilyInvalidated,
		UserID:   rec.UserID,
		FamilyID: rec.FamilyID,
	})
}

// checkLimit enforces a preset budget and records the denial. Auth
// flows call it before touching any account state.
func (s *Service) checkLimit(ctx context.Context, p RatePreset, identifier string) error {
	if s.config.DisableRateLimits {
		return nil
	}
	res := s.limiter.AllowPreset(ctx, p, identifier)
	if !res.Allowed {
		s.emit(ctx, SecurityEvent{
			Type:   secevent.TypeRateLimited,
			Detail: p.Endpoint,
			Metadata: map[string]string{
				"retry_after": res.RetryAfter.String(),
			},
		})
		return ErrRateLimited
	}
	return nil
}

// AllowRate counts one request against a preset budget and reports
// the window standing, for HTTP layers that surface rate-limit
// headers. Denials are recorded as security events.
func (s *Service) AllowRate(ctx context.Context, p RatePreset, identifier string) RateLimitResult {
	if s.config.DisableRateLimits {
		// ResetAt still gets a real timestamp; HTTP layers put it in a
		// header and must not surface the zero time.
		return RateLimitResult{
			Allowed:   true,
			Limit:     p.Max,
			Remaining: p.Max,
			ResetAt:   time.Now().Add(p.Window),
		}
	}
	res := s.limiter.AllowPreset(ctx, p, identifier)
	if !res.Allowed {
		s.emit(ctx, SecurityEvent{
			Type:   secevent.TypeRateLimited,
			Detail: p.Endpoint,
		})
	}
	return res
}

// rateIdentifier prefers the caller's IP and falls back to the given
// account-scoped value when no IP was attached to the context.
func rateIdentifier(ctx context.Context, fallback string) string {
	if ip := clientIPFromContext(ctx); ip != "" {
		return ip
	}
	return fallback
}

// storeErr folds the per-package unavailability sentinels into the
// single one callers check against.
func (s *Service) storeErr(err error) error {
	switch {
	case errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, ledger.ErrStoreUnavailable),
		errors.Is(err, stores.ErrStoreUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

// dispatchMail hands a notice to the mailer on its own goroutine. A
// missing mailer or a failed send never fails the calling flow.
func (s *Service) dispatchMail(kind MailKind, to string, data map[string]string) {
	if s.mailer == nil {
		return
	}
	go func() {
		if !s.mailer.Send(kind, to, data) {
			s.emit(context.Background(), SecurityEvent{
				Type:   secevent.TypeEmailDispatchFailed,
				Detail: string(kind),
			})
		}
	}()
}

// establishSession issues a token pair, opens its rotation family, and
// creates the session record keyed by the refresh-token hash.
func (s *Service) establishSession(ctx context.Context, user UserRecord) (*AuthResult, error) {
	pair, err := s.codec.IssuePair(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	familyID, err := s.refresh.Store(ctx, pair.RefreshToken, user.ID, user.Email, "")
	if err != nil {
		return nil, s.storeErr(err)
	}

	sessionID := ledger.HashToken(pair.RefreshToken)
	sess := session.New(user.ID, user.Email, sessionID, session.Metadata{
		IPAddress: clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, s.storeErr(err)
	}

	return &AuthResult{
		UserID:       user.ID,
		Email:        user.Email,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		SessionID:    sessionID,
		FamilyID:     familyID,
	}, nil
}
