// Package ledger tracks every refresh token issued, grouped into
// rotation families, and detects replay of rotated-away tokens.
//
// A family is the lineage of refresh tokens descending from one login
// via successive rotations. At any instant exactly one hash per family
// is the current, unconsumed token; rotating it evicts it from the
// family set and admits its successor. A token whose record exists but
// whose hash is no longer in its family set has already been spent —
// presenting it again means theft, and the whole lineage is burned.
//
// The membership check and the advance happen inside a single Lua
// script, so two concurrent rotations of the same token cannot both
// succeed.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tracelight/authcore/session"
	"github.com/tracelight/authcore/token"
)

var (
	// ErrRefreshInvalid is returned when the presented token fails
	// verification or has no ledger record. Indistinguishable from a
	// never-issued token by design.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrReuseDetected signals that an already-rotated token was
	// presented again. Its family has been invalidated by the time
	// this error is returned. Not surfaced to clients directly.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrStoreUnavailable wraps Redis transport failures; rotation
	// fails closed on it.
	ErrStoreUnavailable = errors.New("refresh ledger unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusReuse    int64 = 1
	rotateStatusAdvanced int64 = 2
)

// rotateScript is the compare-and-advance step of rotation. It runs
// atomically: check the old hash is still the current member of its
// family, evict it, and admit the successor — or report replay.
//
// The spent record is kept (outside the family set) until its natural
// TTL so a later replay of it is recognized and its family remains
// derivable for whole-lineage invalidation.
const rotateScript = `
local data = redis.call('GET', KEYS[1])
if not data then
  return {0}
end
local rec = cjson.decode(data)
local family_key = ARGV[3] .. rec['family_id']
if redis.call('SISMEMBER', family_key, ARGV[1]) == 0 then
  return {1, data}
end
rec['rotation_count'] = rec['rotation_count'] + 1
rec['created_at'] = tonumber(ARGV[4])
rec['last_rotated_at'] = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])
redis.call('SREM', family_key, ARGV[1])
redis.call('SET', KEYS[2], cjson.encode(rec), 'EX', ttl)
redis.call('SADD', family_key, ARGV[2])
redis.call('EXPIRE', family_key, ttl)
return {2, data}
`

var rotateLua = redis.NewScript(rotateScript)

// Record is one ledger entry, keyed by the SHA-256 of the token string.
type Record struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	FamilyID      string `json:"family_id"`
	RotationCount int    `json:"rotation_count"`
	CreatedAt     int64  `json:"created_at"`
	LastRotatedAt int64  `json:"last_rotated_at"`
}

// Ledger composes the token codec and session store to implement
// refresh-token rotation with replay detection. Safe for concurrent
// use; all bookkeeping lives in Redis, never in process memory.
type Ledger struct {
	redis    redis.UniversalClient
	codec    *token.Codec
	sessions *session.Store
	onReuse  func(rec Record, hash string)
}

// New creates a Ledger on the given Redis client. onReuse, if non-nil,
// is called synchronously whenever replay is detected, before the
// family is invalidated.
func New(redisClient redis.UniversalClient, codec *token.Codec, sessions *session.Store, onReuse func(rec Record, hash string)) *Ledger {
	return &Ledger{
		redis:    redisClient,
		codec:    codec,
		sessions: sessions,
		onReuse:  onReuse,
	}
}

// HashToken is the ledger key derivation: full-token SHA-256, hex
// encoded. Session IDs for refresh-backed sessions use the same hash.
func HashToken(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}

func recordKey(hash string) string {
	return "refresh_token:" + hash
}

const familyPrefix = "token_family:"

func familyKey(familyID string) string {
	return familyPrefix + familyID
}

// Store writes the ledger record for a freshly issued refresh token.
// An empty familyID starts a new family; rotation passes the existing
// one. Both the record and the family set carry a TTL matching the
// token's own expiry. Returns the familyID in effect.
func (l *Ledger) Store(ctx context.Context, refreshToken, userID, email, familyID string) (string, error) {
	claims, err := l.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return "", ErrRefreshInvalid
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return "", ErrRefreshInvalid
	}

	if familyID == "" {
		familyID = uuid.NewString()
	}

	now := time.Now().Unix()
	rec := Record{
		UserID:        userID,
		Email:         email,
		FamilyID:      familyID,
		CreatedAt:     now,
		LastRotatedAt: now,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	hash := HashToken(refreshToken)
	fKey := familyKey(familyID)
	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(hash), data, ttl)
		pipe.SAdd(ctx, fKey, hash)
		pipe.Expire(ctx, fKey, ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return familyID, nil
}

// Rotate exchanges a valid, current refresh token for a fresh
// access+refresh pair, advancing its family. The session keyed by the
// old token hash is replaced by one keyed by the new hash.
//
// Replay of an already-rotated token returns [ErrReuseDetected] after
// invalidating the entire family, including the legitimately current
// token. Invalid, expired, or unknown tokens return
// [ErrRefreshInvalid].
func (l *Ledger) Rotate(ctx context.Context, oldToken string) (*token.Pair, error) {
	claims, err := l.codec.VerifyRefresh(oldToken)
	if err != nil {
		return nil, ErrRefreshInvalid
	}

	pair, err := l.codec.IssuePair(claims.UserID, claims.Email)
	if err != nil {
		return nil, err
	}

	oldHash := HashToken(oldToken)
	newHash := HashToken(pair.RefreshToken)
	ttl := int64(l.codec.RefreshTTL().Seconds())

	res, err := rotateLua.Run(ctx, l.redis,
		[]string{recordKey(oldHash), recordKey(newHash)},
		oldHash,
		newHash,
		familyPrefix,
		time.Now().Unix(),
		ttl,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch status {
	case rotateStatusNotFound:
		// Already consumed and past its record TTL, or never issued.
		// No family is derivable; there is nothing left to burn.
		return nil, ErrRefreshInvalid

	case rotateStatusReuse:
		rec, decErr := decodeScriptRecord(parts)
		if decErr != nil {
			return nil, decErr
		}
		if l.onReuse != nil {
			l.onReuse(rec, oldHash)
		}
		if err := l.InvalidateFamily(ctx, rec.FamilyID); err != nil {
			return nil, err
		}
		// The replayed token's own remnants are outside the family set.
		if err := l.redis.Del(ctx, recordKey(oldHash)).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := l.sessions.Delete(ctx, oldHash); err != nil {
			return nil, err
		}
		return nil, ErrReuseDetected

	case rotateStatusAdvanced:
		if err := l.replaceSession(ctx, oldHash, newHash); err != nil {
			return nil, err
		}
		return &pair, nil

	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrStoreUnavailable)
	}
}

// replaceSession carries device metadata from the session keyed by the
// consumed token over to one keyed by its successor.
func (l *Ledger) replaceSession(ctx context.Context, oldHash, newHash string) error {
	old, err := l.sessions.Get(ctx, oldHash)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}

	var next *session.Session
	if old != nil {
		next = session.New(old.UserID, old.Email, newHash, session.Metadata{
			IPAddress: old.IPAddress,
			UserAgent: old.UserAgent,
		})
	} else {
		// Session evaporated early; rebuild from the ledger record.
		rec, recErr := l.getRecord(ctx, newHash)
		if recErr != nil {
			return recErr
		}
		next = session.New(rec.UserID, rec.Email, newHash, session.Metadata{})
	}

	if err := l.sessions.Create(ctx, next); err != nil {
		return err
	}
	return l.sessions.Delete(ctx, oldHash)
}

// Revoke removes one token's record, its family membership, and its
// session, leaving siblings intact. Reports whether a record existed.
func (l *Ledger) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	hash := HashToken(refreshToken)

	rec, err := l.getRecord(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) {
			return false, nil
		}
		return false, err
	}

	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, familyKey(rec.FamilyID), hash)
		pipe.Del(ctx, recordKey(hash))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := l.sessions.Delete(ctx, hash); err != nil {
		return false, err
	}
	return true, nil
}

// RevokeAll scans the ledger for the user's records and deletes them
// all, with their families and sessions. Used for bulk logout and the
// forced password-change path. Returns the number of records removed.
func (l *Ledger) RevokeAll(ctx context.Context, userID string) (int, error) {
	var (
		cursor   uint64
		count    int
		families = map[string]struct{}{}
	)

	for {
		keys, next, err := l.redis.Scan(ctx, cursor, recordKey("*"), 100).Result()
		if err != nil {
			return count, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, key := range keys {
			data, getErr := l.redis.Get(ctx, key).Bytes()
			if getErr != nil {
				if errors.Is(getErr, redis.Nil) {
					continue
				}
				return count, fmt.Errorf("%w: %v", ErrStoreUnavailable, getErr)
			}

			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			if rec.UserID != userID {
				continue
			}

			hash := key[len(recordKey("")):]
			if err := l.redis.Del(ctx, key).Err(); err != nil {
				return count, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			if err := l.sessions.Delete(ctx, hash); err != nil {
				return count, err
			}
			families[rec.FamilyID] = struct{}{}
			count++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	for familyID := range families {
		if err := l.redis.Del(ctx, familyKey(familyID)).Err(); err != nil {
			return count, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return count, nil
}

// InvalidateFamily deletes every record in the family, the family set
// itself, and each member's session. Used by reuse detection and by
// explicit log-out-everywhere.
func (l *Ledger) InvalidateFamily(ctx context.Context, familyID string) error {
	fKey := familyKey(familyID)

	hashes, err := l.redis.SMembers(ctx, fKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, hash := range hashes {
		if err := l.redis.Del(ctx, recordKey(hash)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := l.sessions.Delete(ctx, hash); err != nil {
			return err
		}
	}

	if err := l.redis.Del(ctx, fKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// InvalidateFamilyForToken resolves a token to its family and burns
// the lineage. A token with no surviving record is a no-op.
func (l *Ledger) InvalidateFamilyForToken(ctx context.Context, refreshToken string) error {
	rec, err := l.getRecord(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) {
			return nil
		}
		return err
	}
	return l.InvalidateFamily(ctx, rec.FamilyID)
}

// Lookup returns the ledger record for a token, if one survives.
func (l *Ledger) Lookup(ctx context.Context, refreshToken string) (*Record, error) {
	rec, err := l.getRecord(ctx, HashToken(refreshToken))
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *Ledger) getRecord(ctx context.Context, hash string) (Record, error) {
	var rec Record

	data, err := l.redis.Get(ctx, recordKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rec, ErrRefreshInvalid
		}
		return rec, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("%w: corrupt ledger record: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func decodeScriptRecord(parts []interface{}) (Record, error) {
	var rec Record
	if len(parts) < 2 {
		return rec, fmt.Errorf("%w: missing record payload", ErrStoreUnavailable)
	}

	var blob []byte
	switch v := parts[1].(type) {
	case string:
		blob = []byte(v)
	case []byte:
		blob = v
	default:
		return rec, fmt.Errorf("%w: invalid record payload", ErrStoreUnavailable)
	}

	if err := json.Unmarshal(blob, &rec); err != nil {
		return rec, fmt.Errorf("%w: corrupt ledger record: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}
