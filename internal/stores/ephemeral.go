// Package stores holds the ephemeral single-use token store used for
// email verification and password reset links.
//
// Tokens are opaque random strings keyed directly in Redis with a
// kind-specific TTL. Consumption is one atomic get-and-delete, so two
// concurrent requests can never both spend the same token.
package stores

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrEphemeralNotFound covers missing, expired, already-consumed,
	// and wrong-kind tokens alike; callers cannot distinguish them.
	ErrEphemeralNotFound = errors.New("ephemeral token not found")
	// ErrStoreUnavailable wraps Redis transport failures.
	ErrStoreUnavailable = errors.New("ephemeral token store unavailable")
)

// Kind selects the token type and with it the key prefix and TTL.
type Kind int

const (
	KindEmailVerification Kind = iota
	KindPasswordReset
)

func (k Kind) prefix() string {
	switch k {
	case KindPasswordReset:
		return "reset_token:"
	default:
		return "verify_token:"
	}
}

// TTL is how long a token of this kind stays redeemable.
func (k Kind) TTL() time.Duration {
	switch k {
	case KindPasswordReset:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

const tokenRawSize = 32

// Token is the record behind one ephemeral token string.
type Token struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Kind      Kind   `json:"kind"`
	CreatedAt int64  `json:"created_at"`
}

// consumeScript deletes the record only when it exists and carries the
// expected kind; a wrong-kind presentation leaves the token intact.
const consumeScript = `
local data = redis.call('GET', KEYS[1])
if not data then
  return false
end
local rec = cjson.decode(data)
if rec['kind'] ~= tonumber(ARGV[1]) then
  return false
end
redis.call('DEL', KEYS[1])
return data
`

var consumeLua = redis.NewScript(consumeScript)

// EphemeralStore issues and redeems single-use tokens.
type EphemeralStore struct {
	redis redis.UniversalClient
}

// New creates an [EphemeralStore] on the given Redis client.
func New(redisClient redis.UniversalClient) *EphemeralStore {
	return &EphemeralStore{redis: redisClient}
}

// Create mints a fresh token for the user and stores it under the
// kind's prefix with the kind's TTL. Returns the opaque token string.
func (s *EphemeralStore) Create(ctx context.Context, userID, email string, kind Kind) (string, error) {
	var raw [tokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	tokenStr := base64.RawURLEncoding.EncodeToString(raw[:])

	rec := Token{
		UserID:    userID,
		Email:     email,
		Kind:      kind,
		CreatedAt: time.Now().Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	if err := s.redis.Set(ctx, kind.prefix()+tokenStr, data, kind.TTL()).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tokenStr, nil
}

// Verify looks a token up without consuming it.
func (s *EphemeralStore) Verify(ctx context.Context, tokenStr string, kind Kind) (*Token, error) {
	data, err := s.redis.Get(ctx, kind.prefix()+tokenStr).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEphemeralNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeToken(data, kind)
}

// Consume atomically redeems and deletes the token. A second Consume
// of the same token string returns [ErrEphemeralNotFound].
func (s *EphemeralStore) Consume(ctx context.Context, tokenStr string, kind Kind) (*Token, error) {
	res, err := consumeLua.Run(ctx, s.redis,
		[]string{kind.prefix() + tokenStr},
		int(kind),
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Script returned false: absent or wrong kind.
			return nil, ErrEphemeralNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var data []byte
	switch v := res.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, fmt.Errorf("%w: unexpected script result", ErrStoreUnavailable)
	}

	return decodeToken(data, kind)
}

// InvalidateAllForUser deletes every outstanding token of the kind for
// the user, for reissue flows where the old link must stop working.
// Returns the number removed.
func (s *EphemeralStore) InvalidateAllForUser(ctx context.Context, userID string, kind Kind) (int, error) {
	var (
		cursor uint64
		count  int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, kind.prefix()+"*", 100).Result()
		if err != nil {
			return count, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, key := range keys {
			data, getErr := s.redis.Get(ctx, key).Bytes()
			if getErr != nil {
				if errors.Is(getErr, redis.Nil) {
					continue
				}
				return count, fmt.Errorf("%w: %v", ErrStoreUnavailable, getErr)
			}

			var rec Token
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			if rec.UserID != userID {
				continue
			}

			if err := s.redis.Del(ctx, key).Err(); err != nil {
				return count, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			count++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return count, nil
}

func decodeToken(data []byte, kind Kind) (*Token, error) {
	var rec Token
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt token record: %v", ErrStoreUnavailable, err)
	}
	if rec.Kind != kind {
		return nil, ErrEphemeralNotFound
	}
	return &rec, nil
}
