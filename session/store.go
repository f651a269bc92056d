package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned when a session ID has no live record.
var ErrSessionNotFound = errors.New("session not found")

// ErrStoreUnavailable wraps Redis transport failures. Callers treat it
// as fail-closed: a session that cannot be read does not exist.
var ErrStoreUnavailable = errors.New("session store unavailable")

// deleteSessionScript removes a session record and its index entry in
// one step so a concurrent ListActive never observes the record gone
// but the index entry still present as a permanent phantom.
const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// touchSessionScript refreshes last_activity inside the stored JSON
// and extends the TTL, atomically with the existence check.
const touchSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local sess = cjson.decode(data)
sess["last_activity"] = tonumber(ARGV[1])
redis.call("SET", KEYS[1], cjson.encode(sess), "PX", ARGV[2])
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

// Store is the Redis-backed session store. All methods are safe for
// concurrent use; the only shared state is the Redis client itself.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore creates a session [Store] on the given Redis client.
// prefix namespaces the keys (default "session"); ttl is the session
// lifetime applied on Create and renewed on Touch.
func NewStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "session"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return "user_sessions:" + userID
}

// Create persists the session and adds it to the per-user index. The
// index set inherits the session TTL so abandoned indexes eventually
// disappear with their last session.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	sessionKey := s.key(sess.SessionID)
	userKey := s.userKey(sess.UserID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey, data, s.ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.Expire(ctx, userKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Get retrieves a session by ID. Returns [ErrSessionNotFound] when the
// record is absent or expired.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: corrupt session record: %v", ErrStoreUnavailable, err)
	}
	sess.SessionID = sessionID

	return &sess, nil
}

// Touch refreshes the session's LastActivity stamp and renews its TTL.
// Touching a missing session returns [ErrSessionNotFound].
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	res, err := touchSessionLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		time.Now().Unix(),
		s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes the session and its index entry. Deleting a missing
// session is a no-op, not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	_, err = deleteSessionLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.userKey(sess.UserID)},
		sessionID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session for the user and clears the
// index. Returns the number of live records deleted.
//
// The read and delete phases are separate round-trips; a session
// created in between survives this call and is caught by the next
// one. Logout-all is best-effort over that narrow window.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		if err := s.redis.Del(ctx, userKey).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return 0, nil
	}

	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		keys = append(keys, s.key(id))
	}

	deleted, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.redis.Del(ctx, userKey).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return int(deleted), nil
}

// ListActive returns the user's live sessions. Index entries whose
// backing record has expired are removed as a side effect rather than
// returned as phantom sessions.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	userKey := s.userKey(userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, id := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sessions := make([]*Session, 0, len(sessionIDs))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, sessionIDs[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			stale = append(stale, sessionIDs[i])
			continue
		}
		sess.SessionID = sessionIDs[i]
		sessions = append(sessions, &sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return sessions, nil
}

// PruneStale drops index entries whose backing record no longer
// exists and returns how many were removed.
func (s *Store) PruneStale(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(sessionIDs))
	for i, id := range sessionIDs {
		cmds[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var stale []interface{}
	for i, cmd := range cmds {
		n, cmdErr := cmd.Result()
		if cmdErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}
		if n == 0 {
			stale = append(stale, sessionIDs[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	removed, err := s.redis.SRem(ctx, userKey, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(removed), nil
}

// Ping reports point-in-time Redis availability and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}
