package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned on a validation miss. A miss is a normal
// outcome, not a failure.
var ErrSessionNotFound = errors.New("session not found")

// ErrRedisUnavailable is returned when the session backend is
// unreachable. Distinct from a miss by design.
var ErrRedisUnavailable = errors.New("session store unavailable")

// ErrSessionCorrupt is returned when a stored session blob cannot be
// decoded.
var ErrSessionCorrupt = errors.New("session record corrupt")

// deleteSessionScript removes a session key and its user-set membership
// in one atomic step, so a half-deleted session can never linger in the
// per-user index.
const deleteSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
redis.call("DEL", KEYS[1])
local ok, sess = pcall(cjson.decode, data)
if ok and sess.user_id then
  redis.call("SREM", ARGV[1] .. sess.user_id, ARGV[2])
end
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is the Redis-backed session store. Session TTL is enforced by
// Redis key expiry; a present key is a live session.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	userPrefix string
}

// NewStore creates a session Store. prefix namespaces all session keys;
// an empty prefix defaults to "session".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "session"
	}
	return &Store{
		redis:      client,
		prefix:     prefix + ":",
		userPrefix: prefix + ":user:",
	}
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) userSessionsKey(userID string) string {
	return s.userPrefix + userID
}

// Save writes the session and registers it in the owner's session set in
// a single round trip. The set outlives the session slightly so purges
// see every live id.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	encoded, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, s.sessionKey(sess.SessionID), encoded, ttl)
	pipe.SAdd(ctx, s.userSessionsKey(sess.UserID), sess.SessionID)
	pipe.Expire(ctx, s.userSessionsKey(sess.UserID), ttl+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the session for an id, or ErrSessionNotFound on a miss.
// It never consumes the session.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return &sess, nil
}

// Delete removes a session. Deleting an absent session succeeds.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	err := deleteSessionLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID)},
		s.userPrefix, sessionID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session belonging to userID and returns
// how many were dropped. Used when second-factor settings change.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	setKey := s.userSessionsKey(userID)

	ids, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.sessionKey(id))
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(ids), nil
}
