package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	touchStatusNotFound    int64 = 0
	touchStatusExpired     int64 = 1
	touchStatusLive        int64 = 3
	touchStatusInvalidBlob int64 = 4
)

// The user index key embeds the raw 8 uid bytes from the blob so the scripts
// can derive it without number formatting.
const touchSessionScript = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local session_key = KEYS[1]
local session_id = ARGV[1]
local user_prefix = ARGV[2]
local now_ms = tonumber(ARGV[3])
local activity = ARGV[4]
local write = ARGV[5] == "1"

local data = redis.call("GET", session_key)
if not data then
  return {0}
end
if #data ~= 33 or string.byte(data, 1) ~= 1 then
  return {4}
end

local user_key = user_prefix .. string.sub(data, 2, 9)
local expires_at = read_be64(data, 18)
if not expires_at or now_ms > expires_at then
  redis.call("DEL", session_key)
  redis.call("SREM", user_key, session_id)
  return {1}
end

if not write then
  return {3, data}
end

local updated = string.sub(data, 1, 25) .. activity
local ttl = redis.call("PTTL", session_key)
if ttl > 0 then
  redis.call("SET", session_key, updated, "PX", ttl)
else
  redis.call("SET", session_key, updated)
end
return {3, updated}
`

var touchSessionLua = redis.NewScript(touchSessionScript)

const deleteSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
redis.call("DEL", KEYS[1])
if #data >= 9 then
  redis.call("SREM", ARGV[2] .. string.sub(data, 2, 9), ARGV[1])
end
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// RedisStore keeps sessions as binary blobs with a per-user index set.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store namespacing keys under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "as"
	}
	return &RedisStore{redis: rdb, prefix: prefix}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *RedisStore) userPrefix() string {
	return s.prefix + "u:"
}

func (s *RedisStore) userKey(userID int64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(userID))
	return s.userPrefix() + string(b[:])
}

// Save writes the blob with a TTL covering the remaining lifetime so Redis
// reclaims sessions nobody validates again.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	ttl := sess.ExpiresAt.Sub(sess.LastActivity)
	if ttl < time.Second {
		ttl = time.Second
	}
	userKey := s.userKey(sess.UserID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), Encode(sess), ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	return s.run(ctx, sessionID, now, true)
}

func (s *RedisStore) Get(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	return s.run(ctx, sessionID, now, false)
}

func (s *RedisStore) run(ctx context.Context, sessionID string, now time.Time, write bool) (*Session, error) {
	flag := "0"
	if write {
		flag = "1"
	}
	result, err := touchSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.userPrefix(),
		now.UnixMilli(),
		encodeMillis(now),
		flag,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid touch script response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid touch script status", ErrUnavailable)
	}

	switch code {
	case touchStatusNotFound:
		return nil, ErrNotFound
	case touchStatusExpired:
		return nil, ErrExpired
	case touchStatusLive:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing session payload", ErrUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid session payload", ErrUnavailable)
		}
		return Decode(sessionID, blob)
	case touchStatusInvalidBlob:
		return nil, errors.Join(ErrUnavailable, ErrCorrupt)
	default:
		return nil, fmt.Errorf("%w: unknown touch script status", ErrUnavailable)
	}
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}, sessionID, s.userPrefix()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every indexed session of userID. A session saved
// concurrently with this call may survive it.
func (s *RedisStore) DeleteAllForUser(ctx context.Context, userID int64) (int, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.SRem(ctx, userKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(deleted.Val()), nil
}

// ListForUser returns indexed ids. Entries whose blob already expired in
// Redis may still be listed until the next purge.
func (s *RedisStore) ListForUser(ctx context.Context, userID int64) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// Ping measures round-trip latency to Redis.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
