package oauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Consumed codes stay this long past expiry so reuse is still recognized.
const codeRetention = time.Hour

const (
	consumeStatusNotFound         int64 = 0
	consumeStatusExpired          int64 = 1
	consumeStatusConsumed         int64 = 2
	consumeStatusClientMismatch   int64 = 3
	consumeStatusRedirectMismatch int64 = 4
	consumeStatusOK               int64 = 5
)

const consumeCodeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end
local fields = redis.call("HGETALL", KEYS[1])
local f = redis.call("HMGET", KEYS[1], "cid", "ruri", "exp", "used")
local now_ms = tonumber(ARGV[3])
if now_ms > tonumber(f[3]) then
  return {1, fields}
end
if f[4] then
  return {2, fields}
end
if f[1] ~= ARGV[1] then
  return {3, fields}
end
if ARGV[2] ~= "" and f[2] ~= ARGV[2] then
  return {4, fields}
end
redis.call("HSET", KEYS[1], "used", ARGV[3])
return {5, fields}
`

var consumeCodeLua = redis.NewScript(consumeCodeScript)

// RedisCodeStore keeps codes as hashes consumed by a Lua compare-and-set.
type RedisCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCodeStore returns a store namespacing keys under prefix.
func NewRedisCodeStore(rdb redis.UniversalClient, prefix string) *RedisCodeStore {
	if prefix == "" {
		prefix = "aoc"
	}
	return &RedisCodeStore{redis: rdb, prefix: prefix}
}

func (s *RedisCodeStore) key(hash string) string {
	return s.prefix + ":" + hash
}

func (s *RedisCodeStore) Save(ctx context.Context, c AuthorizationCode) error {
	key := s.key(c.Hash)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"cid":   c.ClientID,
			"ruri":  c.RedirectURI,
			"scope": c.Scope,
			"uid":   c.UserID,
			"iat":   c.IssuedAt.UnixMilli(),
			"exp":   c.ExpiresAt.UnixMilli(),
		})
		pipe.PExpireAt(ctx, key, c.ExpiresAt.Add(codeRetention))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisCodeStore) Consume(ctx context.Context, hash, clientID, redirectURI string, now time.Time) (AuthorizationCode, error) {
	result, err := consumeCodeLua.Run(ctx, s.redis, []string{s.key(hash)}, clientID, redirectURI, now.UnixMilli()).Result()
	if err != nil {
		return AuthorizationCode{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return AuthorizationCode{}, fmt.Errorf("%w: invalid consume script response", ErrBackend)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return AuthorizationCode{}, fmt.Errorf("%w: invalid consume script status", ErrBackend)
	}
	if status == consumeStatusNotFound {
		return AuthorizationCode{}, errCodeNotFound
	}
	if len(parts) < 2 {
		return AuthorizationCode{}, fmt.Errorf("%w: missing code payload", ErrBackend)
	}
	code, err := decodeCode(hash, parts[1])
	if err != nil {
		return AuthorizationCode{}, err
	}

	switch status {
	case consumeStatusExpired:
		return code, errCodeExpired
	case consumeStatusConsumed:
		return code, errCodeConsumed
	case consumeStatusClientMismatch:
		return code, errClientMismatch
	case consumeStatusRedirectMismatch:
		return code, errRedirectMismatch
	case consumeStatusOK:
		code.Consumed = true
		return code, nil
	default:
		return AuthorizationCode{}, fmt.Errorf("%w: unknown consume script status", ErrBackend)
	}
}

func decodeCode(hash string, raw interface{}) (AuthorizationCode, error) {
	flat, ok := raw.([]interface{})
	if !ok || len(flat)%2 != 0 {
		return AuthorizationCode{}, fmt.Errorf("%w: invalid code payload", ErrBackend)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}

	uid, err1 := strconv.ParseInt(fields["uid"], 10, 64)
	iat, err2 := strconv.ParseInt(fields["iat"], 10, 64)
	exp, err3 := strconv.ParseInt(fields["exp"], 10, 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return AuthorizationCode{}, fmt.Errorf("%w: corrupt code record: %v", ErrBackend, err)
	}
	_, used := fields["used"]
	return AuthorizationCode{
		Hash:        hash,
		ClientID:    fields["cid"],
		RedirectURI: fields["ruri"],
		Scope:       fields["scope"],
		UserID:      uid,
		IssuedAt:    time.UnixMilli(iat).UTC(),
		ExpiresAt:   time.UnixMilli(exp).UTC(),
		Consumed:    used,
	}, nil
}

// RedisTokenStore keeps provider tokens as hashes with a per-code index.
type RedisTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisTokenStore returns a store namespacing keys under prefix.
func NewRedisTokenStore(rdb redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "aot"
	}
	return &RedisTokenStore{redis: rdb, prefix: prefix}
}

func (s *RedisTokenStore) key(hash string) string {
	return s.prefix + ":" + hash
}

func (s *RedisTokenStore) codeKey(codeHash string) string {
	return s.prefix + "c:" + codeHash
}

func (s *RedisTokenStore) Put(ctx context.Context, tokens ...IssuedToken) error {
	codeExpiry := make(map[string]time.Time)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range tokens {
			key := s.key(t.Hash)
			fields := map[string]interface{}{
				"kind":  string(t.Kind),
				"cid":   t.ClientID,
				"uid":   t.UserID,
				"scope": t.Scope,
				"code":  t.CodeHash,
				"iat":   t.IssuedAt.UnixMilli(),
				"exp":   t.ExpiresAt.UnixMilli(),
			}
			if t.Revoked {
				fields["rev"] = 1
			}
			pipe.HSet(ctx, key, fields)
			pipe.PExpireAt(ctx, key, t.ExpiresAt)
			if t.CodeHash != "" {
				pipe.SAdd(ctx, s.codeKey(t.CodeHash), t.Hash)
				// The refresh token outlives everything derived from the code.
				if t.Kind == KindRefresh && t.ExpiresAt.After(codeExpiry[t.CodeHash]) {
					codeExpiry[t.CodeHash] = t.ExpiresAt
				}
			}
		}
		for codeHash, exp := range codeExpiry {
			pipe.PExpireAt(ctx, s.codeKey(codeHash), exp)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisTokenStore) Get(ctx context.Context, hash string) (IssuedToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(hash)).Result()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(fields) == 0 {
		return IssuedToken{}, errTokenNotFound
	}
	uid, err1 := strconv.ParseInt(fields["uid"], 10, 64)
	iat, err2 := strconv.ParseInt(fields["iat"], 10, 64)
	exp, err3 := strconv.ParseInt(fields["exp"], 10, 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return IssuedToken{}, fmt.Errorf("%w: corrupt token record: %v", ErrBackend, err)
	}
	_, revoked := fields["rev"]
	return IssuedToken{
		Hash:      hash,
		Kind:      TokenKind(fields["kind"]),
		ClientID:  fields["cid"],
		UserID:    uid,
		Scope:     fields["scope"],
		CodeHash:  fields["code"],
		IssuedAt:  time.UnixMilli(iat).UTC(),
		ExpiresAt: time.UnixMilli(exp).UTC(),
		Revoked:   revoked,
	}, nil
}

const revokeByCodeScript = `
local n = 0
for _, h in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[1] .. h
  if redis.call("EXISTS", key) == 1 then
    n = n + redis.call("HSETNX", key, "rev", 1)
  end
end
return n
`

var revokeByCodeLua = redis.NewScript(revokeByCodeScript)

func (s *RedisTokenStore) RevokeByCode(ctx context.Context, codeHash string) (int, error) {
	n, err := revokeByCodeLua.Run(ctx, s.redis, []string{s.codeKey(codeHash)}, s.prefix+":").Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return int(n), nil
}
