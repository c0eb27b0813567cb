package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authlab/jwt"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention keeps a record this long past its token's expiry.
const DefaultRetention = 24 * time.Hour

const revokeManyScript = `
local n = 0
for _, key in ipairs(KEYS) do
  if redis.call("EXISTS", key) == 1 then
    n = n + redis.call("HSETNX", key, "rev", ARGV[1])
  end
end
return n
`

var revokeManyLua = redis.NewScript(revokeManyScript)

const revokeOneScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HSETNX", KEYS[1], "rev", ARGV[1])
`

var revokeOneLua = redis.NewScript(revokeOneScript)

// RedisStore keeps each record as a hash with a per-user index set.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore returns a store namespacing keys under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "atk"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{redis: rdb, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) userKey(userID int64) string {
	return s.prefix + "u:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) queuePut(ctx context.Context, pipe redis.Pipeliner, r Record) {
	key := s.key(r.ID)
	fields := map[string]interface{}{
		"uid": r.UserID,
		"typ": string(r.Type),
		"th":  r.TokenHash,
		"iat": r.IssuedAt.UnixMilli(),
		"exp": r.ExpiresAt.UnixMilli(),
	}
	if r.RevokedAt != nil {
		fields["rev"] = r.RevokedAt.UnixMilli()
	}
	pipe.HSet(ctx, key, fields)
	pipe.PExpireAt(ctx, key, r.ExpiresAt.Add(s.retention))
	pipe.SAdd(ctx, s.userKey(r.UserID), r.ID)
}

func (s *RedisStore) Put(ctx context.Context, records ...Record) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			s.queuePut(ctx, pipe, r)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrRecordNotFound
	}
	return decodeRecord(id, fields)
}

func (s *RedisStore) Rotate(ctx context.Context, oldID string, now time.Time, next ...Record) error {
	const maxRetries = 4
	key := s.key(oldID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return ErrRecordNotFound
			}
			if _, revoked := fields["rev"]; revoked {
				return ErrAlreadyRevoked
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "rev", now.UnixMilli())
				for _, r := range next {
					s.queuePut(ctx, pipe, r)
				}
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrAlreadyRevoked) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: rotate contention on %s", ErrBackend, oldID)
}

func (s *RedisStore) Revoke(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := revokeOneLua.Run(ctx, s.redis, []string{s.key(id)}, now.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if n < 0 {
		return false, ErrRecordNotFound
	}
	return n == 1, nil
}

func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID int64, now time.Time) (int, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	n, err := revokeManyLua.Run(ctx, s.redis, keys, now.UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	// Drop index entries whose records Redis has already reclaimed.
	exists := make([]*redis.IntCmd, len(keys))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			exists[i] = pipe.Exists(ctx, k)
		}
		return nil
	})
	if err == nil {
		var gone []interface{}
		for i, cmd := range exists {
			if cmd.Val() == 0 {
				gone = append(gone, ids[i])
			}
		}
		if len(gone) > 0 {
			_ = s.redis.SRem(ctx, userKey, gone...).Err()
		}
	}
	return int(n), nil
}

func decodeRecord(id string, fields map[string]string) (Record, error) {
	uid, err := strconv.ParseInt(fields["uid"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt record %s", ErrBackend, id)
	}
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt record %s", ErrBackend, id)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt record %s", ErrBackend, id)
	}

	r := Record{
		ID:        id,
		TokenHash: fields["th"],
		UserID:    uid,
		Type:      jwt.TokenType(fields["typ"]),
		IssuedAt:  time.UnixMilli(iat).UTC(),
		ExpiresAt: time.UnixMilli(exp).UTC(),
	}
	if raw, ok := fields["rev"]; ok {
		rev, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: corrupt record %s", ErrBackend, id)
		}
		at := time.UnixMilli(rev).UTC()
		r.RevokedAt = &at
	}
	return r, nil
}
