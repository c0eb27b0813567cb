package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisEnrollmentStore keeps enrollments as JSON values updated under WATCH.
type RedisEnrollmentStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisEnrollmentStore returns a store namespacing keys under prefix.
func NewRedisEnrollmentStore(rdb redis.UniversalClient, prefix string) *RedisEnrollmentStore {
	if prefix == "" {
		prefix = "amf"
	}
	return &RedisEnrollmentStore{redis: rdb, prefix: prefix}
}

func (s *RedisEnrollmentStore) key(userID int64) string {
	return s.prefix + ":" + strconv.FormatInt(userID, 10)
}

func (s *RedisEnrollmentStore) Get(ctx context.Context, userID int64) (*Enrollment, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	var e Enrollment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: corrupt enrollment: %v", ErrBackend, err)
	}
	return &e, nil
}

func (s *RedisEnrollmentStore) Update(ctx context.Context, userID int64, fn func(*Enrollment) (*Enrollment, error)) error {
	const maxRetries = 4
	key := s.key(userID)

	for i := 0; i < maxRetries; i++ {
		var fnErr error
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var cur *Enrollment
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				cur = &Enrollment{}
				if err := json.Unmarshal(data, cur); err != nil {
					return err
				}
			}

			next, err := fn(cur)
			if err != nil {
				fnErr = err
				return nil
			}

			var encoded []byte
			if next != nil {
				if encoded, err = json.Marshal(next); err != nil {
					return err
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, key)
				} else {
					pipe.Set(ctx, key, encoded, 0)
				}
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return fnErr
	}
	return fmt.Errorf("%w: enrollment contention for user %d", ErrBackend, userID)
}
