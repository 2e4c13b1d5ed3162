package stats

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
)

// RedisStore keeps one hash per user and a set of known user ids.
// Counters are incremented inside MULTI/EXEC so concurrent answers never lose an update.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(r redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{redis: r, prefix: prefix}
}

func (s *RedisStore) Record(ctx context.Context, userID, displayName string, correct bool) (domain.UserStat, error) {
	var inc int64
	if correct {
		inc = 1
	}

	var total, right *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if displayName != "" {
			pipe.HSet(ctx, s.userKey(userID), "name", displayName)
		}
		total = pipe.HIncrBy(ctx, s.userKey(userID), "total", 1)
		right = pipe.HIncrBy(ctx, s.userKey(userID), "correct", inc)
		pipe.SAdd(ctx, s.usersKey(), userID)
		return nil
	})
	if err != nil {
		return domain.UserStat{}, errors.Internal(fmt.Errorf("stats: record %s: %w", userID, err))
	}

	u := domain.UserStat{
		UserID:      userID,
		DisplayName: displayName,
		Correct:     int(right.Val()),
		Total:       int(total.Val()),
	}

	if displayName == "" {
		name, err := s.redis.HGet(ctx, s.userKey(userID), "name").Result()
		if err != nil && err != redis.Nil {
			return domain.UserStat{}, errors.Internal(fmt.Errorf("stats: get name %s: %w", userID, err))
		}
		u.DisplayName = name
	}

	return u, nil
}

func (s *RedisStore) Get(ctx context.Context, userID string) (domain.UserStat, error) {
	res, err := s.redis.HGetAll(ctx, s.userKey(userID)).Result()
	if err != nil {
		return domain.UserStat{}, errors.Internal(fmt.Errorf("stats: get %s: %w", userID, err))
	}

	if len(res) == 0 {
		return domain.UserStat{}, errors.NotFound("no answers recorded for user %s", userID)
	}

	u := domain.UserStat{UserID: userID, DisplayName: res["name"]}
	if u.Correct, err = atoi(res["correct"]); err != nil {
		return domain.UserStat{}, errors.Internal(fmt.Errorf("stats: decode correct for %s: %w", userID, err))
	}
	if u.Total, err = atoi(res["total"]); err != nil {
		return domain.UserStat{}, errors.Internal(fmt.Errorf("stats: decode total for %s: %w", userID, err))
	}

	return u, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.redis.SCard(ctx, s.usersKey()).Result()
	if err != nil {
		return 0, errors.Internal(fmt.Errorf("stats: count: %w", err))
	}

	return int(n), nil
}

func (s *RedisStore) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, userID)
}

func (s *RedisStore) usersKey() string {
	return fmt.Sprintf("%s:users", s.prefix)
}

func atoi(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
