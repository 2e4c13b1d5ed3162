package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
	"github.com/victornm/quizbot/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultSize     = 10
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// Size is how many entries GetLeaderboard and the published updates carry.
	Size int
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	size   int
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		size:   c.Size,
	}
	if s.size <= 0 {
		s.size = defaultSize
	}

	if s.eb != nil {
		s.eb.Subscribe(domain.EventNameAnswerGraded, func(ctx context.Context, e event.Event) error {
			return s.UpdateLeaderboard(ctx, e.(domain.EventAnswerGraded))
		})
	}

	return s
}

// GetLeaderboard returns the best users by correct answers.
func (s *Service) GetLeaderboard(ctx context.Context) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(), 0, int64(s.size-1)).Result()
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("get leaderboard: %w", err))
	}

	if len(res) == 0 {
		return nil, errors.NotFound("leaderboard is empty")
	}

	ids := make([]string, 0, len(res))
	for _, z := range res {
		ids = append(ids, z.Member.(string))
	}

	names, err := s.redis.HMGet(ctx, s.getNamesKey(), ids...).Result()
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("get leaderboard names: %w", err))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for i, z := range res {
		name, _ := names[i].(string)
		entries = append(entries, domain.LeaderboardEntry{
			UserID:      ids[i],
			DisplayName: name,
			Correct:     int(z.Score),
		})
	}

	return &domain.Leaderboard{Entries: entries}, nil
}

// UpdateLeaderboard overwrites the user's correct answer count.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventAnswerGraded) error {
	st := e.Stat

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.getLeaderboardKey(), redis.Z{
			Score:  float64(st.Correct),
			Member: st.UserID,
		})
		if st.DisplayName != "" {
			p.HSet(ctx, s.getNamesKey(), st.UserID, st.DisplayName)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx)
}

// schedulePublishLeaderboard publishes at most one update per interval, across every
// process sharing the redis.
func (s *Service) schedulePublishLeaderboard(ctx context.Context) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	l, err := s.GetLeaderboard(ctx)
	if err != nil {
		return fmt.Errorf("get leaderboard failed: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getLeaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}

func (s *Service) getNamesKey() string {
	return fmt.Sprintf("%s:leaderboard:names", s.prefix)
}

func (s *Service) getLeaderboardTimeKey() string {
	return fmt.Sprintf("%s:leaderboard:time", s.prefix)
}
