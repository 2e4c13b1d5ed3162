// Package notify fans bot events out to Redis pub/sub channels so dashboards and other
// processes can follow answers and leaderboard changes live.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/event"
)

const maxConcurrent = 100

type Config struct {
	EventBus *event.Bus
	Redis    Redis
	Prefix   string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Notifier struct {
	redis  Redis
	prefix string
}

func New(c Config) *Notifier {
	n := &Notifier{
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	c.EventBus.Subscribe(domain.EventNameAnswerGraded, func(ctx context.Context, e event.Event) error {
		return n.PublishAnswerGraded(ctx, e.(domain.EventAnswerGraded))
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboard, func(ctx context.Context, e event.Event) error {
		return n.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameQuestionSaved, func(ctx context.Context, e event.Event) error {
		return n.PublishQuestionSaved(ctx, e.(domain.EventQuestionSaved))
	})
	c.EventBus.Subscribe(domain.EventNameQuestionDeleted, func(ctx context.Context, e event.Event) error {
		return n.PublishQuestionDeleted(ctx, e.(domain.EventQuestionDeleted))
	})
	c.EventBus.Subscribe(domain.EventNameMarathonEnded, func(ctx context.Context, e event.Event) error {
		return n.PublishMarathonEnded(ctx, e.(domain.EventMarathonEnded))
	})

	return n
}

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Answer struct {
		Correct  bool   `json:"correct"`
		Answered int    `json:"answered"`
		Right    int    `json:"right"`
		Accuracy string `json:"accuracy"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Rank    int    `json:"rank"`
		Name    string `json:"name"`
		Correct int    `json:"correct"`
	}

	Marathon struct {
		RunID     string `json:"run_id"`
		Delivered int    `json:"delivered"`
		Cancelled bool   `json:"cancelled"`
	}

	QuestionChange struct {
		ID       int    `json:"id"`
		Created  bool   `json:"created,omitempty"`
		Category string `json:"category,omitempty"`
		Removed  int    `json:"removed,omitempty"`
	}
)

// PublishQuestionSaved announces a created or edited question on the questions channel.
func (n *Notifier) PublishQuestionSaved(ctx context.Context, e domain.EventQuestionSaved) error {
	return n.publish(ctx, n.questionsChannel(), e.Name(), QuestionChange{
		ID:       e.Question.ID,
		Created:  e.Created,
		Category: e.Question.Category,
	})
}

func (n *Notifier) PublishQuestionDeleted(ctx context.Context, e domain.EventQuestionDeleted) error {
	return n.publish(ctx, n.questionsChannel(), e.Name(), QuestionChange{
		ID:      e.ID,
		Removed: e.Removed,
	})
}

// PublishAnswerGraded tells the user's channel how their answer was graded.
func (n *Notifier) PublishAnswerGraded(ctx context.Context, e domain.EventAnswerGraded) error {
	st := e.Stat
	return n.publish(ctx, n.userChannel(st.UserID), e.Name(), Answer{
		Correct:  e.Correct,
		Answered: st.Total,
		Right:    st.Correct,
		Accuracy: st.Accuracy().StringFixed(1),
	})
}

// PublishLeaderboardUpdated sends the leaderboard to its own channel and to every ranked user.
func (n *Notifier) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := Leaderboard{
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for i, entry := range l.Entries {
		name := entry.DisplayName
		if name == "" {
			name = entry.UserID
		}
		data.Entries = append(data.Entries, LeaderboardEntry{
			Rank:    i + 1,
			Name:    name,
			Correct: entry.Correct,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return n.publish(ctx, n.leaderboardChannel(), e.Name(), data)
	})
	for _, entry := range l.Entries {
		eg.Go(func() error {
			return n.publish(ctx, n.userChannel(entry.UserID), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (n *Notifier) PublishMarathonEnded(ctx context.Context, e domain.EventMarathonEnded) error {
	return n.publish(ctx, n.chatChannel(e.Destination), e.Name(), Marathon{
		RunID:     e.RunID.String(),
		Delivered: e.Delivered,
		Cancelled: e.Cancelled,
	})
}

func (n *Notifier) publish(ctx context.Context, channel, event string, data any) error {
	b, err := json.Marshal(Notification{
		Event: event,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return n.redis.Publish(ctx, channel, b).Err()
}

func (n *Notifier) userChannel(user string) string {
	return fmt.Sprintf("%s:user:%s", n.prefix, user)
}

func (n *Notifier) chatChannel(chat int64) string {
	return fmt.Sprintf("%s:chat:%s", n.prefix, strconv.FormatInt(chat, 10))
}

func (n *Notifier) leaderboardChannel() string {
	return fmt.Sprintf("%s:leaderboard", n.prefix)
}

func (n *Notifier) questionsChannel() string {
	return fmt.Sprintf("%s:questions", n.prefix)
}
