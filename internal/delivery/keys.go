package delivery

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnswerKey is what the grader needs to know about a delivered quiz.
type AnswerKey struct {
	PollRef      string `json:"poll_ref"`
	Destination  int64  `json:"destination"`
	QuestionID   int    `json:"question_id"`
	CorrectIndex int    `json:"correct_index"`
}

// AnswerKeys remembers answer keys by poll and the latest key per destination.
type AnswerKeys interface {
	Put(ctx context.Context, k AnswerKey) error
	ByPoll(ctx context.Context, pollRef string) (AnswerKey, bool, error)
	Latest(ctx context.Context, destination int64) (AnswerKey, bool, error)
}

type MemoryKeys struct {
	mu     sync.RWMutex
	polls  map[string]AnswerKey
	latest map[int64]AnswerKey
}

func NewMemoryKeys() *MemoryKeys {
	return &MemoryKeys{
		polls:  make(map[string]AnswerKey),
		latest: make(map[int64]AnswerKey),
	}
}

func (m *MemoryKeys) Put(_ context.Context, k AnswerKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls[k.PollRef] = k
	m.latest[k.Destination] = k
	return nil
}

func (m *MemoryKeys) ByPoll(_ context.Context, pollRef string) (AnswerKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.polls[pollRef]
	return k, ok, nil
}

func (m *MemoryKeys) Latest(_ context.Context, destination int64) (AnswerKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.latest[destination]
	return k, ok, nil
}

// RedisKeys stores answer keys as JSON strings that expire after ttl.
type RedisKeys struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisKeys(r redis.UniversalClient, prefix string, ttl time.Duration) *RedisKeys {
	return &RedisKeys{redis: r, prefix: prefix, ttl: ttl}
}

func (r *RedisKeys) Put(ctx context.Context, k AnswerKey) error {
	b, err := json.Marshal(k)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}

	_, err = r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.pollKey(k.PollRef), b, r.ttl)
		pipe.Set(ctx, r.destKey(k.Destination), b, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store answer key %s: %w", k.PollRef, err)
	}

	return nil
}

func (r *RedisKeys) ByPoll(ctx context.Context, pollRef string) (AnswerKey, bool, error) {
	return r.get(ctx, r.pollKey(pollRef))
}

func (r *RedisKeys) Latest(ctx context.Context, destination int64) (AnswerKey, bool, error) {
	return r.get(ctx, r.destKey(destination))
}

func (r *RedisKeys) get(ctx context.Context, key string) (AnswerKey, bool, error) {
	b, err := r.redis.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return AnswerKey{}, false, nil
	}
	if err != nil {
		return AnswerKey{}, false, fmt.Errorf("get %s: %w", key, err)
	}

	var k AnswerKey
	if err := json.Unmarshal(b, &k); err != nil {
		return AnswerKey{}, false, fmt.Errorf("unmarshal %s: %w", key, err)
	}

	return k, true, nil
}

func (r *RedisKeys) pollKey(pollRef string) string {
	return fmt.Sprintf("%s:poll:%s", r.prefix, pollRef)
}

func (r *RedisKeys) destKey(destination int64) string {
	return fmt.Sprintf("%s:dest:%d", r.prefix, destination)
}
