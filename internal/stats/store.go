// Package stats keeps per-user answer counters.
package stats

import (
	"context"
	"fmt"
	"sync"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
	"github.com/victornm/quizbot/internal/jsonfile"
)

type Store interface {
	// Record counts one answer for the user, creating the record on first use.
	Record(ctx context.Context, userID, displayName string, correct bool) (domain.UserStat, error)
	Get(ctx context.Context, userID string) (domain.UserStat, error)
	Count(ctx context.Context) (int, error)
}

// FileStore keeps counters in a JSON object keyed by user id.
// An empty path keeps them in memory only.
type FileStore struct {
	path  string
	mu    sync.RWMutex
	users map[string]domain.UserStat
}

func NewMemoryStore() *FileStore {
	return &FileStore{users: make(map[string]domain.UserStat)}
}

func NewFileStore(path string) (*FileStore, error) {
	users := make(map[string]domain.UserStat)
	if _, err := jsonfile.Load(path, &users); err != nil {
		return nil, fmt.Errorf("stats: load: %w", err)
	}

	for id, u := range users {
		u.UserID = id
		users[id] = u
	}

	return &FileStore{path: path, users: users}, nil
}

func (s *FileStore) Record(_ context.Context, userID, displayName string, correct bool) (domain.UserStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = domain.UserStat{UserID: userID}
	}
	if displayName != "" {
		u.DisplayName = displayName
	}
	u.Total++
	if correct {
		u.Correct++
	}

	next := make(map[string]domain.UserStat, len(s.users)+1)
	for id, v := range s.users {
		next[id] = v
	}
	next[userID] = u

	if s.path != "" {
		if err := jsonfile.Save(s.path, next); err != nil {
			return domain.UserStat{}, errors.Internal(fmt.Errorf("stats: persist: %w", err))
		}
	}

	s.users = next
	return u, nil
}

func (s *FileStore) Get(_ context.Context, userID string) (domain.UserStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.UserStat{}, errors.NotFound("no answers recorded for user %s", userID)
	}

	return u, nil
}

func (s *FileStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.users), nil
}
