package question

import (
	"context"
	"fmt"
	"sync"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
	"github.com/victornm/quizbot/internal/jsonfile"
)

// MemoryStore keeps questions in a slice. Every mutation works on a copy of the whole
// collection, persists it (if the store is file-backed) and only then swaps it in, so a
// failed write leaves the store unchanged.
type MemoryStore struct {
	mu      sync.RWMutex
	qs      []domain.Question
	persist func(qs []domain.Question) error
}

func NewMemoryStore(qs ...domain.Question) *MemoryStore {
	return &MemoryStore{qs: cloneAll(qs)}
}

// NewFileStore returns a store backed by a JSON array at path. A missing file is created
// with seed.
func NewFileStore(path string, seed []domain.Question) (*MemoryStore, error) {
	var qs []domain.Question
	ok, err := jsonfile.Load(path, &qs)
	if err != nil {
		return nil, fmt.Errorf("question: load: %w", err)
	}

	s := &MemoryStore{
		qs: qs,
		persist: func(qs []domain.Question) error {
			return jsonfile.Save(path, qs)
		},
	}

	if !ok {
		s.qs = cloneAll(seed)
		if err := s.persist(s.qs); err != nil {
			return nil, fmt.Errorf("question: seed: %w", err)
		}
	}

	return s, nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneAll(s.qs), nil
}

func (s *MemoryStore) Get(_ context.Context, id int) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, q := range s.qs {
		if q.ID == id {
			return q.Clone(), nil
		}
	}

	return domain.Question{}, errors.NotFound("question %d not found", id)
}

func (s *MemoryStore) ListByID(_ context.Context, id int) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Question
	for _, q := range s.qs {
		if q.ID == id {
			out = append(out, q.Clone())
		}
	}

	if len(out) == 0 {
		return nil, errors.NotFound("question %d not found", id)
	}

	return out, nil
}

func (s *MemoryStore) NextID(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return nextID(s.qs), nil
}

func (s *MemoryStore) Insert(_ context.Context, q domain.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}

	return s.mutate(func(qs []domain.Question) ([]domain.Question, error) {
		return append(qs, q.Clone()), nil
	})
}

func (s *MemoryStore) Create(_ context.Context, q domain.Question) (domain.Question, error) {
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}

	q = q.Clone()
	err := s.mutate(func(qs []domain.Question) ([]domain.Question, error) {
		q.ID = nextID(qs)
		return append(qs, q), nil
	})
	if err != nil {
		return domain.Question{}, err
	}

	return q.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id int, mutate func(q *domain.Question) error) (domain.Question, error) {
	var updated domain.Question
	err := s.mutate(func(qs []domain.Question) ([]domain.Question, error) {
		for i := range qs {
			if qs[i].ID != id {
				continue
			}

			q := qs[i].Clone()
			if err := mutate(&q); err != nil {
				return nil, err
			}
			q.ID = id
			if err := q.Validate(); err != nil {
				return nil, err
			}

			qs[i] = q
			updated = q.Clone()
			return qs, nil
		}

		return nil, errors.NotFound("question %d not found", id)
	})

	return updated, err
}

func (s *MemoryStore) Delete(_ context.Context, id int) (int, error) {
	removed := 0
	err := s.mutate(func(qs []domain.Question) ([]domain.Question, error) {
		kept := qs[:0]
		for _, q := range qs {
			if q.ID == id {
				removed++
				continue
			}
			kept = append(kept, q)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.qs), nil
}

func (s *MemoryStore) Categories(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int)
	for _, q := range s.qs {
		out[q.CategoryOrDefault()]++
	}

	return out, nil
}

func (s *MemoryStore) mutate(fn func(qs []domain.Question) ([]domain.Question, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(cloneAll(s.qs))
	if err != nil {
		return err
	}

	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return errors.Internal(fmt.Errorf("question: persist: %w", err))
		}
	}

	s.qs = next
	return nil
}

func cloneAll(qs []domain.Question) []domain.Question {
	out := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Clone())
	}
	return out
}
