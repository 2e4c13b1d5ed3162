// Package question stores authored quiz questions.
//
// Ids are not unique. A custom id picked while importing a poll may collide with an
// existing one, and questions sharing an id are played together as a marathon.
// Get and Update address the first record with an id in insertion order; ListByID and
// Delete address all of them. Create is the only way to get a fresh id safely: it
// allocates and inserts atomically.
package question

import (
	"context"

	"github.com/victornm/quizbot/internal/domain"
)

type Store interface {
	// List returns all questions in insertion order.
	List(ctx context.Context) ([]domain.Question, error)
	Get(ctx context.Context, id int) (domain.Question, error)
	ListByID(ctx context.Context, id int) ([]domain.Question, error)
	// NextID returns 1 for an empty store, else max(id)+1. It reserves nothing.
	NextID(ctx context.Context) (int, error)
	// Insert appends q as given, even if its id is already taken.
	Insert(ctx context.Context, q domain.Question) error
	// Create assigns q the next id and appends it in a single step.
	Create(ctx context.Context, q domain.Question) (domain.Question, error)
	// Update applies mutate to the first question with id and re-validates it.
	Update(ctx context.Context, id int, mutate func(q *domain.Question) error) (domain.Question, error)
	// Delete removes every question with id and returns how many were removed.
	Delete(ctx context.Context, id int) (int, error)
	Count(ctx context.Context) (int, error)
	// Categories returns the number of questions per category.
	Categories(ctx context.Context) (map[string]int, error)
}

// SampleQuestions seeds a fresh store.
func SampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:           1,
			Text:         "What is the capital of France?",
			Options:      []string{"Berlin", "Madrid", "Paris", "Rome"},
			CorrectIndex: 2,
			Category:     "Geography",
		},
		{
			ID:           2,
			Text:         "Which planet is known as the Red Planet?",
			Options:      []string{"Venus", "Mars", "Jupiter", "Saturn"},
			CorrectIndex: 1,
			Category:     "Science",
		},
	}
}

func nextID(qs []domain.Question) int {
	highest := 0
	for _, q := range qs {
		if q.ID > highest {
			highest = q.ID
		}
	}
	return highest + 1
}
