package domain

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/victornm/quizbot/internal/errors"
)

const (
	CategoryUserCreated   = "User Created"
	CategoryConvertedPoll = "Converted Poll"
	CategoryGeneral       = "General"

	MinOptions = 2
)

// Question is a multiple-choice quiz question. The JSON shape is the durable storage format.
type Question struct {
	ID           int      `json:"id"`
	Text         string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"answer"`
	Category     string   `json:"category"`
}

// Validate checks the invariants every stored question must hold.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.Validation("question text must not be empty")
	}
	if len(q.Options) < MinOptions {
		return errors.Validation("a question needs at least %d options, got %d", MinOptions, len(q.Options))
	}
	for i, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return errors.Validation("option %d is empty", i+1)
		}
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return errors.Validation("correct answer %d is out of range 1..%d", q.CorrectIndex+1, len(q.Options))
	}
	return nil
}

// CategoryOrDefault returns the category, falling back to General for legacy records.
func (q Question) CategoryOrDefault() string {
	if q.Category == "" {
		return CategoryGeneral
	}
	return q.Category
}

// Clone returns a deep copy so callers can't alias the store's option slice.
func (q Question) Clone() Question {
	q.Options = append([]string(nil), q.Options...)
	return q
}

// CorrectOption returns the text of the correct option, or "" if the index is out of range.
func (q Question) CorrectOption() string {
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return ""
	}
	return q.Options[q.CorrectIndex]
}

// UserStat holds a user's answer counters.
type UserStat struct {
	UserID      string `json:"-"`
	DisplayName string `json:"name"`
	Correct     int    `json:"correct"`
	Total       int    `json:"total"`
}

// Accuracy returns the percentage of correct answers rounded to one decimal place.
func (s UserStat) Accuracy() decimal.Decimal {
	if s.Total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Correct)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(s.Total))).
		Round(1)
}

// Draft is the scratch record a session accumulates while a flow is in progress.
type Draft struct {
	QuestionText    string
	Options         []string
	CorrectIndex    *int
	EditingTargetID *int
	EditingField    EditField
	PendingCloneURL string
}

// Question builds a question from the draft. It does not validate.
func (d Draft) Question(id int, category string) Question {
	q := Question{
		ID:       id,
		Text:     d.QuestionText,
		Options:  append([]string(nil), d.Options...),
		Category: category,
	}
	if d.CorrectIndex != nil {
		q.CorrectIndex = *d.CorrectIndex
	}
	return q
}

// ParseOptions splits a multi-line message into trimmed, non-empty options.
func ParseOptions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Leaderboard ranks users by correct answers, best first.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	UserID      string
	DisplayName string
	Correct     int
}
