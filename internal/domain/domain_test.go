package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
)

func TestQuestion_Validate(t *testing.T) {
	valid := domain.Question{ID: 1, Text: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectIndex: 0}

	tests := map[string]struct {
		mutate  func(q *domain.Question)
		wantErr bool
	}{
		"valid question":         {mutate: func(*domain.Question) {}},
		"empty text":             {mutate: func(q *domain.Question) { q.Text = "  " }, wantErr: true},
		"single option":          {mutate: func(q *domain.Question) { q.Options = []string{"Paris"} }, wantErr: true},
		"blank option":           {mutate: func(q *domain.Question) { q.Options = []string{"Paris", " "} }, wantErr: true},
		"negative correct":       {mutate: func(q *domain.Question) { q.CorrectIndex = -1 }, wantErr: true},
		"correct out of range":   {mutate: func(q *domain.Question) { q.CorrectIndex = 2 }, wantErr: true},
		"last option is correct": {mutate: func(q *domain.Question) { q.CorrectIndex = 1 }},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			q := valid.Clone()
			tt.mutate(&q)
			err := q.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument))
		})
	}
}

func TestUserStat_Accuracy(t *testing.T) {
	assert.True(t, decimal.Zero.Equal(domain.UserStat{}.Accuracy()))
	assert.Equal(t, "66.7", domain.UserStat{Correct: 2, Total: 3}.Accuracy().String())
	assert.Equal(t, "100", domain.UserStat{Correct: 4, Total: 4}.Accuracy().String())
}

func TestParseOptions(t *testing.T) {
	assert.Equal(t, []string{"Paris", "Rome", "Berlin"}, domain.ParseOptions("Paris\n  Rome \n\n Berlin\n"))
	assert.Empty(t, domain.ParseOptions(" \n \n"))
}

func TestAction_RoundTrip(t *testing.T) {
	actions := []domain.Action{
		{Kind: domain.ActionSelectCorrect, OptionIndex: 2},
		{Kind: domain.ActionEditField, TargetID: 12, Field: domain.EditFieldOptions},
		{Kind: domain.ActionConfirmRemove, TargetID: 7},
		{Kind: domain.ActionAbort},
	}
	for _, a := range actions {
		got, err := domain.ParseAction(a.Encode())
		require.NoError(t, err)
		assert.Equal(t, a, got)
		assert.LessOrEqual(t, len(a.Encode()), 64, "telegram callback data limit")
	}
}

func TestParseAction_Rejects(t *testing.T) {
	for _, data := range []string{"", "answer_2", "zzz:1:0:", "sel:x:0:", "sel:1:-1:", "edf:1:0:colour"} {
		_, err := domain.ParseAction(data)
		assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument), "data %q", data)
	}
}
