package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizbot/internal/delivery"
	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
	"github.com/victornm/quizbot/internal/question"
	"github.com/victornm/quizbot/internal/session"
	"github.com/victornm/quizbot/internal/stats"
)

var alice = session.Origin{UserID: 1, ChatID: 100, Name: "alice"}

func TestEngine_CreateFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "/add", ""))
	assert.Equal(t, session.StateAwaitingQuestionText, h.engine.State(alice.UserID))

	require.NoError(t, h.engine.HandleText(ctx, alice, "Capital of France?"))
	assert.Equal(t, session.StateAwaitingOptions, h.engine.State(alice.UserID))

	require.NoError(t, h.engine.HandleText(ctx, alice, "Paris\nRome\n\n Berlin "))
	assert.Equal(t, session.StateAwaitingCorrectAnswer, h.engine.State(alice.UserID))
	assert.Len(t, h.replier.last().Buttons, 3, "one button per option")

	require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionSelectCorrect, OptionIndex: 0}))
	assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))
	assert.Zero(t, h.engine.Len(), "idle sessions are dropped")

	got, err := h.questions.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.Question{
		ID:           3,
		Text:         "Capital of France?",
		Options:      []string{"Paris", "Rome", "Berlin"},
		CorrectIndex: 0,
		Category:     domain.CategoryUserCreated,
	}, got)
	assert.Contains(t, h.replier.last().Text, "(ID: 3)")
}

func TestEngine_RejectsBadInput(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, h *harness)
		act     func(h *harness) error
		state   string
		code    errors.Code
		reply   string
	}{
		"single option stays in awaiting options": {
			arrange: func(t *testing.T, h *harness) {
				h.start(t, "add")
				require.NoError(t, h.engine.HandleText(context.Background(), alice, "Q?"))
			},
			act: func(h *harness) error {
				return h.engine.HandleText(context.Background(), alice, "only one")
			},
			state: session.StateAwaitingOptions,
			code:  errors.CodeInvalidArgument,
			reply: "at least 2 options",
		},
		"blank question text": {
			arrange: func(t *testing.T, h *harness) { h.start(t, "add") },
			act: func(h *harness) error {
				return h.engine.HandleText(context.Background(), alice, "   ")
			},
			state: session.StateAwaitingQuestionText,
			code:  errors.CodeInvalidArgument,
		},
		"button press while text is expected": {
			arrange: func(t *testing.T, h *harness) { h.start(t, "add") },
			act: func(h *harness) error {
				return h.engine.HandleAction(context.Background(), alice, domain.Action{Kind: domain.ActionSelectCorrect})
			},
			state: session.StateAwaitingQuestionText,
			code:  errors.CodeInvalidArgument,
			reply: "send me the question text",
		},
		"text while a button is expected": {
			arrange: func(t *testing.T, h *harness) {
				h.start(t, "add")
				require.NoError(t, h.engine.HandleText(context.Background(), alice, "Q?"))
				require.NoError(t, h.engine.HandleText(context.Background(), alice, "a\nb"))
			},
			act: func(h *harness) error {
				return h.engine.HandleText(context.Background(), alice, "a")
			},
			state: session.StateAwaitingCorrectAnswer,
			code:  errors.CodeInvalidArgument,
			reply: "select which option",
		},
		"option index out of range": {
			arrange: func(t *testing.T, h *harness) {
				h.start(t, "add")
				require.NoError(t, h.engine.HandleText(context.Background(), alice, "Q?"))
				require.NoError(t, h.engine.HandleText(context.Background(), alice, "a\nb"))
			},
			act: func(h *harness) error {
				return h.engine.HandleAction(context.Background(), alice, domain.Action{Kind: domain.ActionSelectCorrect, OptionIndex: 5})
			},
			state: session.StateAwaitingCorrectAnswer,
			code:  errors.CodeInvalidArgument,
		},
		"flow command while another flow is active": {
			arrange: func(t *testing.T, h *harness) { h.start(t, "add") },
			act: func(h *harness) error {
				return h.engine.HandleCommand(context.Background(), alice, "clone", "")
			},
			state: session.StateAwaitingQuestionText,
			code:  errors.CodeInvalidArgument,
			reply: "/cancel",
		},
		"malformed edit id": {
			act: func(h *harness) error {
				return h.engine.HandleCommand(context.Background(), alice, "edit", "abc")
			},
			state: session.StateIdle,
			code:  errors.CodeInvalidArgument,
			reply: "Invalid question ID",
		},
		"unknown edit id": {
			act: func(h *harness) error {
				return h.engine.HandleCommand(context.Background(), alice, "edit", "99")
			},
			state: session.StateIdle,
			code:  errors.CodeNotFound,
			reply: "No question found with ID 99",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			if tc.arrange != nil {
				tc.arrange(t, h)
			}

			err := tc.act(h)

			assert.True(t, errors.HasCode(err, tc.code), "got %v", err)
			assert.Equal(t, tc.state, h.engine.State(alice.UserID))
			if tc.reply != "" {
				assert.Contains(t, h.replier.last().Text, tc.reply)
			}
		})
	}
}

func TestEngine_CancelFromEveryFlow(t *testing.T) {
	tests := map[string]struct {
		command, args string
	}{
		"add":          {command: "add"},
		"clone":        {command: "clone"},
		"edit":         {command: "edit"},
		"edit with id": {command: "edit", args: "1"},
		"remove":       {command: "remove", args: "2"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			require.NoError(t, h.engine.HandleCommand(ctx, alice, tc.command, tc.args))
			require.NotEqual(t, session.StateIdle, h.engine.State(alice.UserID))

			require.NoError(t, h.engine.HandleCommand(ctx, alice, "cancel", ""))
			assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))
			assert.Contains(t, h.replier.last().Text, "cancelled")

			n, err := h.questions.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n, "cancel leaves the store alone")
		})
	}
}

func TestEngine_CancelWhenIdle(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.HandleCommand(context.Background(), alice, "cancel", ""))
	assert.Equal(t, "There is nothing to cancel.", h.replier.last().Text)
}

func TestEngine_CloneFlow(t *testing.T) {
	t.Run("extracted quiz is confirmed and saved", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		zero := 0
		h.extractor.draft = domain.Draft{QuestionText: "Largest ocean?", Options: []string{"Atlantic", "Pacific"}, CorrectIndex: &zero}

		require.NoError(t, h.engine.HandleCommand(ctx, alice, "clone", "https://t.me/quiz/7"))
		assert.Equal(t, session.StateAwaitingCorrectAnswer, h.engine.State(alice.UserID))
		assert.Equal(t, []string{"https://t.me/quiz/7"}, h.extractor.links)

		require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionSelectCorrect, OptionIndex: 1}))
		assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))

		got, err := h.questions.Get(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, "Largest ocean?", got.Text)
		assert.Equal(t, 1, got.CorrectIndex)
		assert.Equal(t, domain.CategoryUserCreated, got.Category)
		assert.Contains(t, h.replier.last().Text, "Source: https://t.me/quiz/7")
	})

	t.Run("failed extraction falls back to manual entry", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.extractor.err = errors.New(errors.CodeUnavailable, errors.WithMessagef("no quiz"))

		require.NoError(t, h.engine.HandleCommand(ctx, alice, "clone", ""))
		assert.Equal(t, session.StateAwaitingCloneURL, h.engine.State(alice.UserID))

		err := h.engine.HandleText(ctx, alice, "https://example.com/nothing")
		assert.True(t, errors.HasCode(err, errors.CodeUnavailable))
		assert.Equal(t, session.StateAwaitingQuestionText, h.engine.State(alice.UserID))
		assert.Contains(t, h.replier.last().Text, "create it manually")

		require.NoError(t, h.engine.HandleText(ctx, alice, "Q?"))
		require.NoError(t, h.engine.HandleText(ctx, alice, "a\nb"))
		require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionSelectCorrect, OptionIndex: 1}))
		assert.Contains(t, h.replier.last().Text, "Source: https://example.com/nothing")
	})

	t.Run("non links are refused without calling the extractor", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.engine.HandleCommand(ctx, alice, "clone", ""))
		err := h.engine.HandleText(ctx, alice, "not a url")

		assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument))
		assert.Equal(t, session.StateAwaitingCloneURL, h.engine.State(alice.UserID))
		assert.Empty(t, h.extractor.links)
	})
}

func TestEngine_EditFlow(t *testing.T) {
	tests := map[string]struct {
		field  domain.EditField
		input  func(t *testing.T, h *harness)
		assert func(t *testing.T, q domain.Question)
	}{
		"text": {
			field: domain.EditFieldText,
			input: func(t *testing.T, h *harness) {
				require.NoError(t, h.engine.HandleText(context.Background(), alice, "What is the capital of Italy?"))
			},
			assert: func(t *testing.T, q domain.Question) {
				assert.Equal(t, "What is the capital of Italy?", q.Text)
				assert.Equal(t, 2, q.CorrectIndex)
			},
		},
		"options keep an in-range answer": {
			field: domain.EditFieldOptions,
			input: func(t *testing.T, h *harness) {
				require.NoError(t, h.engine.HandleText(context.Background(), alice, "a\nb\nc"))
			},
			assert: func(t *testing.T, q domain.Question) {
				assert.Equal(t, []string{"a", "b", "c"}, q.Options)
				assert.Equal(t, 2, q.CorrectIndex)
			},
		},
		"options reset an out-of-range answer": {
			field: domain.EditFieldOptions,
			input: func(t *testing.T, h *harness) {
				require.NoError(t, h.engine.HandleText(context.Background(), alice, "a\nb"))
			},
			assert: func(t *testing.T, q domain.Question) {
				assert.Equal(t, []string{"a", "b"}, q.Options)
				assert.Equal(t, 0, q.CorrectIndex)
			},
		},
		"answer": {
			field: domain.EditFieldAnswer,
			input: func(t *testing.T, h *harness) {
				require.NoError(t, h.engine.HandleAction(context.Background(), alice, domain.Action{Kind: domain.ActionEditAnswer, TargetID: 1, OptionIndex: 3}))
			},
			assert: func(t *testing.T, q domain.Question) {
				assert.Equal(t, 3, q.CorrectIndex)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			require.NoError(t, h.engine.HandleCommand(ctx, alice, "edit", ""))
			assert.Equal(t, session.StateAwaitingEditSelection, h.engine.State(alice.UserID))
			require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionEditTarget, TargetID: 1}))
			assert.Contains(t, h.replier.last().Text, "Editing Quiz ID 1")
			require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionEditField, TargetID: 1, Field: tc.field}))

			tc.input(t, h)

			assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))
			q, err := h.questions.Get(ctx, 1)
			require.NoError(t, err)
			tc.assert(t, q)
		})
	}
}

func TestEngine_EditTargetDeletedMidFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "edit", "1"))
	require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionEditField, TargetID: 1, Field: domain.EditFieldText}))
	_, err := h.questions.Delete(ctx, 1)
	require.NoError(t, err)

	err = h.engine.HandleText(ctx, alice, "new text")

	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))
	assert.Contains(t, h.replier.last().Text, "No question found with ID 1")
}

func TestEngine_RemoveFlow(t *testing.T) {
	t.Run("confirm deletes every question with the id", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		require.NoError(t, h.questions.Insert(ctx, domain.Question{ID: 2, Text: "Dup?", Options: []string{"a", "b"}}))

		require.NoError(t, h.engine.HandleCommand(ctx, alice, "remove", ""))
		require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionRemoveTarget, TargetID: 2}))
		assert.Contains(t, h.replier.last().Text, "Are you sure")
		require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionConfirmRemove, TargetID: 2}))

		assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))
		assert.Contains(t, h.replier.last().Text, "2 quiz questions with ID 2")
		group, err := h.questions.ListByID(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, group)
	})

	t.Run("abort keeps the question", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.engine.HandleCommand(ctx, alice, "remove", "1"))
		assert.Equal(t, session.StateAwaitingRemoval, h.engine.State(alice.UserID))
		require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionAbort, TargetID: 1}))

		assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))
		assert.Equal(t, "Quiz deletion cancelled.", h.replier.last().Text)
		_, err := h.questions.Get(ctx, 1)
		assert.NoError(t, err)
	})

	t.Run("confirm for another question is refused", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.engine.HandleCommand(ctx, alice, "remove", "1"))
		err := h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionConfirmRemove, TargetID: 2})

		assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument))
		assert.Equal(t, session.StateAwaitingRemoval, h.engine.State(alice.UserID))
		n, _ := h.questions.Count(ctx)
		assert.Equal(t, 2, n)
	})
}

func TestEngine_PollImport(t *testing.T) {
	tests := map[string]struct {
		id     string
		assert func(t *testing.T, h *harness)
	}{
		"auto id": {
			id: "auto",
			assert: func(t *testing.T, h *harness) {
				q, err := h.questions.Get(context.Background(), 3)
				require.NoError(t, err)
				assert.Equal(t, domain.CategoryConvertedPoll, q.Category)
				assert.Equal(t, 1, q.CorrectIndex)
				assert.Contains(t, h.replier.last().Text, "Auto ID: 3")
			},
		},
		"custom id colliding with an existing one": {
			id: "1",
			assert: func(t *testing.T, h *harness) {
				group, err := h.questions.ListByID(context.Background(), 1)
				require.NoError(t, err)
				require.Len(t, group, 2)
				assert.Equal(t, "Best language?", group[1].Text)
				assert.Contains(t, h.replier.last().Text, "You now have 2 questions with this ID")
			},
		},
		"fresh custom id": {
			id: "42",
			assert: func(t *testing.T, h *harness) {
				q, err := h.questions.Get(context.Background(), 42)
				require.NoError(t, err)
				assert.Equal(t, []string{"Go", "Rust"}, q.Options)
				assert.NotContains(t, h.replier.last().Text, "You now have")
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			require.NoError(t, h.engine.HandlePoll(ctx, alice, "Best language?", []string{"Go", " ", "Rust"}))
			assert.Equal(t, session.StateAwaitingPollCorrectAnswer, h.engine.State(alice.UserID))
			require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionPollAnswer, OptionIndex: 1}))
			assert.Equal(t, session.StateAwaitingPollID, h.engine.State(alice.UserID))

			require.NoError(t, h.engine.HandleText(ctx, alice, tc.id))

			assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))
			tc.assert(t, h)
		})
	}
}

func TestEngine_PollImportRejectsBadID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.HandlePoll(ctx, alice, "Q?", []string{"a", "b"}))
	require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionPollAnswer, OptionIndex: 0}))

	for _, in := range []string{"-3", "0", "x1"} {
		err := h.engine.HandleText(ctx, alice, in)
		assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument), in)
		assert.Equal(t, session.StateAwaitingPollID, h.engine.State(alice.UserID))
	}
}

func TestEngine_Shortcuts(t *testing.T) {
	t.Run("test this quiz delivers once", func(t *testing.T) {
		h := newHarness(t)

		require.NoError(t, h.engine.HandleAction(context.Background(), alice, domain.Action{Kind: domain.ActionTestQuiz, TargetID: 2}))

		require.Len(t, h.delivery.singles, 1)
		assert.Equal(t, 2, h.delivery.singles[0].ID)
		assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))
	})

	t.Run("edit field jumps straight into the edit", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.engine.HandleAction(ctx, alice, domain.Action{Kind: domain.ActionEditField, TargetID: 2, Field: domain.EditFieldText}))
		assert.Equal(t, session.StateAwaitingNewQuestionText, h.engine.State(alice.UserID))
		require.NoError(t, h.engine.HandleText(ctx, alice, "Red planet?"))

		q, err := h.questions.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "Red planet?", q.Text)
	})

	t.Run("stale flow button", func(t *testing.T) {
		h := newHarness(t)

		err := h.engine.HandleAction(context.Background(), alice, domain.Action{Kind: domain.ActionConfirmRemove, TargetID: 1})

		assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument))
		assert.Equal(t, "This button is no longer active.", h.replier.last().Text)
	})
}

func TestEngine_Play(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.questions.Insert(ctx, domain.Question{ID: 1, Text: "Again?", Options: []string{"a", "b"}}))

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "play", ""))
	require.Len(t, h.delivery.singles, 1)

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "play", "1"))
	require.Len(t, h.delivery.marathons, 1)
	assert.Len(t, h.delivery.marathons[0], 2, "every question sharing the id")

	err := h.engine.HandleCommand(ctx, alice, "play", "77")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	assert.Equal(t, "No questions found with ID 77.", h.replier.last().Text)
	assert.Len(t, h.delivery.marathons, 1)

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "stop", ""))
	assert.Equal(t, "⏹ Marathon stopped.", h.replier.last().Text)
	require.NoError(t, h.engine.HandleCommand(ctx, alice, "stop", ""))
	assert.Equal(t, "No marathon is running.", h.replier.last().Text)
}

func TestEngine_ListAndStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "list", ""))
	text := h.replier.last().Text
	assert.Contains(t, text, "Geography (1)")
	assert.Contains(t, text, "- ID 2: Which planet is known as the R…")

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "stats", ""))
	assert.Contains(t, h.replier.last().Text, "haven't answered")

	_, err := h.stats.Record(ctx, "1", "alice", true)
	require.NoError(t, err)
	_, err = h.stats.Record(ctx, "1", "alice", false)
	require.NoError(t, err)
	_, err = h.stats.Record(ctx, "1", "alice", false)
	require.NoError(t, err)

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "stats", ""))
	text = h.replier.last().Text
	assert.Contains(t, text, "Total questions answered: 3")
	assert.Contains(t, text, "Correct answers: 1")
	assert.Contains(t, text, "Accuracy: 33.3%")
}

func TestEngine_Top(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "top", ""))
	assert.Contains(t, h.replier.last().Text, "Nobody is on the leaderboard")

	ranked := session.NewEngine(session.Config{
		Questions: h.questions,
		Stats:     h.stats,
		Replier:   h.replier,
		Ranking: fakeRanking{
			{UserID: "2", DisplayName: "bob", Correct: 5},
			{UserID: "7", Correct: 1},
		},
	})
	require.NoError(t, ranked.HandleCommand(ctx, alice, "top", ""))
	assert.Equal(t, "🏆 Top Players 🏆\n\n1. bob: 5 correct\n2. Player 7: 1 correct\n", h.replier.last().Text)
}

func TestEngine_Reap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob := session.Origin{UserID: 2, ChatID: 200}

	require.NoError(t, h.engine.HandleCommand(ctx, alice, "add", ""))
	h.clock.advance(10 * time.Minute)
	require.NoError(t, h.engine.HandleCommand(ctx, bob, "add", ""))
	h.clock.advance(6 * time.Minute)

	assert.Equal(t, 1, h.engine.Reap(ctx))

	assert.Equal(t, session.StateIdle, h.engine.State(alice.UserID))
	assert.Equal(t, session.StateAwaitingQuestionText, h.engine.State(bob.UserID))
	assert.Equal(t, 1, h.engine.Len())

	r := h.replier.lastFor(alice.ChatID)
	assert.Contains(t, r.Text, "discarded")
}

func TestEngine_UsersAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := session.Origin{UserID: int64(i), ChatID: int64(i)}
			assert.NoError(t, h.engine.HandleCommand(ctx, o, "add", ""))
			assert.NoError(t, h.engine.HandleText(ctx, o, fmt.Sprintf("Question %d?", i)))
			assert.NoError(t, h.engine.HandleText(ctx, o, "a\nb"))
			assert.NoError(t, h.engine.HandleAction(ctx, o, domain.Action{Kind: domain.ActionSelectCorrect, OptionIndex: 1}))
		}()
	}
	wg.Wait()

	qs, err := h.questions.List(ctx)
	require.NoError(t, err)
	require.Len(t, qs, 22)

	seen := map[int]bool{}
	for _, q := range qs {
		assert.False(t, seen[q.ID], "id %d allocated twice", q.ID)
		seen[q.ID] = true
	}
	assert.Zero(t, h.engine.Len())
}

type harness struct {
	engine    *session.Engine
	questions *question.MemoryStore
	stats     stats.Store
	replier   *fakeReplier
	extractor *fakeExtractor
	delivery  *fakeDelivery
	clock     *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		questions: question.NewMemoryStore(question.SampleQuestions()...),
		stats:     stats.NewMemoryStore(),
		replier:   &fakeReplier{},
		extractor: &fakeExtractor{},
		delivery:  &fakeDelivery{},
		clock:     &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.engine = session.NewEngine(session.Config{
		Questions:   h.questions,
		Stats:       h.stats,
		Extractor:   h.extractor,
		Delivery:    h.delivery,
		Replier:     h.replier,
		IdleTimeout: 15 * time.Minute,
		Now:         h.clock.Now,
	})

	return h
}

func (h *harness) start(t *testing.T, command string) {
	t.Helper()
	require.NoError(t, h.engine.HandleCommand(context.Background(), alice, command, ""))
}

type sentReply struct {
	chatID int64
	reply  session.Reply
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []sentReply
}

func (f *fakeReplier) Reply(_ context.Context, chatID int64, r session.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{chatID: chatID, reply: r})
	return nil
}

func (f *fakeReplier) last() session.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return session.Reply{}
	}
	return f.replies[len(f.replies)-1].reply
}

func (f *fakeReplier) lastFor(chatID int64) session.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.replies) - 1; i >= 0; i-- {
		if f.replies[i].chatID == chatID {
			return f.replies[i].reply
		}
	}
	return session.Reply{}
}

type fakeExtractor struct {
	draft domain.Draft
	err   error
	links []string
}

func (f *fakeExtractor) Extract(_ context.Context, link string) (domain.Draft, error) {
	f.links = append(f.links, link)
	if f.err != nil {
		return domain.Draft{}, f.err
	}
	return f.draft, nil
}

type fakeDelivery struct {
	mu        sync.Mutex
	singles   []domain.Question
	marathons [][]domain.Question
}

func (f *fakeDelivery) SendSingle(_ context.Context, _ int64, q domain.Question) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles = append(f.singles, q)
	return fmt.Sprintf("poll-%d", len(f.singles)), nil
}

func (f *fakeDelivery) StartMarathon(_ context.Context, destination int64, qs []domain.Question, interval time.Duration) (*delivery.MarathonRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marathons = append(f.marathons, qs)
	return &delivery.MarathonRun{Destination: destination, Interval: interval}, nil
}

func (f *fakeDelivery) Cancel(int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.marathons) == 0 {
		return false
	}
	f.marathons = f.marathons[:len(f.marathons)-1]
	return true
}

type fakeRanking []domain.LeaderboardEntry

func (f fakeRanking) GetLeaderboard(context.Context) (*domain.Leaderboard, error) {
	return &domain.Leaderboard{Entries: f}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
