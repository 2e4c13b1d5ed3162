package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
)

// HandleCommand routes a slash command. args is the text after the command name.
// Commands that start a flow are refused while another flow is active; the rest run in any state.
func (e *Engine) HandleCommand(ctx context.Context, o Origin, name, args string) error {
	name = strings.ToLower(strings.TrimPrefix(name, "/"))
	args = strings.TrimSpace(args)

	switch name {
	case "start":
		return e.say(ctx, o, msgWelcome(o.Name))
	case "help":
		return e.say(ctx, o, msgHelp)
	case "list":
		return e.list(ctx, o)
	case "stats":
		return e.userStats(ctx, o)
	case "top":
		return e.top(ctx, o)
	case "play":
		return e.play(ctx, o, args)
	case "stop":
		return e.stop(ctx, o)
	case "cancel":
		return e.cancel(ctx, o)
	case "add", "clone", "edit", "remove":
		return e.startFlow(ctx, o, name, args)
	default:
		return e.say(ctx, o, msgUnknownCommand)
	}
}

func (e *Engine) startFlow(ctx context.Context, o Origin, name, args string) error {
	s := e.acquire(o)
	defer e.release(s)

	if s.state() != StateIdle {
		return e.sayErr(ctx, o, errors.Validation("flow %s already active", s.state()), msgBusy)
	}
	s.Draft = domain.Draft{}

	switch name {
	case "add":
		if err := s.fire(ctx, evAdd); err != nil {
			return err
		}
		return e.say(ctx, o, msgAskQuestion)

	case "clone":
		if err := s.fire(ctx, evClone); err != nil {
			return err
		}
		if args == "" {
			return e.say(ctx, o, msgAskCloneURL)
		}
		return e.clone(ctx, o, s, args)

	case "edit":
		return e.startEdit(ctx, o, s, args)

	case "remove":
		return e.startRemove(ctx, o, s, args)
	}

	return nil
}

func (e *Engine) startEdit(ctx context.Context, o Origin, s *Session, args string) error {
	if args == "" {
		qs, err := e.questions.List(ctx)
		if err != nil {
			return e.storeFailed(ctx, o, err)
		}
		if len(qs) == 0 {
			return e.say(ctx, o, "No quiz questions available to edit.")
		}
		if err := s.fire(ctx, evEdit); err != nil {
			return err
		}
		return e.say(ctx, o, msgSelectEdit, questionButtons(domain.ActionEditTarget, qs)...)
	}

	q, err := e.lookupArg(ctx, o, args)
	if err != nil {
		return err
	}
	if err := s.fire(ctx, evEdit); err != nil {
		return err
	}
	s.Draft = targetDraft(q)

	return e.say(ctx, o, editSummary(q), fieldButtons(q.ID)...)
}

func (e *Engine) startRemove(ctx context.Context, o Origin, s *Session, args string) error {
	if args == "" {
		qs, err := e.questions.List(ctx)
		if err != nil {
			return e.storeFailed(ctx, o, err)
		}
		if len(qs) == 0 {
			return e.say(ctx, o, "No quiz questions available to remove.")
		}
		if err := s.fire(ctx, evRemove); err != nil {
			return err
		}
		return e.say(ctx, o, msgSelectRemove, questionButtons(domain.ActionRemoveTarget, qs)...)
	}

	q, err := e.lookupArg(ctx, o, args)
	if err != nil {
		return err
	}
	if err := s.fire(ctx, evRemove); err != nil {
		return err
	}
	s.Draft = targetDraft(q)

	return e.say(ctx, o, removeSummary(q), confirmRemoveButtons(q.ID)...)
}

// lookupArg parses a question id argument and loads the question, replying on failure.
func (e *Engine) lookupArg(ctx context.Context, o Origin, args string) (domain.Question, error) {
	id, err := strconv.Atoi(strings.Fields(args)[0])
	if err != nil {
		return domain.Question{}, e.sayErr(ctx, o, errors.Validation("malformed question id %q", args), msgBadID)
	}

	q, err := e.questions.Get(ctx, id)
	if errors.HasCode(err, errors.CodeNotFound) {
		return domain.Question{}, e.sayErr(ctx, o, err, msgNotFound(id))
	}
	if err != nil {
		return domain.Question{}, e.storeFailed(ctx, o, err)
	}

	return q, nil
}

// targetDraft snapshots q into a draft so prompts can show its current values.
func targetDraft(q domain.Question) domain.Draft {
	id, correct := q.ID, q.CorrectIndex
	return domain.Draft{
		QuestionText:    q.Text,
		Options:         append([]string(nil), q.Options...),
		CorrectIndex:    &correct,
		EditingTargetID: &id,
	}
}

func (e *Engine) cancel(ctx context.Context, o Origin) error {
	s := e.acquire(o)
	defer e.release(s)

	if s.state() == StateIdle {
		return e.say(ctx, o, msgNothingToAbort)
	}

	if err := s.fire(ctx, evCancel); err != nil {
		return err
	}
	s.Draft = domain.Draft{}

	return e.say(ctx, o, msgCancelled)
}

func (e *Engine) list(ctx context.Context, o Origin) error {
	qs, err := e.questions.List(ctx)
	if err != nil {
		return e.storeFailed(ctx, o, err)
	}
	if len(qs) == 0 {
		return e.say(ctx, o, msgNoQuestions)
	}

	return e.say(ctx, o, listing(qs, e.listPerCategory))
}

func (e *Engine) userStats(ctx context.Context, o Origin) error {
	st, err := e.stats.Get(ctx, strconv.FormatInt(o.UserID, 10))
	if errors.HasCode(err, errors.CodeNotFound) {
		return e.say(ctx, o, msgNoStats)
	}
	if err != nil {
		return e.storeFailed(ctx, o, err)
	}

	return e.say(ctx, o, statsSummary(st))
}

func (e *Engine) top(ctx context.Context, o Origin) error {
	if e.ranking == nil {
		return e.say(ctx, o, msgNoLeaderboard)
	}

	l, err := e.ranking.GetLeaderboard(ctx)
	if errors.HasCode(err, errors.CodeNotFound) {
		return e.say(ctx, o, msgNoLeaderboard)
	}
	if err != nil {
		return e.storeFailed(ctx, o, err)
	}

	return e.say(ctx, o, leaderboardSummary(*l))
}

// play sends one random question, or with an id starts a marathon over every question sharing it.
func (e *Engine) play(ctx context.Context, o Origin, args string) error {
	if args == "" {
		qs, err := e.questions.List(ctx)
		if err != nil {
			return e.storeFailed(ctx, o, err)
		}
		if len(qs) == 0 {
			return e.say(ctx, o, "No questions available. Add some with /add command!")
		}
		return e.sendSingle(ctx, o, qs[rand.IntN(len(qs))])
	}

	id, err := strconv.Atoi(strings.Fields(args)[0])
	if err != nil {
		return e.sayErr(ctx, o, errors.Validation("malformed question id %q", args), "Invalid ID format. Please use a number.")
	}

	group, err := e.questions.ListByID(ctx, id)
	if err == nil && len(group) == 0 {
		err = errors.NotFound("no questions with id %d", id)
	}
	switch {
	case errors.HasCode(err, errors.CodeNotFound):
		return e.sayErr(ctx, o, err, fmt.Sprintf("No questions found with ID %d.", id))
	case err != nil:
		return e.storeFailed(ctx, o, err)
	}

	if err := e.say(ctx, o, fmt.Sprintf("📊 Starting a quiz with %d questions (ID: %d).\nQuestions will be sent every %s.",
		len(group), id, e.marathonInterval)); err != nil {
		return err
	}

	if _, err := e.delivery.StartMarathon(ctx, o.ChatID, group, e.marathonInterval); err != nil {
		return e.sayErr(ctx, o, err, msgSendFailed)
	}

	return nil
}

func (e *Engine) sendSingle(ctx context.Context, o Origin, q domain.Question) error {
	if _, err := e.delivery.SendSingle(ctx, o.ChatID, q); err != nil {
		return e.sayErr(ctx, o, err, msgSendFailed)
	}
	return nil
}

func (e *Engine) stop(ctx context.Context, o Origin) error {
	if !e.delivery.Cancel(o.ChatID) {
		return e.say(ctx, o, msgNoMarathon)
	}
	return e.say(ctx, o, msgMarathonOff)
}
