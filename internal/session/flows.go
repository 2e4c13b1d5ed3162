package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
)

var textStates = map[string]bool{
	StateAwaitingQuestionText:    true,
	StateAwaitingOptions:         true,
	StateAwaitingCloneURL:        true,
	StateAwaitingNewQuestionText: true,
	StateAwaitingNewOptions:      true,
	StateAwaitingPollID:          true,
}

// HandleText applies a free-text message to the user's current state.
func (e *Engine) HandleText(ctx context.Context, o Origin, text string) error {
	s := e.acquire(o)
	defer e.release(s)

	state := s.state()
	if state == StateIdle {
		return e.say(ctx, o, msgIdleText)
	}
	if !textStates[state] {
		return e.reprompt(ctx, o, s, msgUseButtons)
	}

	text = strings.TrimSpace(text)
	switch state {
	case StateAwaitingQuestionText:
		if text == "" {
			return e.sayErr(ctx, o, errors.Validation("question text must not be empty"), msgAskQuestion)
		}
		s.Draft.QuestionText = text
		if err := s.fire(ctx, evQuestionText); err != nil {
			return err
		}
		return e.say(ctx, o, msgAskOptions)

	case StateAwaitingOptions:
		opts := domain.ParseOptions(text)
		if len(opts) < domain.MinOptions {
			return e.sayErr(ctx, o, errors.Validation("a question needs at least %d options, got %d", domain.MinOptions, len(opts)), msgTooFewOptions)
		}
		s.Draft.Options = opts
		if err := s.fire(ctx, evOptions); err != nil {
			return err
		}
		return e.say(ctx, o, msgAskCorrect, optionButtons(domain.ActionSelectCorrect, 0, opts)...)

	case StateAwaitingCloneURL:
		return e.clone(ctx, o, s, text)

	case StateAwaitingNewQuestionText:
		if text == "" {
			return e.sayErr(ctx, o, errors.Validation("question text must not be empty"), msgAskNewText)
		}
		return e.applyEdit(ctx, o, s, func(q *domain.Question) error {
			q.Text = text
			return nil
		})

	case StateAwaitingNewOptions:
		opts := domain.ParseOptions(text)
		if len(opts) < domain.MinOptions {
			return e.sayErr(ctx, o, errors.Validation("a question needs at least %d options, got %d", domain.MinOptions, len(opts)), msgTooFewOptions)
		}
		return e.applyEdit(ctx, o, s, func(q *domain.Question) error {
			q.Options = opts
			if q.CorrectIndex >= len(opts) {
				q.CorrectIndex = 0
			}
			return nil
		})

	case StateAwaitingPollID:
		return e.savePoll(ctx, o, s, text)
	}

	return nil
}

// HandleAction applies a button press to the user's current state.
func (e *Engine) HandleAction(ctx context.Context, o Origin, a domain.Action) error {
	s := e.acquire(o)
	defer e.release(s)

	state := s.state()
	if a.Kind == domain.ActionAbort {
		if state == StateIdle {
			return e.say(ctx, o, msgNothingToAbort)
		}
		if err := s.fire(ctx, evCancel); err != nil {
			return err
		}
		s.Draft = domain.Draft{}
		if state == StateAwaitingRemoval {
			return e.say(ctx, o, msgRemoveAborted)
		}
		return e.say(ctx, o, msgCancelled)
	}

	if textStates[state] {
		return e.reprompt(ctx, o, s, msgUseText)
	}

	switch state {
	case StateIdle:
		return e.shortcut(ctx, o, s, a)

	case StateAwaitingCorrectAnswer:
		if a.Kind != domain.ActionSelectCorrect || a.OptionIndex >= len(s.Draft.Options) {
			return e.reprompt(ctx, o, s, msgUseButtons)
		}
		return e.saveNew(ctx, o, s, a.OptionIndex)

	case StateAwaitingEditSelection:
		return e.selectEdit(ctx, o, s, a)

	case StateAwaitingNewCorrectAnswer:
		if a.Kind != domain.ActionEditAnswer || a.OptionIndex >= len(s.Draft.Options) {
			return e.reprompt(ctx, o, s, msgUseButtons)
		}
		return e.applyEdit(ctx, o, s, func(q *domain.Question) error {
			q.CorrectIndex = a.OptionIndex
			return nil
		})

	case StateAwaitingRemoval:
		return e.selectRemove(ctx, o, s, a)

	case StateAwaitingPollCorrectAnswer:
		if a.Kind != domain.ActionPollAnswer || a.OptionIndex >= len(s.Draft.Options) {
			return e.reprompt(ctx, o, s, msgUseButtons)
		}
		idx := a.OptionIndex
		s.Draft.CorrectIndex = &idx
		if err := s.fire(ctx, evPollAnswer); err != nil {
			return err
		}
		return e.say(ctx, o, msgAskPollID)
	}

	return e.reprompt(ctx, o, s, msgUseButtons)
}

// HandlePoll starts the poll import flow for a forwarded poll.
func (e *Engine) HandlePoll(ctx context.Context, o Origin, text string, options []string) error {
	s := e.acquire(o)
	defer e.release(s)

	if s.state() != StateIdle {
		return e.sayErr(ctx, o, errors.Validation("flow %s already active", s.state()), msgBusy)
	}

	var opts []string
	for _, opt := range options {
		if opt = strings.TrimSpace(opt); opt != "" {
			opts = append(opts, opt)
		}
	}
	if strings.TrimSpace(text) == "" || len(opts) < domain.MinOptions {
		return e.sayErr(ctx, o, errors.Validation("forwarded poll needs text and at least %d options", domain.MinOptions),
			"That poll can't be converted: it needs a question and at least 2 options.")
	}

	s.Draft = domain.Draft{QuestionText: strings.TrimSpace(text), Options: opts}
	if err := s.fire(ctx, evPoll); err != nil {
		return err
	}

	return e.say(ctx, o,
		fmt.Sprintf("📝 I received a poll! I'll convert it to a quiz question.\n\nQuestion: %s\n\nPlease select the correct answer:", s.Draft.QuestionText),
		optionButtons(domain.ActionPollAnswer, 0, opts)...)
}

// reprompt answers input of the wrong kind with the current state's prompt. The state does not move.
func (e *Engine) reprompt(ctx context.Context, o Origin, s *Session, hint string) error {
	cause := errors.Validation("unexpected input in state %s", s.state())

	r, err := e.prompt(ctx, s)
	if err != nil {
		return e.storeFailed(ctx, o, err)
	}

	return e.sayErr(ctx, o, cause, hint+"\n\n"+r.Text, r.Buttons...)
}

// prompt renders what the current state is waiting for.
func (e *Engine) prompt(ctx context.Context, s *Session) (Reply, error) {
	d := s.Draft
	switch s.state() {
	case StateAwaitingQuestionText:
		return Reply{Text: msgAskQuestion}, nil
	case StateAwaitingOptions:
		return Reply{Text: msgAskOptions}, nil
	case StateAwaitingCorrectAnswer:
		return Reply{Text: msgAskCorrect, Buttons: optionButtons(domain.ActionSelectCorrect, 0, d.Options)}, nil
	case StateAwaitingCloneURL:
		return Reply{Text: msgAskCloneURL}, nil
	case StateAwaitingNewQuestionText:
		return Reply{Text: msgAskNewText}, nil
	case StateAwaitingNewOptions:
		return Reply{Text: msgAskNewOptions}, nil
	case StateAwaitingNewCorrectAnswer:
		return Reply{Text: msgAskNewCorrect, Buttons: optionButtons(domain.ActionEditAnswer, targetID(d), d.Options)}, nil
	case StateAwaitingPollCorrectAnswer:
		return Reply{Text: "Please select the correct answer:", Buttons: optionButtons(domain.ActionPollAnswer, 0, d.Options)}, nil
	case StateAwaitingPollID:
		return Reply{Text: msgAskPollID}, nil

	case StateAwaitingEditSelection:
		if d.EditingTargetID != nil {
			return Reply{Text: msgSelectField, Buttons: fieldButtons(*d.EditingTargetID)}, nil
		}
		qs, err := e.questions.List(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: msgSelectEdit, Buttons: questionButtons(domain.ActionEditTarget, qs)}, nil

	case StateAwaitingRemoval:
		if d.EditingTargetID != nil {
			return Reply{Text: "Delete this quiz?", Buttons: confirmRemoveButtons(*d.EditingTargetID)}, nil
		}
		qs, err := e.questions.List(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: msgSelectRemove, Buttons: questionButtons(domain.ActionRemoveTarget, qs)}, nil
	}

	return Reply{Text: msgHelp}, nil
}

func targetID(d domain.Draft) int {
	if d.EditingTargetID == nil {
		return 0
	}
	return *d.EditingTargetID
}

// clone extracts a quiz from link. On failure the user continues in the manual create flow
// and the link is kept on the draft.
func (e *Engine) clone(ctx context.Context, o Origin, s *Session, link string) error {
	link = strings.TrimSpace(link)
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return e.sayErr(ctx, o, errors.Validation("not a link: %q", link), msgNotALink)
	}

	if err := e.say(ctx, o, msgAnalyzing); err != nil {
		slog.ErrorContext(ctx, "session: reply failed", "user_id", o.UserID, "error", err)
	}

	d, err := e.extractor.Extract(ctx, link)
	if err != nil {
		s.Draft = domain.Draft{PendingCloneURL: link}
		if ferr := s.fire(ctx, evCloneFailed); ferr != nil {
			return ferr
		}
		return e.sayErr(ctx, o, err, msgCloneFailed)
	}

	d.PendingCloneURL = link
	s.Draft = d
	if err := s.fire(ctx, evCloned); err != nil {
		return err
	}

	return e.say(ctx, o,
		"✅ Quiz extracted! The first option is marked correct until you confirm.\n\n"+
			preview(d.Question(0, domain.CategoryUserCreated))+"\n"+msgAskCorrect,
		optionButtons(domain.ActionSelectCorrect, 0, d.Options)...)
}

// saveNew completes the create and clone flows.
func (e *Engine) saveNew(ctx context.Context, o Origin, s *Session, correct int) error {
	s.Draft.CorrectIndex = &correct
	q := s.Draft.Question(0, domain.CategoryUserCreated)
	if err := q.Validate(); err != nil {
		return e.reprompt(ctx, o, s, errors.Convert(err).Message)
	}

	created, err := e.questions.Create(ctx, q)
	if err != nil {
		return e.storeFailed(ctx, o, err)
	}

	source := s.Draft.PendingCloneURL
	if err := e.finish(ctx, s); err != nil {
		return err
	}
	e.eb.Publish(ctx, domain.EventQuestionSaved{Question: created, Created: true})

	text := fmt.Sprintf("✅ Quiz question created successfully! (ID: %d)\n\n%s", created.ID, preview(created))
	if source != "" {
		text += fmt.Sprintf("\nSource: %s\n", source)
	}
	text += "\nUse /play to try it out or /add to create another."

	return e.say(ctx, o, text, shortcutButtons(created.ID)...)
}

// savePoll completes the poll import flow. A custom id may collide with existing
// questions; the collision is kept and reported.
func (e *Engine) savePoll(ctx context.Context, o Origin, s *Session, input string) error {
	q := s.Draft.Question(0, domain.CategoryConvertedPoll)
	if err := q.Validate(); err != nil {
		return e.sayErr(ctx, o, err, errors.Convert(err).Message)
	}

	var (
		saved domain.Question
		err   error
		auto  = strings.EqualFold(input, "auto")
	)
	if auto {
		saved, err = e.questions.Create(ctx, q)
	} else {
		id, perr := strconv.Atoi(input)
		if perr != nil || id <= 0 {
			return e.sayErr(ctx, o, errors.Validation("malformed question id %q", input), msgBadPollID)
		}
		q.ID = id
		saved, err = q, e.questions.Insert(ctx, q)
	}
	if err != nil {
		return e.storeFailed(ctx, o, err)
	}

	var b strings.Builder
	if auto {
		fmt.Fprintf(&b, "✅ Quiz added with Auto ID: %d\n\n", saved.ID)
	} else {
		fmt.Fprintf(&b, "✅ Quiz added with ID: %d\n", saved.ID)
		group, err := e.questions.ListByID(ctx, saved.ID)
		if err != nil {
			slog.ErrorContext(ctx, "session: count questions sharing id", "id", saved.ID, "error", err)
		} else if len(group) > 1 {
			fmt.Fprintf(&b, "(You now have %d questions with this ID)\n", len(group))
		}
		b.WriteString("\n")
	}
	b.WriteString(preview(saved))

	if err := e.finish(ctx, s); err != nil {
		return err
	}
	e.eb.Publish(ctx, domain.EventQuestionSaved{Question: saved, Created: true})

	return e.say(ctx, o, b.String(), shortcutButtons(saved.ID)...)
}

func (e *Engine) selectEdit(ctx context.Context, o Origin, s *Session, a domain.Action) error {
	switch a.Kind {
	case domain.ActionEditTarget:
		q, err := e.questions.Get(ctx, a.TargetID)
		if errors.HasCode(err, errors.CodeNotFound) {
			s.Draft = domain.Draft{}
			return e.reprompt(ctx, o, s, msgNotFound(a.TargetID))
		}
		if err != nil {
			return e.storeFailed(ctx, o, err)
		}
		s.Draft = targetDraft(q)
		return e.say(ctx, o, editSummary(q), fieldButtons(q.ID)...)

	case domain.ActionEditField:
		if s.Draft.EditingTargetID == nil || *s.Draft.EditingTargetID != a.TargetID {
			return e.reprompt(ctx, o, s, msgUseButtons)
		}
		return e.chooseField(ctx, o, s, a.Field)
	}

	return e.reprompt(ctx, o, s, msgUseButtons)
}

func (e *Engine) chooseField(ctx context.Context, o Origin, s *Session, f domain.EditField) error {
	s.Draft.EditingField = f
	d := s.Draft

	switch f {
	case domain.EditFieldText:
		if err := s.fire(ctx, evEditText); err != nil {
			return err
		}
		return e.say(ctx, o, fmt.Sprintf("%s\n\nCurrent: %s", msgAskNewText, d.QuestionText))

	case domain.EditFieldOptions:
		if err := s.fire(ctx, evEditOptions); err != nil {
			return err
		}
		return e.say(ctx, o, fmt.Sprintf("%s\n\nCurrent options:\n%s", msgAskNewOptions, strings.Join(d.Options, "\n")))

	case domain.EditFieldAnswer:
		if err := s.fire(ctx, evEditAnswer); err != nil {
			return err
		}
		return e.say(ctx, o, msgAskNewCorrect, optionButtons(domain.ActionEditAnswer, targetID(d), d.Options)...)
	}

	return e.reprompt(ctx, o, s, msgUseButtons)
}

// applyEdit completes the edit flow by rewriting the target question.
func (e *Engine) applyEdit(ctx context.Context, o Origin, s *Session, mutate func(q *domain.Question) error) error {
	id := targetID(s.Draft)

	updated, err := e.questions.Update(ctx, id, mutate)
	switch {
	case errors.HasCode(err, errors.CodeNotFound):
		if ferr := e.finish(ctx, s); ferr != nil {
			return ferr
		}
		return e.sayErr(ctx, o, err, msgNotFound(id))
	case errors.HasCode(err, errors.CodeInvalidArgument):
		return e.sayErr(ctx, o, err, errors.Convert(err).Message)
	case err != nil:
		return e.storeFailed(ctx, o, err)
	}

	if err := e.finish(ctx, s); err != nil {
		return err
	}
	e.eb.Publish(ctx, domain.EventQuestionSaved{Question: updated, Created: false})

	return e.say(ctx, o, fmt.Sprintf("✅ Quiz updated successfully!\n\n%s\nUse /list to see all quizzes or /play to try one.", preview(updated)))
}

func (e *Engine) selectRemove(ctx context.Context, o Origin, s *Session, a domain.Action) error {
	switch a.Kind {
	case domain.ActionRemoveTarget:
		q, err := e.questions.Get(ctx, a.TargetID)
		if errors.HasCode(err, errors.CodeNotFound) {
			s.Draft = domain.Draft{}
			return e.reprompt(ctx, o, s, msgNotFound(a.TargetID))
		}
		if err != nil {
			return e.storeFailed(ctx, o, err)
		}
		s.Draft = targetDraft(q)
		return e.say(ctx, o, removeSummary(q), confirmRemoveButtons(q.ID)...)

	case domain.ActionConfirmRemove:
		if s.Draft.EditingTargetID == nil || *s.Draft.EditingTargetID != a.TargetID {
			return e.reprompt(ctx, o, s, msgUseButtons)
		}

		removed, err := e.questions.Delete(ctx, a.TargetID)
		if err != nil {
			return e.storeFailed(ctx, o, err)
		}
		if err := e.finish(ctx, s); err != nil {
			return err
		}
		if removed == 0 {
			return e.sayErr(ctx, o, errors.NotFound("question %d", a.TargetID), msgNotFound(a.TargetID))
		}

		e.eb.Publish(ctx, domain.EventQuestionDeleted{ID: a.TargetID, Removed: removed})
		if removed > 1 {
			return e.say(ctx, o, fmt.Sprintf("✅ %d quiz questions with ID %d have been deleted.", removed, a.TargetID))
		}
		return e.say(ctx, o, fmt.Sprintf("✅ Quiz question ID %d has been deleted.", a.TargetID))
	}

	return e.reprompt(ctx, o, s, msgUseButtons)
}

// shortcut handles the buttons under a saved question, which are pressed from idle.
func (e *Engine) shortcut(ctx context.Context, o Origin, s *Session, a domain.Action) error {
	switch a.Kind {
	case domain.ActionTestQuiz:
		q, err := e.questions.Get(ctx, a.TargetID)
		if errors.HasCode(err, errors.CodeNotFound) {
			return e.sayErr(ctx, o, err, msgNotFound(a.TargetID))
		}
		if err != nil {
			return e.storeFailed(ctx, o, err)
		}
		return e.sendSingle(ctx, o, q)

	case domain.ActionEditField:
		q, err := e.questions.Get(ctx, a.TargetID)
		if errors.HasCode(err, errors.CodeNotFound) {
			return e.sayErr(ctx, o, err, msgNotFound(a.TargetID))
		}
		if err != nil {
			return e.storeFailed(ctx, o, err)
		}
		s.Draft = targetDraft(q)
		return e.chooseField(ctx, o, s, a.Field)
	}

	return e.sayErr(ctx, o, errors.Validation("stale action %s", a.Kind), msgStaleButton)
}

// finish ends the current flow and clears the draft.
func (e *Engine) finish(ctx context.Context, s *Session) error {
	s.Draft = domain.Draft{}
	return s.fire(ctx, evDone)
}
