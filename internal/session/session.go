// Package session drives the per-user authoring conversations: create, clone, edit,
// remove and poll import. Each user owns one state machine; inputs for one user are
// applied in order under that session's lock and users never share a session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/victornm/quizbot/internal/delivery"
	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
	"github.com/victornm/quizbot/internal/event"
	"github.com/victornm/quizbot/internal/question"
	"github.com/victornm/quizbot/internal/stats"
	"github.com/victornm/quizbot/internal/telemetry"
)

const (
	StateIdle                      = "idle"
	StateAwaitingQuestionText      = "awaiting_question_text"
	StateAwaitingOptions           = "awaiting_options"
	StateAwaitingCorrectAnswer     = "awaiting_correct_answer"
	StateAwaitingCloneURL          = "awaiting_clone_url"
	StateAwaitingEditSelection     = "awaiting_edit_selection"
	StateAwaitingNewQuestionText   = "awaiting_new_question_text"
	StateAwaitingNewOptions        = "awaiting_new_options"
	StateAwaitingNewCorrectAnswer  = "awaiting_new_correct_answer"
	StateAwaitingRemoval           = "awaiting_removal_confirmation"
	StateAwaitingPollCorrectAnswer = "awaiting_poll_correct_answer"
	StateAwaitingPollID            = "awaiting_poll_id"
)

const (
	evAdd          = "add"
	evQuestionText = "question_text"
	evOptions      = "options"
	evClone        = "clone"
	evCloned       = "cloned"
	evCloneFailed  = "clone_failed"
	evEdit         = "edit"
	evEditText     = "edit_text"
	evEditOptions  = "edit_options"
	evEditAnswer   = "edit_answer"
	evRemove       = "remove"
	evPoll         = "poll"
	evPollAnswer   = "poll_answer"
	evDone         = "done"
	evCancel       = "cancel"
)

var busyStates = []string{
	StateAwaitingQuestionText,
	StateAwaitingOptions,
	StateAwaitingCorrectAnswer,
	StateAwaitingCloneURL,
	StateAwaitingEditSelection,
	StateAwaitingNewQuestionText,
	StateAwaitingNewOptions,
	StateAwaitingNewCorrectAnswer,
	StateAwaitingRemoval,
	StateAwaitingPollCorrectAnswer,
	StateAwaitingPollID,
}

var transitions = fsm.Events{
	{Name: evAdd, Src: []string{StateIdle}, Dst: StateAwaitingQuestionText},
	{Name: evQuestionText, Src: []string{StateAwaitingQuestionText}, Dst: StateAwaitingOptions},
	{Name: evOptions, Src: []string{StateAwaitingOptions}, Dst: StateAwaitingCorrectAnswer},

	{Name: evClone, Src: []string{StateIdle}, Dst: StateAwaitingCloneURL},
	{Name: evCloned, Src: []string{StateAwaitingCloneURL}, Dst: StateAwaitingCorrectAnswer},
	{Name: evCloneFailed, Src: []string{StateAwaitingCloneURL}, Dst: StateAwaitingQuestionText},

	{Name: evEdit, Src: []string{StateIdle}, Dst: StateAwaitingEditSelection},
	// Shortcut buttons under a saved question jump straight from idle to a field.
	{Name: evEditText, Src: []string{StateAwaitingEditSelection, StateIdle}, Dst: StateAwaitingNewQuestionText},
	{Name: evEditOptions, Src: []string{StateAwaitingEditSelection, StateIdle}, Dst: StateAwaitingNewOptions},
	{Name: evEditAnswer, Src: []string{StateAwaitingEditSelection, StateIdle}, Dst: StateAwaitingNewCorrectAnswer},

	{Name: evRemove, Src: []string{StateIdle}, Dst: StateAwaitingRemoval},

	{Name: evPoll, Src: []string{StateIdle}, Dst: StateAwaitingPollCorrectAnswer},
	{Name: evPollAnswer, Src: []string{StateAwaitingPollCorrectAnswer}, Dst: StateAwaitingPollID},

	{Name: evDone, Src: []string{
		StateAwaitingCorrectAnswer,
		StateAwaitingNewQuestionText,
		StateAwaitingNewOptions,
		StateAwaitingNewCorrectAnswer,
		StateAwaitingRemoval,
		StateAwaitingPollID,
	}, Dst: StateIdle},
	{Name: evCancel, Src: busyStates, Dst: StateIdle},
}

// Origin identifies who sent an input and where replies go.
type Origin struct {
	UserID int64
	ChatID int64
	Name   string
}

type Button struct {
	Text   string
	Action domain.Action
}

type Reply struct {
	Text string
	// Buttons are laid out one slice per row.
	Buttons [][]Button
}

// Replier sends a reply to a chat.
type Replier interface {
	Reply(ctx context.Context, chatID int64, r Reply) error
}

type Extractor interface {
	Extract(ctx context.Context, link string) (domain.Draft, error)
}

// Ranking returns the best users by correct answers.
type Ranking interface {
	GetLeaderboard(ctx context.Context) (*domain.Leaderboard, error)
}

// Delivery is the part of the delivery scheduler the play commands use.
type Delivery interface {
	SendSingle(ctx context.Context, destination int64, q domain.Question) (string, error)
	StartMarathon(ctx context.Context, destination int64, qs []domain.Question, interval time.Duration) (*delivery.MarathonRun, error)
	Cancel(destination int64) bool
}

// Session is one user's conversation. Fields are guarded by mu.
type Session struct {
	mu sync.Mutex

	UserID       int64
	ChatID       int64
	Draft        domain.Draft
	CreatedAt    time.Time
	LastActivity time.Time

	machine *fsm.FSM
	// closed is set once the session left the engine's map; holders must look it up again.
	closed bool
}

func newSession(o Origin, now time.Time) *Session {
	s := &Session{
		UserID:       o.UserID,
		ChatID:       o.ChatID,
		CreatedAt:    now,
		LastActivity: now,
	}

	s.machine = fsm.NewFSM(StateIdle, transitions, fsm.Callbacks{
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			slog.DebugContext(ctx, "session: state changed",
				"user_id", s.UserID, "event", e.Event, "from", e.Src, "to", e.Dst)
		},
	})

	return s
}

func (s *Session) state() string {
	return s.machine.Current()
}

func (s *Session) fire(ctx context.Context, ev string) error {
	if err := s.machine.Event(ctx, ev); err != nil {
		return errors.Internal(fmt.Errorf("session: event %s in state %s: %w", ev, s.state(), err))
	}
	return nil
}

type Config struct {
	Questions question.Store
	Stats     stats.Store
	Extractor Extractor
	Delivery  Delivery
	Replier   Replier
	EventBus  *event.Bus
	// Ranking is optional; /top reports it as unavailable without one.
	Ranking   Ranking

	// IdleTimeout is how long an unfinished flow survives without input.
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	// MarathonInterval is the delay between questions of /play <id>.
	MarathonInterval time.Duration
	// ListPerCategory bounds how many questions /list shows per category.
	ListPerCategory int
	// Now defaults to time.Now.
	Now func() time.Time
}

const (
	defaultIdleTimeout     = 15 * time.Minute
	defaultReapInterval    = time.Minute
	defaultListPerCategory = 5
	selectionLimit         = 10
)

type Engine struct {
	questions question.Store
	stats     stats.Store
	extractor Extractor
	delivery  Delivery
	replier   Replier
	ranking   Ranking
	eb        *event.Bus

	idleTimeout      time.Duration
	reapInterval     time.Duration
	marathonInterval time.Duration
	listPerCategory  int
	now              func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewEngine(c Config) *Engine {
	e := &Engine{
		questions:        c.Questions,
		stats:            c.Stats,
		extractor:        c.Extractor,
		delivery:         c.Delivery,
		replier:          c.Replier,
		ranking:          c.Ranking,
		eb:               c.EventBus,
		idleTimeout:      c.IdleTimeout,
		reapInterval:     c.ReapInterval,
		marathonInterval: c.MarathonInterval,
		listPerCategory:  c.ListPerCategory,
		now:              c.Now,
		sessions:         make(map[int64]*Session),
	}

	if e.idleTimeout <= 0 {
		e.idleTimeout = defaultIdleTimeout
	}
	if e.reapInterval <= 0 {
		e.reapInterval = defaultReapInterval
	}
	if e.marathonInterval <= 0 {
		e.marathonInterval = delivery.DefaultInterval
	}
	if e.listPerCategory <= 0 {
		e.listPerCategory = defaultListPerCategory
	}
	if e.now == nil {
		e.now = time.Now
	}

	return e
}

// State returns the user's current state; users without a session are idle.
func (e *Engine) State(userID int64) string {
	e.mu.Lock()
	s, ok := e.sessions[userID]
	e.mu.Unlock()
	if !ok {
		return StateIdle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StateIdle
	}
	return s.state()
}

// Len returns the number of sessions held in memory.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// acquire returns the user's session locked, creating it if needed.
func (e *Engine) acquire(o Origin) *Session {
	for {
		e.mu.Lock()
		s, ok := e.sessions[o.UserID]
		if !ok {
			s = newSession(o, e.now())
			e.sessions[o.UserID] = s
			telemetry.ActiveSessions.Set(float64(len(e.sessions)))
		}
		e.mu.Unlock()

		s.mu.Lock()
		if !s.closed {
			s.ChatID = o.ChatID
			return s
		}
		s.mu.Unlock()
	}
}

// release records activity and unlocks. Sessions back in idle hold nothing worth keeping.
func (e *Engine) release(s *Session) {
	s.LastActivity = e.now()
	if s.state() == StateIdle {
		s.closed = true
		e.mu.Lock()
		if e.sessions[s.UserID] == s {
			delete(e.sessions, s.UserID)
		}
		telemetry.ActiveSessions.Set(float64(len(e.sessions)))
		e.mu.Unlock()
	}
	s.mu.Unlock()
}

// Run reaps idle sessions until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	t := time.NewTicker(e.reapInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.Reap(ctx)
		}
	}
}

// Reap drops sessions without input for longer than the idle timeout and tells their
// users the unfinished flow was discarded. Sessions busy handling input are skipped.
func (e *Engine) Reap(ctx context.Context) int {
	cutoff := e.now().Add(-e.idleTimeout)

	type expired struct {
		userID, chatID int64
		state          string
	}
	var dropped []expired

	e.mu.Lock()
	for id, s := range e.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if s.LastActivity.Before(cutoff) {
			s.closed = true
			delete(e.sessions, id)
			dropped = append(dropped, expired{userID: s.UserID, chatID: s.ChatID, state: s.state()})
		}
		s.mu.Unlock()
	}
	telemetry.ActiveSessions.Set(float64(len(e.sessions)))
	e.mu.Unlock()

	for _, d := range dropped {
		telemetry.ReapedSessions.Inc()
		slog.InfoContext(ctx, "session: reaped idle session", "user_id", d.userID, "state", d.state)
		if d.state == StateIdle {
			continue
		}
		if err := e.replier.Reply(ctx, d.chatID, Reply{Text: msgExpired}); err != nil {
			slog.ErrorContext(ctx, "session: notify expired session", "user_id", d.userID, "error", err)
		}
	}

	return len(dropped)
}

func (e *Engine) say(ctx context.Context, o Origin, text string, buttons ...[]Button) error {
	if err := e.replier.Reply(ctx, o.ChatID, Reply{Text: text, Buttons: buttons}); err != nil {
		return fmt.Errorf("session: reply to %d: %w", o.ChatID, err)
	}
	return nil
}

// sayErr replies text and returns cause, or the reply failure if there was one.
func (e *Engine) sayErr(ctx context.Context, o Origin, cause error, text string, buttons ...[]Button) error {
	if err := e.say(ctx, o, text, buttons...); err != nil {
		slog.ErrorContext(ctx, "session: reply failed", "user_id", o.UserID, "error", err)
	}
	return cause
}

// storeFailed reports a store failure without touching the session state.
func (e *Engine) storeFailed(ctx context.Context, o Origin, err error) error {
	slog.ErrorContext(ctx, "session: store operation failed", "user_id", o.UserID, "error", err)
	return e.sayErr(ctx, o, err, msgStoreFailed)
}
