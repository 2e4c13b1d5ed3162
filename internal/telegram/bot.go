// Package telegram connects the session engine and the delivery scheduler to the Telegram
// Bot API. Updates are routed per user through a Dispatcher, so one user's inputs are
// handled in order while different users are served concurrently.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/victornm/quizbot/internal/delivery"
	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
	"github.com/victornm/quizbot/internal/session"
	"github.com/victornm/quizbot/internal/telemetry"
)

const (
	defaultUpdateTimeout = 60

	msgStaleButton  = "This button is no longer active."
	msgNoActiveQuiz = "Nothing to grade: this quiz is no longer active. Use /play for a new one."
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Sessions interface {
	HandleCommand(ctx context.Context, o session.Origin, name, args string) error
	HandleText(ctx context.Context, o session.Origin, text string) error
	HandleAction(ctx context.Context, o session.Origin, a domain.Action) error
	HandlePoll(ctx context.Context, o session.Origin, text string, options []string) error
}

type Grader interface {
	Grade(ctx context.Context, req delivery.GradeRequest) (*delivery.GradeResponse, error)
}

type Config struct {
	API      API
	Sessions Sessions
	Grader   Grader
	// Workers bounds how many updates are handled at once.
	Workers int
	// UpdateTimeout is the long polling timeout in seconds.
	UpdateTimeout int
}

type Bot struct {
	api           API
	sessions      Sessions
	grader        Grader
	dispatcher    *Dispatcher
	updateTimeout int
}

// NewBot builds a bot. Sessions and Grader may be set later with Bind, since the session
// engine and the scheduler themselves need the bot as their transport.
func NewBot(c Config) *Bot {
	b := &Bot{
		api:           c.API,
		sessions:      c.Sessions,
		grader:        c.Grader,
		dispatcher:    NewDispatcher(c.Workers),
		updateTimeout: c.UpdateTimeout,
	}
	if b.updateTimeout <= 0 {
		b.updateTimeout = defaultUpdateTimeout
	}

	return b
}

func (b *Bot) Bind(s Sessions, g Grader) {
	b.sessions = s
	b.grader = g
}

// Run receives updates until ctx is done or the update channel closes, then waits for
// in-flight handlers.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.updateTimeout

	updates := b.api.GetUpdatesChan(u)
	defer b.dispatcher.Stop()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			key, ok := userOf(update)
			if !ok {
				continue
			}
			b.dispatcher.Dispatch(ctx, key, func(ctx context.Context) {
				b.Handle(ctx, update)
			})
		}
	}
}

// Handle routes one update.
func (b *Bot) Handle(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()

	var (
		kind string
		err  error
	)
	switch {
	case update.Message != nil && update.Message.Poll != nil:
		kind = "poll"
		err = b.handlePoll(ctx, update.Message)
	case update.Message != nil && update.Message.IsCommand():
		kind = "command"
		m := update.Message
		err = b.sessions.HandleCommand(ctx, origin(m.From, m.Chat), m.Command(), m.CommandArguments())
	case update.Message != nil && update.Message.Text != "":
		kind = "text"
		m := update.Message
		err = b.sessions.HandleText(ctx, origin(m.From, m.Chat), m.Text)
	case update.CallbackQuery != nil:
		kind = "callback"
		err = b.handleCallback(ctx, update.CallbackQuery)
	case update.PollAnswer != nil:
		kind = "poll_answer"
		err = b.handlePollAnswer(ctx, update.PollAnswer)
	default:
		return
	}

	telemetry.UpdatesHandled.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	logResult(ctx, kind, update.UpdateID, err)
}

func (b *Bot) handlePoll(ctx context.Context, m *tgbotapi.Message) error {
	options := make([]string, 0, len(m.Poll.Options))
	for _, o := range m.Poll.Options {
		options = append(options, o.Text)
	}

	return b.sessions.HandlePoll(ctx, origin(m.From, m.Chat), m.Poll.Question, options)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		slog.ErrorContext(ctx, "telegram: answer callback failed", "error", err)
	}

	if cb.Message == nil {
		return errors.Validation("callback %s without a message", cb.ID)
	}

	o := origin(cb.From, cb.Message.Chat)
	a, err := domain.ParseAction(cb.Data)
	if err != nil {
		if serr := b.SendText(ctx, o.ChatID, msgStaleButton); serr != nil {
			slog.ErrorContext(ctx, "telegram: reply failed", "error", serr)
		}
		return err
	}

	return b.sessions.HandleAction(ctx, o, a)
}

// handlePollAnswer grades a vote on a delivered quiz. Votes carry no chat, so the voter's
// private chat stands in as the destination.
func (b *Bot) handlePollAnswer(ctx context.Context, pa *tgbotapi.PollAnswer) error {
	if len(pa.OptionIDs) == 0 {
		return nil
	}

	resp, err := b.grader.Grade(ctx, delivery.GradeRequest{
		PollRef:     pa.PollID,
		Destination: pa.User.ID,
		UserID:      strconv.FormatInt(pa.User.ID, 10),
		DisplayName: displayName(&pa.User),
		Selected:    pa.OptionIDs[0],
	})
	if errors.HasCode(err, errors.CodeFailedPrecondition) {
		if serr := b.SendText(ctx, pa.User.ID, msgNoActiveQuiz); serr != nil {
			slog.ErrorContext(ctx, "telegram: reply failed", "error", serr)
		}
		return err
	}
	if err != nil {
		return err
	}

	text := "❌ Wrong!"
	if resp.Correct {
		text = "✅ Correct!"
	}
	text += fmt.Sprintf(" Score: %d/%d (%s%%)", resp.Stat.Correct, resp.Stat.Total, resp.Stat.Accuracy().StringFixed(1))

	return b.SendText(ctx, pa.User.ID, text)
}

func (b *Bot) SendText(ctx context.Context, destination int64, text string) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(destination, text)); err != nil {
		return fmt.Errorf("telegram: send message to %d: %w", destination, err)
	}
	return nil
}

// SendQuiz posts q as a non-anonymous quiz poll and returns the poll id answers will carry.
func (b *Bot) SendQuiz(ctx context.Context, destination int64, q domain.Question) (string, error) {
	p := tgbotapi.NewPoll(destination, q.Text, q.Options...)
	p.Type = "quiz"
	p.IsAnonymous = false
	p.CorrectOptionID = int64(q.CorrectIndex)

	m, err := b.api.Send(p)
	if err != nil {
		return "", fmt.Errorf("telegram: send quiz %d to %d: %w", q.ID, destination, err)
	}
	if m.Poll == nil {
		return "", fmt.Errorf("telegram: send quiz %d to %d: response carries no poll", q.ID, destination)
	}

	return m.Poll.ID, nil
}

// Reply sends r with its buttons as an inline keyboard.
func (b *Bot) Reply(ctx context.Context, chatID int64, r session.Reply) error {
	msg := tgbotapi.NewMessage(chatID, r.Text)
	if len(r.Buttons) > 0 {
		msg.ReplyMarkup = keyboard(r.Buttons)
	}

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: reply to %d: %w", chatID, err)
	}
	return nil
}

func keyboard(buttons [][]session.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			r = append(r, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Action.Encode()))
		}
		rows = append(rows, r)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// userOf returns the id of the user an update belongs to.
func userOf(u tgbotapi.Update) (int64, bool) {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID, true
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID, true
	case u.PollAnswer != nil:
		return u.PollAnswer.User.ID, true
	}
	return 0, false
}

func origin(from *tgbotapi.User, chat *tgbotapi.Chat) session.Origin {
	var o session.Origin
	if from != nil {
		o.UserID = from.ID
		o.Name = from.FirstName
	}
	if chat != nil {
		o.ChatID = chat.ID
	} else {
		o.ChatID = o.UserID
	}
	return o
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

// logResult logs handler failures. Input errors were already answered in chat.
func logResult(ctx context.Context, kind string, id int, err error) {
	switch {
	case err == nil:
		return
	case errors.HasCode(err, errors.CodeInvalidArgument),
		errors.HasCode(err, errors.CodeNotFound),
		errors.HasCode(err, errors.CodeFailedPrecondition):
		slog.DebugContext(ctx, "telegram: update rejected", "kind", kind, "update_id", id, "error", err)
	default:
		slog.ErrorContext(ctx, "telegram: handle update failed", "kind", kind, "update_id", id, "error", err)
	}
}
