// Package delivery sends quizzes to chats, runs timed marathons and grades answers.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
	"github.com/victornm/quizbot/internal/event"
	"github.com/victornm/quizbot/internal/stats"
	"github.com/victornm/quizbot/internal/telemetry"
)

const DefaultInterval = 15 * time.Second

// Transport is the part of the chat client the scheduler needs.
type Transport interface {
	SendText(ctx context.Context, destination int64, text string) error
	// SendQuiz delivers q as a gradable poll and returns a reference answers will carry.
	SendQuiz(ctx context.Context, destination int64, q domain.Question) (string, error)
}

type Config struct {
	Transport Transport
	Keys      AnswerKeys
	Stats     stats.Store
	EventBus  *event.Bus
	// Interval is used by marathons started without one.
	Interval time.Duration
}

type Scheduler struct {
	transport Transport
	keys      AnswerKeys
	stats     stats.Store
	eb        *event.Bus
	interval  time.Duration

	mu      sync.Mutex
	runs    map[int64]*MarathonRun
	stopped bool
	wg      sync.WaitGroup
}

func NewScheduler(c Config) *Scheduler {
	s := &Scheduler{
		transport: c.Transport,
		keys:      c.Keys,
		stats:     c.Stats,
		eb:        c.EventBus,
		interval:  c.Interval,
		runs:      make(map[int64]*MarathonRun),
	}

	if s.keys == nil {
		s.keys = NewMemoryKeys()
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}

	return s
}

// SendSingle delivers one gradable quiz and records its answer key.
func (s *Scheduler) SendSingle(ctx context.Context, destination int64, q domain.Question) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}

	ref, err := s.deliver(ctx, destination, q)
	if err != nil {
		return "", err
	}

	telemetry.QuizzesDelivered.WithLabelValues("single").Inc()
	return ref, nil
}

func (s *Scheduler) deliver(ctx context.Context, destination int64, q domain.Question) (string, error) {
	ref, err := s.transport.SendQuiz(ctx, destination, q)
	if err != nil {
		return "", errors.New(errors.CodeUnavailable,
			errors.WithMessagef("could not send question %d", q.ID),
			errors.WithCause(err))
	}

	k := AnswerKey{PollRef: ref, Destination: destination, QuestionID: q.ID, CorrectIndex: q.CorrectIndex}
	if err := s.keys.Put(ctx, k); err != nil {
		return "", errors.Internal(fmt.Errorf("delivery: record answer key: %w", err))
	}

	return ref, nil
}

// MarathonRun is one timed sequence of quizzes bound to a destination.
type MarathonRun struct {
	ID          uuid.UUID
	Destination int64
	Interval    time.Duration

	questions []domain.Question
	cancel    context.CancelFunc
	done      chan struct{}

	// written by the run goroutine, readable once done is closed
	delivered int
	cancelled bool
}

// Done is closed when the run has finished or was cancelled.
func (r *MarathonRun) Done() <-chan struct{} {
	return r.done
}

// Delivered reports how many quizzes were sent. Only meaningful after Done.
func (r *MarathonRun) Delivered() int {
	return r.delivered
}

func (r *MarathonRun) Cancelled() bool {
	return r.cancelled
}

// StartMarathon sends qs[0] at once and each following question interval after the
// previous delivery. A run already bound to destination is cancelled first.
func (s *Scheduler) StartMarathon(ctx context.Context, destination int64, qs []domain.Question, interval time.Duration) (*MarathonRun, error) {
	if len(qs) == 0 {
		return nil, errors.Validation("a marathon needs at least one question")
	}
	for _, q := range qs {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}
	if interval <= 0 {
		interval = s.interval
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("delivery: generate run id: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &MarathonRun{
		ID:          id,
		Destination: destination,
		Interval:    interval,
		questions:   append([]domain.Question(nil), qs...),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("scheduler is stopped"))
	}
	prev := s.runs[destination]
	s.runs[destination] = run
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	telemetry.ActiveMarathons.Inc()
	go s.runMarathon(runCtx, run)

	slog.InfoContext(ctx, "delivery: marathon started",
		"run_id", run.ID, "destination", destination, "questions", len(qs), "interval", interval)
	return run, nil
}

func (s *Scheduler) runMarathon(ctx context.Context, run *MarathonRun) {
	defer func() {
		s.mu.Lock()
		if s.runs[run.Destination] == run {
			delete(s.runs, run.Destination)
		}
		s.mu.Unlock()

		telemetry.ActiveMarathons.Dec()
		s.eb.Publish(ctx, domain.EventMarathonEnded{
			RunID:       run.ID,
			Destination: run.Destination,
			Delivered:   run.delivered,
			Cancelled:   run.cancelled,
		})

		run.cancel()
		close(run.done)
		s.wg.Done()
	}()

	for i, q := range run.questions {
		if i > 0 {
			timer := time.NewTimer(run.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				run.cancelled = true
				return
			case <-timer.C:
			}
		}

		if ctx.Err() != nil {
			run.cancelled = true
			return
		}

		if _, err := s.deliver(ctx, run.Destination, q); err != nil {
			slog.ErrorContext(ctx, "delivery: marathon delivery failed",
				"run_id", run.ID, "question_id", q.ID, "error", err)
			continue
		}

		run.delivered++
		telemetry.QuizzesDelivered.WithLabelValues("marathon").Inc()
	}

	slog.InfoContext(ctx, "delivery: marathon finished", "run_id", run.ID, "delivered", run.delivered)
}

// Cancel stops the run bound to destination and waits for it. It reports whether one was running.
func (s *Scheduler) Cancel(destination int64) bool {
	s.mu.Lock()
	run := s.runs[destination]
	s.mu.Unlock()

	if run == nil {
		return false
	}

	run.cancel()
	<-run.done
	return true
}

// Running reports whether a marathon is bound to destination.
func (s *Scheduler) Running(destination int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.runs[destination]
	return ok
}

// Stop cancels every run and waits for them to finish. Later marathons are refused.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, run := range s.runs {
		run.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

type GradeRequest struct {
	PollRef string
	// Destination is used to find the latest quiz when the poll is unknown.
	Destination int64
	UserID      string
	DisplayName string
	Selected    int
}

type GradeResponse struct {
	Correct      bool
	CorrectIndex int
	Stat         domain.UserStat
}

// Grade compares an answer with the recorded key and updates the user's counters.
// It fails with CodeFailedPrecondition when there is nothing to grade.
func (s *Scheduler) Grade(ctx context.Context, req GradeRequest) (*GradeResponse, error) {
	k, err := s.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	correct := req.Selected == k.CorrectIndex
	stat, err := s.stats.Record(ctx, req.UserID, req.DisplayName, correct)
	if err != nil {
		return nil, err
	}

	result := "wrong"
	if correct {
		result = "correct"
	}
	telemetry.AnswersGraded.WithLabelValues(result).Inc()

	s.eb.Publish(ctx, domain.EventAnswerGraded{
		Stat:    stat,
		Correct: correct,
	})

	return &GradeResponse{
		Correct:      correct,
		CorrectIndex: k.CorrectIndex,
		Stat:         stat,
	}, nil
}

func (s *Scheduler) lookup(ctx context.Context, req GradeRequest) (AnswerKey, error) {
	if req.PollRef != "" {
		k, ok, err := s.keys.ByPoll(ctx, req.PollRef)
		if err != nil {
			return AnswerKey{}, errors.Internal(fmt.Errorf("delivery: answer key by poll: %w", err))
		}
		if ok {
			return k, nil
		}
	}

	k, ok, err := s.keys.Latest(ctx, req.Destination)
	if err != nil {
		return AnswerKey{}, errors.Internal(fmt.Errorf("delivery: latest answer key: %w", err))
	}
	if !ok {
		return AnswerKey{}, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("nothing to grade"))
	}

	return k, nil
}
