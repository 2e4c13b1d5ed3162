// Package extract turns an external link into a draft question by trying an ordered
// chain of strategies. The first strategy that yields a question and two options wins.
package extract

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sourcegraph/conc/panics"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
	"github.com/victornm/quizbot/internal/telemetry"
)

const (
	defaultStrategyTimeout = 8 * time.Second
	defaultTotalTimeout    = 25 * time.Second
	defaultCacheSize       = 256
	defaultCacheTTL        = 10 * time.Minute
)

var (
	DefaultEmbedKeywords = []string{"quiz", "gk", "rajsthangk"}
	DefaultTitleKeywords = []string{"quiz"}
)

type Config struct {
	Fetcher Fetcher
	// Strategies run in order. Defaults to DefaultStrategies(DefaultEmbedKeywords, DefaultTitleKeywords).
	Strategies      []Strategy
	StrategyTimeout time.Duration
	TotalTimeout    time.Duration
	// CacheSize bounds how many successful extractions are remembered for CacheTTL.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultStrategies returns the production chain in priority order.
func DefaultStrategies(embedKeywords, titleKeywords []string) []Strategy {
	return []Strategy{
		PollMarkup{},
		EmbeddedView{Keywords: embedKeywords},
		Metadata{Keywords: titleKeywords},
		StructuredData{},
	}
}

type Extractor struct {
	fetcher         Fetcher
	strategies      []Strategy
	strategyTimeout time.Duration
	totalTimeout    time.Duration
	cache           *expirable.LRU[string, Result]
}

func New(c Config) *Extractor {
	e := &Extractor{
		fetcher:         c.Fetcher,
		strategies:      c.Strategies,
		strategyTimeout: c.StrategyTimeout,
		totalTimeout:    c.TotalTimeout,
	}

	if e.fetcher == nil {
		e.fetcher = HTTPFetcher{}
	}
	if e.strategies == nil {
		e.strategies = DefaultStrategies(DefaultEmbedKeywords, DefaultTitleKeywords)
	}
	if e.strategyTimeout <= 0 {
		e.strategyTimeout = defaultStrategyTimeout
	}
	if e.totalTimeout <= 0 {
		e.totalTimeout = defaultTotalTimeout
	}

	size, ttl := c.CacheSize, c.CacheTTL
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	e.cache = expirable.NewLRU[string, Result](size, nil, ttl)

	return e
}

// Extract returns a draft whose CorrectIndex is always 0; the user must confirm it.
// It fails with CodeUnavailable when the link is unusable or every strategy comes up empty.
func (e *Extractor) Extract(ctx context.Context, link string) (domain.Draft, error) {
	u, err := parseLink(link)
	if err != nil {
		return domain.Draft{}, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("%q is not a link", link),
			errors.WithCause(err))
	}

	if r, ok := e.cache.Get(u.String()); ok {
		return draft(r), nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.totalTimeout)
	defer cancel()

	t := newTarget(u, e.fetcher)
	var errs []error
	for _, s := range e.strategies {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		r, err := e.run(ctx, s, t)
		if err == nil && r.complete() {
			telemetry.ExtractStrategyResults.WithLabelValues(s.Name(), "ok").Inc()
			slog.InfoContext(ctx, "extract: quiz found", "strategy", s.Name(), "link", link, "options", len(r.Options))
			e.cache.Add(u.String(), r)
			return draft(r), nil
		}

		if err == nil {
			err = errNoQuiz
		}
		telemetry.ExtractStrategyResults.WithLabelValues(s.Name(), outcome(err)).Inc()
		slog.DebugContext(ctx, "extract: strategy failed", "strategy", s.Name(), "link", link, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}

	slog.WarnContext(ctx, "extract: could not extract quiz", "link", link)
	return domain.Draft{}, errors.New(errors.CodeUnavailable,
		errors.WithMessagef("could not extract a quiz from %s", link),
		errors.WithCause(stderrors.Join(errs...)))
}

var errStrategyPanic = stderrors.New("strategy panicked")

// run executes one strategy under its own timeout. A strategy that ignores its
// context is abandoned when the timeout fires; its goroutine finishes on its own.
func (e *Extractor) run(ctx context.Context, s Strategy, t *Target) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.strategyTimeout)
	defer cancel()

	type attempt struct {
		r   Result
		err error
	}
	done := make(chan attempt, 1)

	go func() {
		var (
			o  attempt
			pc panics.Catcher
		)
		pc.Try(func() { o.r, o.err = s.Extract(ctx, t) })
		if rec := pc.Recovered(); rec != nil {
			o.err = fmt.Errorf("%w: %w", errStrategyPanic, rec.AsError())
		}
		done <- o
	}()

	select {
	case o := <-done:
		return o.r, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func outcome(err error) string {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case stderrors.Is(err, errStrategyPanic):
		return "panic"
	case stderrors.Is(err, errNoQuiz):
		return "empty"
	default:
		return "error"
	}
}

func parseLink(link string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, stderrors.New("missing host")
	}
	return u, nil
}

func draft(r Result) domain.Draft {
	correct := 0
	return domain.Draft{
		QuestionText: r.Question,
		Options:      append([]string(nil), r.Options...),
		CorrectIndex: &correct,
	}
}
