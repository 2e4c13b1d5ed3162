package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy is one way of reading a quiz out of a link.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, t *Target) (Result, error)
}

type Result struct {
	Question string
	Options  []string
}

func (r Result) complete() bool {
	return strings.TrimSpace(r.Question) != "" && len(r.Options) >= 2
}

var errNoQuiz = errors.New("no quiz found")

const (
	selPollQuestion = ".tgme_widget_message_poll_question"
	selPollOption   = ".tgme_widget_message_poll_option_text"
	selMessageText  = ".tgme_widget_message_text"
)

var (
	optionMarker = regexp.MustCompile(`^(?:[A-Za-z0-9]\)\s*|[A-Za-z0-9]\.\s+)`)
	messagePath  = regexp.MustCompile(`^/([^/]+)/(\d+)/?$`)
)

// PollMarkup reads the poll widget of a public message preview.
type PollMarkup struct{}

func (PollMarkup) Name() string { return "poll_markup" }

func (PollMarkup) Extract(ctx context.Context, t *Target) (Result, error) {
	doc, err := t.Document(ctx)
	if err != nil {
		return Result{}, err
	}

	return pollWidget(doc)
}

func pollWidget(doc *goquery.Document) (Result, error) {
	r := Result{Question: strings.TrimSpace(doc.Find(selPollQuestion).First().Text())}
	doc.Find(selPollOption).Each(func(_ int, s *goquery.Selection) {
		if o := strings.TrimSpace(s.Text()); o != "" {
			r.Options = append(r.Options, o)
		}
	})

	if !r.complete() {
		return Result{}, errNoQuiz
	}
	return r, nil
}

// EmbeddedView re-fetches /<channel>/<id>?embed=1 on the link's host. It only runs when
// the link contains one of Keywords, since most links have nothing to gain from it.
type EmbeddedView struct {
	Keywords []string
}

func (EmbeddedView) Name() string { return "embedded_view" }

func (s EmbeddedView) Extract(ctx context.Context, t *Target) (Result, error) {
	if !containsAny(t.Link.String(), s.Keywords) {
		return Result{}, fmt.Errorf("skipped: %w", errNoQuiz)
	}

	m := messagePath.FindStringSubmatch(t.Link.Path)
	if m == nil {
		return Result{}, fmt.Errorf("not a message link: %w", errNoQuiz)
	}

	embed := *t.Link
	embed.Path = fmt.Sprintf("/%s/%s", m[1], m[2])
	embed.RawQuery = "embed=1"
	embed.Fragment = ""

	doc, err := t.Fetch(ctx, embed.String())
	if err != nil {
		return Result{}, err
	}

	if r, err := pollWidget(doc); err == nil {
		return r, nil
	}

	if r, ok := markedMessage(doc); ok {
		return r, nil
	}

	// Some channels post the question as the page title and one option per paragraph.
	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	if containsAny(title, []string{"quiz"}) {
		r := Result{Question: strings.TrimSpace(title)}
		doc.Find(selMessageText + " p").Each(func(_ int, p *goquery.Selection) {
			if o := strings.TrimSpace(p.Text()); o != "" {
				r.Options = append(r.Options, o)
			}
		})
		if r.complete() {
			return r, nil
		}
	}

	return Result{}, errNoQuiz
}

// markedMessage reads "question\nA) one\nB) two" style message text.
// A "1." marker needs a space after it so "5.5 kg" keeps its number.
func markedMessage(doc *goquery.Document) (Result, bool) {
	sel := doc.Find(selMessageText).First()
	if sel.Length() == 0 {
		return Result{}, false
	}

	var text strings.Builder
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "br" {
			text.WriteByte('\n')
			return
		}
		text.WriteString(c.Text())
	})

	var lines []string
	for _, l := range strings.Split(text.String(), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 3 {
		return Result{}, false
	}

	r := Result{Question: lines[0]}
	for _, l := range lines[1:] {
		if o := optionMarker.ReplaceAllString(l, ""); o != "" {
			r.Options = append(r.Options, o)
		}
	}

	return r, r.complete()
}

// Metadata uses og:title as the question when it contains one of Keywords,
// and the distinct comma or line separated fragments of og:description as options.
type Metadata struct {
	Keywords []string
}

func (Metadata) Name() string { return "metadata" }

func (s Metadata) Extract(ctx context.Context, t *Target) (Result, error) {
	doc, err := t.Document(ctx)
	if err != nil {
		return Result{}, err
	}

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	desc, _ := doc.Find(`meta[property="og:description"]`).Attr("content")
	title, desc = strings.TrimSpace(title), strings.TrimSpace(desc)
	if title == "" || desc == "" || !containsAny(title, s.Keywords) {
		return Result{}, errNoQuiz
	}

	r := Result{Question: title}
	seen := make(map[string]bool)
	for _, f := range strings.FieldsFunc(desc, func(c rune) bool { return c == ',' || c == '\n' }) {
		f = strings.TrimSpace(f)
		if f == "" || seen[strings.ToLower(f)] {
			continue
		}
		seen[strings.ToLower(f)] = true
		r.Options = append(r.Options, f)
	}

	if !r.complete() {
		return Result{}, errNoQuiz
	}
	return r, nil
}

// StructuredData scans ld+json blocks for an object carrying a question and its options,
// either as {question, options} or as a schema.org Question with suggested/accepted answers.
type StructuredData struct{}

func (StructuredData) Name() string { return "structured_data" }

func (StructuredData) Extract(ctx context.Context, t *Target) (Result, error) {
	doc, err := t.Document(ctx)
	if err != nil {
		return Result{}, err
	}

	var found Result
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return true
		}
		found = findQuiz(v)
		return !found.complete()
	})

	if !found.complete() {
		return Result{}, errNoQuiz
	}
	return found, nil
}

func findQuiz(v any) Result {
	switch v := v.(type) {
	case []any:
		for _, item := range v {
			if r := findQuiz(item); r.complete() {
				return r
			}
		}
	case map[string]any:
		if r := quizObject(v); r.complete() {
			return r
		}
		for _, child := range v {
			if r := findQuiz(child); r.complete() {
				return r
			}
		}
	}

	return Result{}
}

func quizObject(m map[string]any) Result {
	var r Result
	for _, k := range []string{"question", "name", "text"} {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			r.Question = strings.TrimSpace(s)
			break
		}
	}
	if r.Question == "" {
		return Result{}
	}

	if opts, ok := m["options"].([]any); ok {
		for _, o := range opts {
			if s := answerText(o); s != "" {
				r.Options = append(r.Options, s)
			}
		}
		return r
	}

	for _, k := range []string{"suggestedAnswer", "acceptedAnswer"} {
		switch a := m[k].(type) {
		case []any:
			for _, o := range a {
				r.Options = appendDistinct(r.Options, answerText(o))
			}
		default:
			r.Options = appendDistinct(r.Options, answerText(a))
		}
	}

	return r
}

func answerText(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		for _, k := range []string{"text", "name"} {
			if s, ok := v[k].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func appendDistinct(opts []string, s string) []string {
	if s == "" {
		return opts
	}
	for _, o := range opts {
		if o == s {
			return opts
		}
	}
	return append(opts, s)
}

func containsAny(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, k := range keywords {
		if k != "" && strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
