package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	defaultMaxBytes  = 2 << 20
)

// Fetcher retrieves the raw body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher fetches pages over HTTP with a browser user agent, since preview
// pages serve stripped markup to unknown clients.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

func (f HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	ua := f.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	return body, nil
}

// Target is the link being extracted. Pages fetched through it are memoised for
// the lifetime of a single Extract call, so strategies reading the same page share one GET.
type Target struct {
	Link *url.URL

	fetcher Fetcher
	mu      sync.Mutex
	pages   map[string]*page
}

type page struct {
	doc *goquery.Document
	err error
}

func newTarget(link *url.URL, f Fetcher) *Target {
	return &Target{
		Link:    link,
		fetcher: f,
		pages:   make(map[string]*page),
	}
}

// Document returns the parsed page behind the link itself.
func (t *Target) Document(ctx context.Context) (*goquery.Document, error) {
	return t.Fetch(ctx, t.Link.String())
}

// Fetch returns the parsed page behind rawURL. Failures are memoised too, except
// those caused by the caller's context ending.
func (t *Target) Fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pages[rawURL]; ok {
		return p.doc, p.err
	}

	body, err := t.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		if ctx.Err() == nil {
			t.pages[rawURL] = &page{err: err}
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	t.pages[rawURL] = &page{doc: doc, err: err}

	return doc, err
}
