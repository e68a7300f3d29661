package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"HNSummaries/internal/logging"
	"HNSummaries/internal/ports"
)

// ContentFetcher downloads article and discussion pages and extracts their
// text. It never returns an error: failures are logged and yield "".
type ContentFetcher struct {
	client    *http.Client
	base      *url.URL
	userAgent string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ ports.ContentFetcher = (*ContentFetcher)(nil)

// ContentFetcherOptions configures NewContentFetcher.
type ContentFetcherOptions struct {
	Timeout           time.Duration
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64
	Client            *http.Client
	Logger            *slog.Logger
}

// NewContentFetcher builds a fetcher; RequestsPerSecond <= 0 disables throttling.
func NewContentFetcher(opts ContentFetcherOptions) *ContentFetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = hackerNewsBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		base, _ = url.Parse(hackerNewsBaseURL)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "HNSummaries/1.0"
	}

	return &ContentFetcher{
		client:    client,
		base:      base,
		userAgent: userAgent,
		limiter:   limiter,
		logger:    logger,
	}
}

// FetchArticleText joins every paragraph on the page, falling back to the
// whole body text when the page has no paragraph content.
func (f *ContentFetcher) FetchArticleText(ctx context.Context, rawURL string) string {
	doc, err := f.fetch(ctx, rawURL)
	if err != nil {
		f.logger.Warn("article fetch failed", "url", rawURL, "error", err)
		return ""
	}

	text := joinText(doc.Find("p"))
	if text != "" {
		return text
	}

	doc.Find("script, style, noscript").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		return normalizeSpace(doc.Text())
	}
	return normalizeSpace(body.Text())
}

// FetchDiscussionText joins every comment body in the discussion thread.
func (f *ContentFetcher) FetchDiscussionText(ctx context.Context, rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return ""
	}

	doc, err := f.fetch(ctx, rawURL)
	if err != nil {
		f.logger.Warn("discussion fetch failed", "url", rawURL, "error", err)
		return ""
	}

	return joinText(doc.Find(".comment-tree .commtext"))
}

func (f *ContentFetcher) fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	target, err := f.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// resolve turns listing-relative links (e.g. "item?id=1") into absolute URLs.
func (f *ContentFetcher) resolve(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("empty url")
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	abs := f.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", abs.Scheme)
	}
	return abs.String(), nil
}

func joinText(sel *goquery.Selection) string {
	parts := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := normalizeSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}
